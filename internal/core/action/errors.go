package action

import "errors"

var (
	ErrMissingType     = errors.New("action has no type")
	ErrMissingPayload  = errors.New("action has no payload")
	ErrInvalidPayload  = errors.New("action payload failed validation")
	ErrMissingAuthor   = errors.New("remote action has no author")
	ErrUnknownAction   = errors.New("unknown action type")
	ErrDuplicateType   = errors.New("action type already in catalog")
	ErrReceptorExists  = errors.New("receptor already registered")
	ErrPayloadMismatch = errors.New("payload type does not match definition")
)
