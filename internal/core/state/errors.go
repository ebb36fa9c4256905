package state

import "errors"

var (
	ErrAlreadyRegistered = errors.New("state already registered")
	ErrTypeMismatch      = errors.New("state registered with a different type")
	ErrNotObject         = errors.New("state value does not encode as a JSON object")
)
