package ecs

import "errors"

var (
	ErrEntityNotAlive      = errors.New("entity is not alive")
	ErrComponentAbsent     = errors.New("component not present on entity")
	ErrComponentExists     = errors.New("component type already defined")
	ErrUnknownComponent    = errors.New("unknown component type")
	ErrComponentNotEncoded = errors.New("component type has no JSON codec")
)
