package domain

import "errors"

var (
	ErrInvalidID       = errors.New("invalid id")
	ErrInvalidName     = errors.New("invalid name")
	ErrInvalidTitle    = errors.New("invalid title")
	ErrInvalidLevel    = errors.New("invalid level")
	ErrInvalidParentID = errors.New("invalid parent id")
	ErrInvalidPosition = errors.New("invalid position")
	ErrInvalidWeight   = errors.New("invalid weight")
	ErrInvalidProgress = errors.New("invalid progress")
	ErrInvalidCode     = errors.New("invalid code")
)
