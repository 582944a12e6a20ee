package model

import "errors"

var (
	// ErrNotFound signals that a required row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrOrphan signals a write whose parent row does not exist. It is a
	// programming error: parents are always persisted first.
	ErrOrphan = errors.New("parent record missing")
)
