package model

import "errors"

// Error kinds shared by the cache, the remote clients and the engine. Layers
// wrap both the kind and the cause, e.g. fmt.Errorf("list teas: %w: %w", ErrRemote, err).
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalid          = errors.New("invalid input")
	ErrStorage          = errors.New("storage failure")
	ErrRemote           = errors.New("remote failure")
	ErrFormat           = errors.New("format error")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrImmutable        = errors.New("record is immutable")
)
