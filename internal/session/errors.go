package session

import "errors"

var (
	// ErrEngineInit is returned by New when the engine factory fails.
	ErrEngineInit = errors.New("engine init failed")

	// ErrDisposed is reported by host code that needs to distinguish a
	// disposed session. Session transport commands never return it.
	ErrDisposed = errors.New("session disposed")
)
