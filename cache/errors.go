package cache

import "errors"

var (
	// ErrInvalidKey marks a malformed PageKey, rejected before any I/O.
	ErrInvalidKey = errors.New("invalid page key")

	// ErrRenderFailure wraps every failure of the rendering engine,
	// including render timeouts. The cache state is unchanged when it is
	// returned.
	ErrRenderFailure = errors.New("render failure")
)
