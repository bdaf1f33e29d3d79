package grpcstore

import "errors"

var (
	// ErrNoEndpoints indicates the provider returned no endpoints for the store service.
	ErrNoEndpoints = errors.New("grpcstore: no endpoints available")
	// ErrClosed is returned by a client after Close.
	ErrClosed = errors.New("grpcstore: client closed")
)
