package client

import "github.com/pkg/errors"

var (
	// ErrAlreadyRegistered is returned when an entity is added while it is
	// still registered with a client.
	ErrAlreadyRegistered = errors.New("entity already registered")
	// ErrNotRegistered is returned when removing an entity that this client
	// does not hold.
	ErrNotRegistered   = errors.New("entity not registered")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrClosed          = errors.New("client closed")
	ErrAlreadyRunning  = errors.New("event loop already running")
)
