// Package remote defines the contract between the synchronization core and a
// device backend, and the error classification the retry policy relies on.
package remote

import (
	"context"

	"devicesync/internal/models"
)

// Backend is the remote command interface consumed through the executor.
type Backend interface {
	// ReadState returns the current value of an entity. Idempotent.
	ReadState(ctx context.Context, entityID string) (models.RemoteState, error)

	// WriteState sets the value of an entity and returns what the backend
	// reports afterwards. Not idempotent in general.
	WriteState(ctx context.Context, entityID string, value float64) (models.RemoteState, error)

	// Subscribe opens the push channel. A single stream multiplexes every
	// watched entity. Backends without push return ErrPushUnsupported.
	Subscribe(ctx context.Context) (Stream, error)
}

// Stream is a live push subscription.
type Stream interface {
	// Updates delivers inbound values for watched entities.
	Updates() <-chan models.RemoteState

	// Done is closed when the stream terminates for any reason.
	Done() <-chan struct{}

	// Err reports why the stream terminated. Nil while it is live or
	// after a local Close.
	Err() error

	Watch(entityIDs ...string)
	Unwatch(entityIDs ...string)
	Close() error
}
