// Package backend provides storage destinations for fetched photo bytes.
// A delivery is only recorded in the history ledger once every enabled
// backend has confirmed its commit, so each backend must report failures
// honestly and make its writes atomic where the medium allows it.
package backend

import "context"

// Backend commits photo bytes durably under a resolved file name.
type Backend interface {
	// Name identifies the backend in logs and error messages.
	Name() string

	// Commit stores data under name. A nil return means the bytes are
	// durable; an error means nothing usable was stored (partial writes
	// must not survive).
	Commit(ctx context.Context, name string, data []byte) error
}
