// Package store defines the Conversation Logger's document-store
// boundary: "a log one document keyed by conversation id" interface
// per spec §6, with a Postgres-backed concrete adapter.
package store

import "context"

// DocumentStore persists one conversation document per completed
// session. CreateOne must never overwrite an existing document with
// the same id; the logger writes exactly once per session (§4.7).
type DocumentStore interface {
	CreateOne(ctx context.Context, id, subjectID string, doc []byte) error
}
