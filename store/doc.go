// Package store provides an embedded keyed record store with pluggable persistence.
//
// Each record is an individually addressable document in a table named after its
// entity kind. A [Store] handles one kind and offers create, read, overwrite and
// delete, their batch variants, and per-id locking for read-modify-write cycles.
//
// # Entity Interfaces
//
// Stored types implement [Entity] on the value and SetID on the pointer:
//
//	type Entity interface {
//	    TableName() string
//	    GetID() uuid.UUID
//	    EntityType() string
//	}
//
// The type parameters of [New] are inferred from the value type:
//
//	people := store.New[Person](backend, store.DefaultConfig())
//
// # Backends
//
// A [Backend] persists raw documents. Implementations live under backend/:
// an in-memory map, a directory of JSON files, and DynamoDB tables. Every
// backend makes single-document writes atomic, so readers never observe a
// half-written record.
//
// # Concurrency
//
// Writes that depend on the current value ([Store.Update], [Store.Overwrite],
// [Store.Delete]) are serialized per id. Different ids never share a lock.
// Callers composing operations across stores take locks with [Store.Lock].
//
// Those locks are in-process. Across processes sharing a backend, every
// replace is conditioned on the version that was read; on a mismatch the
// read-modify-write is retried with backoff (see [Config.ConflictRetries]).
//
// # Errors
//
// The package defines domain-specific errors:
//
//   - [ErrNotFound] - operation requires an existing record
//   - [ErrUnknownOwner] - child record references a missing owner
//   - [ErrCorruptRecord] - stored document failed to decode
//   - [ErrWriteFailure] - backend rejected or failed a write
//   - [ErrAlreadyExists] - backend insert hit an existing id
//   - [ErrConcurrentModification] - record kept changing underneath a write
//
// Find and FindMany report absence through their return values, never ErrNotFound.
package store
