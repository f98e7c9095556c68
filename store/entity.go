package store

import (
	"github.com/google/uuid"
)

// Entity is the base interface for all storable types.
type Entity interface {
	// TableName returns the namespace holding documents of this kind (e.g., "people").
	// Identifiers only need to be unique within a table.
	TableName() string

	// GetID returns the record identifier.
	GetID() uuid.UUID

	// EntityType returns the entity type name (e.g., "person").
	EntityType() string
}

// EntityPtr constrains a pointer to T that implements Entity and accepts a
// store-assigned identifier.
type EntityPtr[T any] interface {
	*T
	Entity

	// SetID assigns the identifier. Only the Store calls this, on Create.
	SetID(id uuid.UUID)
}

// Stats reports counters for a Store.
type Stats struct {
	// CorruptSkipped counts documents skipped by FindMany because they failed to decode.
	CorruptSkipped int64
}
