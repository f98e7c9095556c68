// Package memory provides an in-process map Backend, mainly for tests.
package memory

import (
	"context"
	"sync"

	"github.com/jacentio/roster/store"
)

type record struct {
	doc     []byte
	version int64
}

// Backend keeps documents in memory. The zero value is not usable; call New.
type Backend struct {
	mu     sync.RWMutex
	tables map[string]map[string]record
}

var _ store.Backend = (*Backend)(nil)

// New creates an empty Backend.
func New() *Backend {
	return &Backend{tables: make(map[string]map[string]record)}
}

// Get returns a copy of the stored document and its version.
func (b *Backend) Get(_ context.Context, table, id string) ([]byte, int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, ok := b.tables[table][id]
	if !ok {
		return nil, 0, store.ErrNotFound
	}
	return append([]byte(nil), rec.doc...), rec.version, nil
}

// Insert stores doc under a new id at version 1.
func (b *Backend) Insert(_ context.Context, table, id string, doc []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.table(table)
	if _, exists := t[id]; exists {
		return store.ErrAlreadyExists
	}
	t[id] = record{doc: append([]byte(nil), doc...), version: 1}
	return nil
}

// Replace overwrites an existing document if it is still at version expected.
func (b *Backend) Replace(_ context.Context, table, id string, doc []byte, expected int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, exists := b.tables[table][id]
	if !exists {
		return store.ErrNotFound
	}
	if rec.version != expected {
		return store.ErrConcurrentModification
	}
	b.tables[table][id] = record{doc: append([]byte(nil), doc...), version: expected + 1}
	return nil
}

// Delete removes a document if present.
func (b *Backend) Delete(_ context.Context, table, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.tables[table], id)
	return nil
}

// Keys lists the ids in table.
func (b *Backend) Keys(_ context.Context, table string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0, len(b.tables[table]))
	for id := range b.tables[table] {
		keys = append(keys, id)
	}
	return keys, nil
}

// Put writes doc unconditionally, bypassing the insert/replace checks, and
// bumps the version. Tests use it to plant corrupt documents.
func (b *Backend) Put(table, id string, doc []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.table(table)
	t[id] = record{doc: append([]byte(nil), doc...), version: t[id].version + 1}
}

// table returns the named table, creating it. Callers hold b.mu.
func (b *Backend) table(name string) map[string]record {
	t := b.tables[name]
	if t == nil {
		t = make(map[string]record)
		b.tables[name] = t
	}
	return t
}
