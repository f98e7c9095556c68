package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/jacentio/roster/internal/shard"
)

// Store provides keyed CRUD for one entity kind on top of a Backend.
type Store[T any, P EntityPtr[T]] struct {
	backend Backend
	codec   Codec[T]
	config  Config
	locks   *shard.Locks
	table   string
	kind    string

	corruptSkipped atomic.Int64
}

// New creates a new Store for T using the JSON codec.
func New[T any, P EntityPtr[T]](backend Backend, config Config) *Store[T, P] {
	return NewWithCodec[T, P](backend, JSONCodec[T]{}, config)
}

// NewWithCodec creates a new Store for T with a custom document codec.
func NewWithCodec[T any, P EntityPtr[T]](backend Backend, codec Codec[T], config Config) *Store[T, P] {
	config.validate()
	var zero T
	return &Store[T, P]{
		backend: backend,
		codec:   codec,
		config:  config,
		locks:   shard.NewLocks(config.LockShards),
		table:   P(&zero).TableName(),
		kind:    P(&zero).EntityType(),
	}
}

// TableName returns the namespace this store writes to.
func (s *Store[T, P]) TableName() string {
	return s.table
}

// Logger returns the configured logger.
func (s *Store[T, P]) Logger() *slog.Logger {
	return s.config.Logger
}

// Stats returns a snapshot of the store counters.
func (s *Store[T, P]) Stats() Stats {
	return Stats{CorruptSkipped: s.corruptSkipped.Load()}
}

// Lock acquires the per-id lock and returns its release function.
// Compound operations spanning several records use it to serialize with
// Update, Overwrite and Delete on the same id.
func (s *Store[T, P]) Lock(id uuid.UUID) func() {
	return s.locks.Lock(id.String())
}

// Create assigns a fresh identifier to entity and persists it.
func (s *Store[T, P]) Create(ctx context.Context, entity T) (uuid.UUID, error) {
	id := uuid.New()
	P(&entity).SetID(id)

	doc, err := s.codec.Encode(entity)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: encode %s: %v", ErrWriteFailure, s.kind, err)
	}
	if err := s.backend.Insert(ctx, s.table, id.String(), doc); err != nil {
		return uuid.Nil, s.mapWriteError(err, id)
	}
	return id, nil
}

// CreateMany creates each entity in input order.
// It is not atomic: on failure the ids created so far are returned with the error,
// and those records stay persisted.
func (s *Store[T, P]) CreateMany(ctx context.Context, entities []T) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(entities))
	for i, entity := range entities {
		id, err := s.Create(ctx, entity)
		if err != nil {
			return ids, fmt.Errorf("create %s %d of %d: %w", s.kind, i+1, len(entities), err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Find returns the stored entity. The boolean is false if no record exists.
func (s *Store[T, P]) Find(ctx context.Context, id uuid.UUID) (T, bool, error) {
	var zero T
	doc, _, err := s.backend.Get(ctx, s.table, id.String())
	if errors.Is(err, ErrNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("get %s %s: %w", s.kind, id, err)
	}

	entity, err := s.codec.Decode(doc)
	if err != nil {
		return zero, false, fmt.Errorf("decode %s %s: %w", s.kind, id, err)
	}
	return entity, true, nil
}

// FindMany returns the entities that exist among ids, in input order.
// Missing ids are skipped. Corrupt documents are skipped too, but logged and
// counted in Stats so the loss stays visible.
func (s *Store[T, P]) FindMany(ctx context.Context, ids []uuid.UUID) ([]T, error) {
	entities := make([]T, 0, len(ids))
	for _, id := range ids {
		entity, ok, err := s.Find(ctx, id)
		if errors.Is(err, ErrCorruptRecord) {
			s.corruptSkipped.Add(1)
			s.config.Logger.Warn("skipping corrupt record",
				"table", s.table,
				"id", id.String(),
				"error", err,
			)
			continue
		}
		if err != nil {
			return nil, err
		}
		if ok {
			entities = append(entities, entity)
		}
	}
	return entities, nil
}

// Overwrite replaces the stored document for the entity's id.
func (s *Store[T, P]) Overwrite(ctx context.Context, entity T) error {
	id := P(&entity).GetID()
	unlock := s.Lock(id)
	defer unlock()

	doc, err := s.codec.Encode(entity)
	if err != nil {
		return fmt.Errorf("%w: encode %s %s: %v", ErrWriteFailure, s.kind, id, err)
	}
	return s.retryConflicts(ctx, id, func(ctx context.Context) error {
		_, version, err := s.read(ctx, id)
		if err != nil {
			return err
		}
		return s.replace(ctx, id, doc, version)
	})
}

// Update applies fn to the current value of id and stores the result, holding
// the id's lock for the whole read-modify-write. If fn returns an error nothing
// is written.
//
// The write is conditioned on the version that was read. When another process
// sharing the backend wrote first, the record is re-read and fn runs again on
// the fresh value, so fn must not depend on earlier calls.
func (s *Store[T, P]) Update(ctx context.Context, id uuid.UUID, fn func(*T) error) error {
	unlock := s.Lock(id)
	defer unlock()

	return s.UpdateLocked(ctx, id, fn)
}

// UpdateLocked is Update for callers that already hold the id's lock.
func (s *Store[T, P]) UpdateLocked(ctx context.Context, id uuid.UUID, fn func(*T) error) error {
	return s.retryConflicts(ctx, id, func(ctx context.Context) error {
		doc, version, err := s.read(ctx, id)
		if err != nil {
			return err
		}
		entity, err := s.codec.Decode(doc)
		if err != nil {
			return fmt.Errorf("decode %s %s: %w", s.kind, id, err)
		}
		if err := fn(&entity); err != nil {
			return err
		}
		// The identifier is immutable whatever fn did.
		P(&entity).SetID(id)

		doc, err = s.codec.Encode(entity)
		if err != nil {
			return fmt.Errorf("%w: encode %s %s: %v", ErrWriteFailure, s.kind, id, err)
		}
		return s.replace(ctx, id, doc, version)
	})
}

// Delete removes the record. Deleting a missing id succeeds.
func (s *Store[T, P]) Delete(ctx context.Context, id uuid.UUID) error {
	unlock := s.Lock(id)
	defer unlock()

	return s.DeleteLocked(ctx, id)
}

// DeleteLocked is Delete for callers that already hold the id's lock.
func (s *Store[T, P]) DeleteLocked(ctx context.Context, id uuid.UUID) error {
	if err := s.backend.Delete(ctx, s.table, id.String()); err != nil {
		return s.mapWriteError(err, id)
	}
	return nil
}

// IDs lists the identifiers of every stored record.
// Keys that are not valid identifiers are logged and skipped.
func (s *Store[T, P]) IDs(ctx context.Context) ([]uuid.UUID, error) {
	keys, err := s.backend.Keys(ctx, s.table)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.table, err)
	}

	ids := make([]uuid.UUID, 0, len(keys))
	for _, key := range keys {
		id, err := uuid.Parse(key)
		if err != nil {
			s.config.Logger.Warn("skipping foreign key in table",
				"table", s.table,
				"key", key,
			)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// read fetches the raw document and its version; absence is ErrNotFound.
func (s *Store[T, P]) read(ctx context.Context, id uuid.UUID) ([]byte, int64, error) {
	doc, version, err := s.backend.Get(ctx, s.table, id.String())
	if errors.Is(err, ErrNotFound) {
		return nil, 0, fmt.Errorf("%w: %s %s", ErrNotFound, s.kind, id)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get %s %s: %w", s.kind, id, err)
	}
	return doc, version, nil
}

func (s *Store[T, P]) replace(ctx context.Context, id uuid.UUID, doc []byte, version int64) error {
	if err := s.backend.Replace(ctx, s.table, id.String(), doc, version); err != nil {
		return s.mapWriteError(err, id)
	}
	return nil
}

// maxRetryWait caps a single wait between conflict retries.
const maxRetryWait = 200 * time.Millisecond

// retryConflicts runs f again with Fibonacci backoff while it fails with
// ErrConcurrentModification, up to Config.ConflictRetries times.
func (s *Store[T, P]) retryConflicts(ctx context.Context, id uuid.UUID, f func(context.Context) error) error {
	b := retry.NewFibonacci(s.config.RetryBackoff)
	b = retry.WithJitterPercent(20, b)
	b = retry.WithCappedDuration(maxRetryWait, b)
	b = retry.WithMaxRetries(uint64(s.config.ConflictRetries), b)

	attempt := 0
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := f(ctx)
		if errors.Is(err, ErrConcurrentModification) {
			s.config.Logger.Debug("version conflict, retrying",
				"table", s.table,
				"id", id.String(),
				"attempt", attempt,
			)
			return retry.RetryableError(err)
		}
		return err
	})
}

// mapWriteError keeps ErrNotFound and ErrConcurrentModification intact and
// wraps every other backend failure in ErrWriteFailure.
func (s *Store[T, P]) mapWriteError(err error, id uuid.UUID) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, s.kind, id)
	}
	if errors.Is(err, ErrConcurrentModification) {
		return fmt.Errorf("%w: %s %s", ErrConcurrentModification, s.kind, id)
	}
	if errors.Is(err, ErrWriteFailure) {
		return fmt.Errorf("%s %s: %w", s.kind, id, err)
	}
	return fmt.Errorf("%w: %s %s: %v", ErrWriteFailure, s.kind, id, err)
}
