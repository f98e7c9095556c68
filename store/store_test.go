package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jacentio/roster/backend/memory"
	"github.com/jacentio/roster/store"
)

// --- Test Entity Types ---

// Widget is a minimal entity.
type Widget struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Color string    `json:"color,omitempty"`
	Tags  []string  `json:"tags"`
}

func (w Widget) TableName() string  { return "widgets" }
func (w Widget) EntityType() string { return "widget" }
func (w Widget) GetID() uuid.UUID   { return w.ID }

func (w *Widget) SetID(id uuid.UUID) { w.ID = id }

// flakyBackend fails writes on demand.
type flakyBackend struct {
	*memory.Backend

	mu         sync.Mutex
	failInsert int // fail the Nth insert (1-based), 0 = never
	inserts    int
	failWrites bool
	conflicts  int // reject this many replaces as stale
	replaces   int
}

var errDisk = errors.New("disk full")

func (b *flakyBackend) Insert(ctx context.Context, table, id string, doc []byte) error {
	b.mu.Lock()
	b.inserts++
	fail := b.failWrites || b.inserts == b.failInsert
	b.mu.Unlock()
	if fail {
		return errDisk
	}
	return b.Backend.Insert(ctx, table, id, doc)
}

func (b *flakyBackend) Replace(ctx context.Context, table, id string, doc []byte, expected int64) error {
	b.mu.Lock()
	b.replaces++
	fail := b.failWrites
	stale := b.conflicts > 0
	if stale {
		b.conflicts--
	}
	b.mu.Unlock()
	if fail {
		return errDisk
	}
	if stale {
		return store.ErrConcurrentModification
	}
	return b.Backend.Replace(ctx, table, id, doc, expected)
}

func newWidgets(t *testing.T) (*store.Store[Widget, *Widget], *memory.Backend) {
	t.Helper()
	backend := memory.New()
	return store.New[Widget](backend, store.DefaultConfig()), backend
}

// --- Unit Tests ---

func TestDefaultConfig(t *testing.T) {
	cfg := store.DefaultConfig()

	if cfg.LockShards != 32 {
		t.Errorf("expected LockShards 32, got %d", cfg.LockShards)
	}
	if cfg.ConflictRetries != 10 {
		t.Errorf("expected ConflictRetries 10, got %d", cfg.ConflictRetries)
	}
	if cfg.RetryBackoff != 5*time.Millisecond {
		t.Errorf("expected RetryBackoff 5ms, got %v", cfg.RetryBackoff)
	}
	if cfg.Logger == nil {
		t.Error("expected non-nil Logger")
	}
}

func TestNew_ZeroConfig(t *testing.T) {
	s := store.New[Widget](memory.New(), store.Config{})
	if s.TableName() != "widgets" {
		t.Errorf("expected TableName 'widgets', got %q", s.TableName())
	}
	if s.Logger() == nil {
		t.Error("expected validate to default the logger")
	}
}

func TestCreate_FindRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newWidgets(t)

	in := Widget{Name: "sprocket", Tags: []string{"a", "b"}}
	id, err := s.Create(ctx, in)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if id == uuid.Nil {
		t.Fatal("expected non-nil id")
	}

	got, ok, err := s.Find(ctx, id)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if !ok {
		t.Fatal("expected record to exist")
	}
	if got.ID != id {
		t.Errorf("expected ID %s, got %s", id, got.ID)
	}
	if got.Name != "sprocket" || got.Color != "" {
		t.Errorf("unexpected fields: %+v", got)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "a" || got.Tags[1] != "b" {
		t.Errorf("expected tags [a b], got %v", got.Tags)
	}
}

func TestCreate_AssignsFreshIDs(t *testing.T) {
	ctx := context.Background()
	s, _ := newWidgets(t)

	preset := uuid.New()
	id, err := s.Create(ctx, Widget{ID: preset, Name: "x"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if id == preset {
		t.Error("expected Create to ignore the caller's id")
	}

	seen := map[uuid.UUID]bool{id: true}
	for i := 0; i < 100; i++ {
		id, err := s.Create(ctx, Widget{Name: "x"})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestCreate_WriteFailure(t *testing.T) {
	ctx := context.Background()
	backend := &flakyBackend{Backend: memory.New(), failWrites: true}
	s := store.New[Widget](backend, store.DefaultConfig())

	id, err := s.Create(ctx, Widget{Name: "x"})
	if !errors.Is(err, store.ErrWriteFailure) {
		t.Fatalf("expected ErrWriteFailure, got %v", err)
	}
	if id != uuid.Nil {
		t.Errorf("expected nil id on failure, got %s", id)
	}

	ids, err := s.IDs(ctx)
	if err != nil {
		t.Fatalf("IDs failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected no documents, got %d", len(ids))
	}
}

func TestCreateMany(t *testing.T) {
	ctx := context.Background()
	s, _ := newWidgets(t)

	ids, err := s.CreateMany(ctx, []Widget{{Name: "a"}, {Name: "b"}, {Name: "c"}})
	if err != nil {
		t.Fatalf("CreateMany failed: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 ids, got %d", len(ids))
	}

	for i, name := range []string{"a", "b", "c"} {
		got, ok, err := s.Find(ctx, ids[i])
		if err != nil || !ok {
			t.Fatalf("Find %d: ok=%v err=%v", i, ok, err)
		}
		if got.Name != name {
			t.Errorf("expected ids in input order: index %d is %q, want %q", i, got.Name, name)
		}
	}
}

func TestCreateMany_PartialFailure(t *testing.T) {
	ctx := context.Background()
	backend := &flakyBackend{Backend: memory.New(), failInsert: 3}
	s := store.New[Widget](backend, store.DefaultConfig())

	ids, err := s.CreateMany(ctx, []Widget{{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"}})
	if !errors.Is(err, store.ErrWriteFailure) {
		t.Fatalf("expected ErrWriteFailure, got %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids created before the failure, got %d", len(ids))
	}

	// Earlier creations stay persisted.
	for _, id := range ids {
		if _, ok, _ := s.Find(ctx, id); !ok {
			t.Errorf("expected %s to stay persisted", id)
		}
	}
	all, _ := s.IDs(ctx)
	if len(all) != 2 {
		t.Errorf("expected 2 stored documents, got %d", len(all))
	}
}

func TestFind_Absent(t *testing.T) {
	s, _ := newWidgets(t)

	got, ok, err := s.Find(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("expected no error for missing record, got %v", err)
	}
	if ok {
		t.Error("expected ok=false for missing record")
	}
	if got.Name != "" || got.ID != uuid.Nil {
		t.Errorf("expected zero value, got %+v", got)
	}
}

func TestFind_Corrupt(t *testing.T) {
	s, backend := newWidgets(t)
	id := uuid.New()
	backend.Put("widgets", id.String(), []byte("{not json"))

	_, ok, err := s.Find(context.Background(), id)
	if !errors.Is(err, store.ErrCorruptRecord) {
		t.Fatalf("expected ErrCorruptRecord, got %v", err)
	}
	if ok {
		t.Error("expected ok=false for corrupt record")
	}
}

func TestFindMany_SkipsMissingAndCorrupt(t *testing.T) {
	ctx := context.Background()
	s, backend := newWidgets(t)

	a, _ := s.Create(ctx, Widget{Name: "a"})
	b, _ := s.Create(ctx, Widget{Name: "b"})
	corrupt := uuid.New()
	backend.Put("widgets", corrupt.String(), []byte("null"))

	got, err := s.FindMany(ctx, []uuid.UUID{b, uuid.New(), corrupt, a})
	if err != nil {
		t.Fatalf("FindMany failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].ID != b || got[1].ID != a {
		t.Errorf("expected input order [b a], got [%s %s]", got[0].ID, got[1].ID)
	}
	if n := s.Stats().CorruptSkipped; n != 1 {
		t.Errorf("expected CorruptSkipped 1, got %d", n)
	}
}

func TestFindMany_Empty(t *testing.T) {
	s, _ := newWidgets(t)

	got, err := s.FindMany(context.Background(), nil)
	if err != nil {
		t.Fatalf("FindMany failed: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", got)
	}
}

func TestOverwrite(t *testing.T) {
	ctx := context.Background()
	s, _ := newWidgets(t)

	id, _ := s.Create(ctx, Widget{Name: "old", Color: "red"})
	if err := s.Overwrite(ctx, Widget{ID: id, Name: "new"}); err != nil {
		t.Fatalf("Overwrite failed: %v", err)
	}

	got, _, _ := s.Find(ctx, id)
	if got.Name != "new" {
		t.Errorf("expected Name 'new', got %q", got.Name)
	}
	if got.Color != "" {
		t.Errorf("expected Color cleared, got %q", got.Color)
	}
}

func TestOverwrite_NotFound(t *testing.T) {
	s, _ := newWidgets(t)

	err := s.Overwrite(context.Background(), Widget{ID: uuid.New(), Name: "ghost"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	ids, _ := s.IDs(context.Background())
	if len(ids) != 0 {
		t.Error("expected Overwrite of a missing id to write nothing")
	}
}

func TestOverwrite_WriteFailureKeepsPriorValue(t *testing.T) {
	ctx := context.Background()
	backend := &flakyBackend{Backend: memory.New()}
	s := store.New[Widget](backend, store.DefaultConfig())

	id, _ := s.Create(ctx, Widget{Name: "before"})
	backend.failWrites = true

	err := s.Overwrite(ctx, Widget{ID: id, Name: "after"})
	if !errors.Is(err, store.ErrWriteFailure) {
		t.Fatalf("expected ErrWriteFailure, got %v", err)
	}
	got, _, _ := s.Find(ctx, id)
	if got.Name != "before" {
		t.Errorf("expected prior value 'before', got %q", got.Name)
	}
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	s, _ := newWidgets(t)
	id, _ := s.Create(ctx, Widget{Name: "w"})

	err := s.Update(ctx, id, func(w *Widget) error {
		w.Tags = append(w.Tags, "x")
		w.ID = uuid.New() // ignored
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, ok, _ := s.Find(ctx, id)
	if !ok {
		t.Fatal("expected record under original id")
	}
	if got.ID != id {
		t.Errorf("expected ID to stay %s, got %s", id, got.ID)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "x" {
		t.Errorf("expected tags [x], got %v", got.Tags)
	}
}

func TestUpdate_AbortWritesNothing(t *testing.T) {
	ctx := context.Background()
	s, _ := newWidgets(t)
	id, _ := s.Create(ctx, Widget{Name: "w"})

	abort := errors.New("abort")
	err := s.Update(ctx, id, func(w *Widget) error {
		w.Name = "changed"
		return abort
	})
	if !errors.Is(err, abort) {
		t.Fatalf("expected abort error, got %v", err)
	}
	got, _, _ := s.Find(ctx, id)
	if got.Name != "w" {
		t.Errorf("expected Name unchanged, got %q", got.Name)
	}
}

func TestUpdate_NotFound(t *testing.T) {
	s, _ := newWidgets(t)

	err := s.Update(context.Background(), uuid.New(), func(*Widget) error { return nil })
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdate_ConcurrentNoLostUpdate(t *testing.T) {
	ctx := context.Background()
	s, _ := newWidgets(t)
	id, _ := s.Create(ctx, Widget{Name: "counter", Tags: []string{}})

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Update(ctx, id, func(w *Widget) error {
				w.Tags = append(w.Tags, "t")
				return nil
			})
			if err != nil {
				t.Errorf("Update failed: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _, _ := s.Find(ctx, id)
	if len(got.Tags) != n {
		t.Errorf("expected %d tags, got %d (lost updates)", n, len(got.Tags))
	}
}

func TestUpdate_RetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	backend := &flakyBackend{Backend: memory.New()}
	s := store.New[Widget](backend, store.Config{RetryBackoff: time.Millisecond})
	id, _ := s.Create(ctx, Widget{Name: "w"})
	backend.conflicts = 2

	calls := 0
	err := s.Update(ctx, id, func(w *Widget) error {
		calls++
		w.Tags = append(w.Tags, "x")
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected fn to run once per attempt (3), got %d", calls)
	}
	got, _, _ := s.Find(ctx, id)
	if len(got.Tags) != 1 {
		t.Errorf("expected exactly one tag from the winning attempt, got %v", got.Tags)
	}
}

func TestUpdate_ConflictRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	backend := &flakyBackend{Backend: memory.New()}
	s := store.New[Widget](backend, store.Config{ConflictRetries: 3, RetryBackoff: time.Millisecond})
	id, _ := s.Create(ctx, Widget{Name: "before"})
	backend.conflicts = 100

	err := s.Update(ctx, id, func(w *Widget) error {
		w.Name = "after"
		return nil
	})
	if !errors.Is(err, store.ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
	if errors.Is(err, store.ErrWriteFailure) {
		t.Error("expected a conflict not to be reported as a write failure")
	}
	if backend.replaces != 4 {
		t.Errorf("expected 1 attempt + 3 retries, got %d replaces", backend.replaces)
	}
	got, _, _ := s.Find(ctx, id)
	if got.Name != "before" {
		t.Errorf("expected prior value kept, got %q", got.Name)
	}
}

func TestOverwrite_RetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	backend := &flakyBackend{Backend: memory.New()}
	s := store.New[Widget](backend, store.Config{RetryBackoff: time.Millisecond})
	id, _ := s.Create(ctx, Widget{Name: "old"})
	backend.conflicts = 1

	if err := s.Overwrite(ctx, Widget{ID: id, Name: "new"}); err != nil {
		t.Fatalf("Overwrite failed: %v", err)
	}
	got, _, _ := s.Find(ctx, id)
	if got.Name != "new" {
		t.Errorf("expected Name 'new', got %q", got.Name)
	}
}

func TestOverwrite_ReplacesCorruptRecord(t *testing.T) {
	ctx := context.Background()
	s, backend := newWidgets(t)
	id, _ := s.Create(ctx, Widget{Name: "w"})
	backend.Put("widgets", id.String(), []byte(`not json`))

	if err := s.Overwrite(ctx, Widget{ID: id, Name: "repaired"}); err != nil {
		t.Fatalf("Overwrite failed: %v", err)
	}
	got, ok, err := s.Find(ctx, id)
	if err != nil || !ok || got.Name != "repaired" {
		t.Errorf("expected repaired record, got %+v (ok %v, err %v)", got, ok, err)
	}
}

// Two stores over one backend stand in for two processes: their in-process
// locks don't see each other, so only the version check keeps updates apart.
func TestUpdate_TwoStoresNoLostUpdate(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	cfg := store.Config{ConflictRetries: 100, RetryBackoff: time.Millisecond}
	first := store.New[Widget](backend, cfg)
	second := store.New[Widget](backend, cfg)
	id, _ := first.Create(ctx, Widget{Name: "counter", Tags: []string{}})

	const perStore = 50
	var wg sync.WaitGroup
	for _, s := range []*store.Store[Widget, *Widget]{first, second} {
		for i := 0; i < perStore; i++ {
			wg.Add(1)
			go func(s *store.Store[Widget, *Widget]) {
				defer wg.Done()
				err := s.Update(ctx, id, func(w *Widget) error {
					w.Tags = append(w.Tags, "t")
					return nil
				})
				if err != nil {
					t.Errorf("Update failed: %v", err)
				}
			}(s)
		}
	}
	wg.Wait()

	got, _, _ := second.Find(ctx, id)
	if len(got.Tags) != 2*perStore {
		t.Errorf("expected %d tags, got %d (lost updates)", 2*perStore, len(got.Tags))
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := newWidgets(t)
	id, _ := s.Create(ctx, Widget{Name: "w"})

	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := s.Find(ctx, id); ok {
		t.Error("expected record to be gone")
	}
	if err := s.Delete(ctx, id); err != nil {
		t.Errorf("expected second Delete to be a no-op, got %v", err)
	}
}

func TestDelete_NeverExisted(t *testing.T) {
	s, _ := newWidgets(t)

	if err := s.Delete(context.Background(), uuid.New()); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestIDs_SkipsForeignKeys(t *testing.T) {
	ctx := context.Background()
	s, backend := newWidgets(t)
	id, _ := s.Create(ctx, Widget{Name: "w"})
	backend.Put("widgets", "not-a-uuid", []byte("{}"))

	ids, err := s.IDs(ctx)
	if err != nil {
		t.Fatalf("IDs failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != id {
		t.Errorf("expected [%s], got %v", id, ids)
	}
}

func TestReturnedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	s, _ := newWidgets(t)
	id, _ := s.Create(ctx, Widget{Name: "w", Tags: []string{"keep"}})

	first, _, _ := s.Find(ctx, id)
	first.Tags[0] = "mutated"

	second, _, _ := s.Find(ctx, id)
	if second.Tags[0] != "keep" {
		t.Errorf("expected stored value untouched, got %q", second.Tags[0])
	}
}

func TestLock_Exclusive(t *testing.T) {
	s, _ := newWidgets(t)
	id := uuid.New()

	unlock := s.Lock(id)
	acquired := make(chan struct{})
	go func() {
		u := s.Lock(id)
		close(acquired)
		u()
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-acquired:
		t.Fatal("expected second Lock to block while the first is held")
	default:
	}
	unlock()
	<-acquired
}
