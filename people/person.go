// Package people stores Person and Address records and keeps the
// person → address reverse reference consistent.
package people

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/jacentio/roster/store"
)

const (
	// PeopleTable is the table holding Person documents.
	PeopleTable = "people"

	// AddressesTable is the table holding Address documents.
	AddressesTable = "addresses"

	// AddressIDsAttr is the Person document field listing owned address ids.
	AddressIDsAttr = "addressIds"
)

// Person is a root entity owning zero or more addresses.
type Person struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Surname  string    `json:"surname"`
	Birthday time.Time `json:"birthday"`

	// AddressIDs lists owned addresses in the order they were added.
	// Only the AddressStore changes it.
	AddressIDs []uuid.UUID `json:"addressIds"`
}

func (p Person) TableName() string  { return PeopleTable }
func (p Person) EntityType() string { return "person" }
func (p Person) GetID() uuid.UUID   { return p.ID }

func (p *Person) SetID(id uuid.UUID) { p.ID = id }

// PersonStore stores people.
type PersonStore struct {
	*store.Store[Person, *Person]
}

// NewPersonStore creates a PersonStore on backend.
func NewPersonStore(backend store.Backend, config store.Config) *PersonStore {
	return &PersonStore{Store: store.New[Person](backend, config)}
}

// Create stores a new person with no addresses and returns its id.
func (s *PersonStore) Create(ctx context.Context, p Person) (uuid.UUID, error) {
	p.AddressIDs = []uuid.UUID{}
	return s.Store.Create(ctx, p)
}

// CreateMany creates people in input order; see store.Store.CreateMany.
func (s *PersonStore) CreateMany(ctx context.Context, people []Person) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(people))
	for i, p := range people {
		id, err := s.Create(ctx, p)
		if err != nil {
			return ids, fmt.Errorf("create person %d of %d: %w", i+1, len(people), err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Overwrite replaces the person's own fields. The stored AddressIDs are kept,
// so a caller holding a stale copy cannot drop or invent address links.
func (s *PersonStore) Overwrite(ctx context.Context, p Person) error {
	return s.Update(ctx, p.ID, func(cur *Person) error {
		cur.Name = p.Name
		cur.Surname = p.Surname
		cur.Birthday = p.Birthday
		return nil
	})
}

// AppendAddress links addressID to the person. Appending an id that is
// already linked is a no-op.
func (s *PersonStore) AppendAddress(ctx context.Context, personID, addressID uuid.UUID) error {
	return s.Update(ctx, personID, appendAddress(addressID))
}

// RemoveAddress unlinks addressID from the person. Removing an id that isn't
// linked is a no-op.
func (s *PersonStore) RemoveAddress(ctx context.Context, personID, addressID uuid.UUID) error {
	return s.Update(ctx, personID, removeAddress(addressID))
}

func appendAddress(addressID uuid.UUID) func(*Person) error {
	return func(p *Person) error {
		if !slices.Contains(p.AddressIDs, addressID) {
			p.AddressIDs = append(p.AddressIDs, addressID)
		}
		return nil
	}
}

func removeAddress(addressID uuid.UUID) func(*Person) error {
	return func(p *Person) error {
		p.AddressIDs = slices.DeleteFunc(p.AddressIDs, func(id uuid.UUID) bool {
			return id == addressID
		})
		if p.AddressIDs == nil {
			p.AddressIDs = []uuid.UUID{}
		}
		return nil
	}
}
