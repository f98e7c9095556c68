package people

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jacentio/roster/store"
)

// Address is owned by exactly one Person.
type Address struct {
	ID          uuid.UUID `json:"id"`
	StreetName  string    `json:"streetName"`
	HouseNumber int       `json:"houseNumber"`

	// ApartmentNumber is an optional single character, omitted when empty.
	ApartmentNumber string `json:"apartmentNumber,omitempty"`

	// PersonID is the owner. It is set at creation and never changes.
	PersonID uuid.UUID `json:"personId"`
}

func (a Address) TableName() string  { return AddressesTable }
func (a Address) EntityType() string { return "address" }
func (a Address) GetID() uuid.UUID   { return a.ID }

func (a *Address) SetID(id uuid.UUID) { a.ID = id }

// AddressStore stores addresses and maintains their owners' AddressIDs.
//
// When an operation holds both an address lock and a person lock, the address
// lock is taken first.
type AddressStore struct {
	addresses *store.Store[Address, *Address]
	people    *PersonStore
}

// NewAddressStore creates an AddressStore on backend linked to people.
func NewAddressStore(backend store.Backend, people *PersonStore, config store.Config) *AddressStore {
	return &AddressStore{
		addresses: store.New[Address](backend, config),
		people:    people,
	}
}

// Records exposes the underlying generic store, for scans and tooling.
func (s *AddressStore) Records() *store.Store[Address, *Address] {
	return s.addresses
}

// AddAddress stores a new address and links it to its owner.
//
// It fails with ErrUnknownOwner, writing nothing, if the owner doesn't exist.
// The owner's lock is held throughout, and if linking fails the address
// document is deleted again, so an address is never left persisted but unlinked.
//
// Between creating the address and linking it, a raw scan of the addresses
// table (Records().IDs, or Check from another process) can see the address
// before its owner lists it. Find and FindAddresses never do: the former needs
// the new id, which is not returned yet, and the latter goes through the owner.
// Check in this process waits for the owner's lock before reporting an address
// as unlinked.
func (s *AddressStore) AddAddress(ctx context.Context, a Address) (uuid.UUID, error) {
	unlock := s.people.Lock(a.PersonID)
	defer unlock()

	_, ok, err := s.people.Find(ctx, a.PersonID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve owner %s: %w", a.PersonID, err)
	}
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: person %s", store.ErrUnknownOwner, a.PersonID)
	}

	id, err := s.addresses.Create(ctx, a)
	if err != nil {
		return uuid.Nil, err
	}

	if err := s.people.UpdateLocked(ctx, a.PersonID, appendAddress(id)); err != nil {
		// The new id is unknown to other callers, so no address lock is needed.
		if rbErr := s.addresses.DeleteLocked(ctx, id); rbErr != nil {
			s.addresses.Logger().Error("failed to roll back unlinked address",
				"id", id.String(),
				"personId", a.PersonID.String(),
				"error", rbErr,
			)
			return uuid.Nil, errors.Join(err, rbErr)
		}
		return uuid.Nil, err
	}
	return id, nil
}

// AddAddresses adds each address in input order. It is not atomic: on failure
// the ids added so far are returned with the error.
func (s *AddressStore) AddAddresses(ctx context.Context, addresses []Address) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(addresses))
	for i, a := range addresses {
		id, err := s.AddAddress(ctx, a)
		if err != nil {
			return ids, fmt.Errorf("add address %d of %d: %w", i+1, len(addresses), err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Find returns a single address. The boolean is false if it doesn't exist.
func (s *AddressStore) Find(ctx context.Context, id uuid.UUID) (Address, bool, error) {
	return s.addresses.Find(ctx, id)
}

// FindAddresses returns the addresses linked to personID, in link order.
// An unknown person has no addresses.
func (s *AddressStore) FindAddresses(ctx context.Context, personID uuid.UUID) ([]Address, error) {
	p, ok, err := s.people.Find(ctx, personID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []Address{}, nil
	}
	return s.addresses.FindMany(ctx, p.AddressIDs)
}

// DeleteAddress unlinks the address from its owner, then deletes it.
// Missing addresses and missing owners are tolerated.
//
// Unlinking first means an interruption leaves at worst an orphaned address
// document, never an owner pointing at a missing address.
func (s *AddressStore) DeleteAddress(ctx context.Context, addressID uuid.UUID) error {
	unlock := s.addresses.Lock(addressID)
	defer unlock()

	a, ok, err := s.addresses.Find(ctx, addressID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	err = s.people.Update(ctx, a.PersonID, removeAddress(addressID))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("detach address %s from person %s: %w", addressID, a.PersonID, err)
	}

	return s.addresses.DeleteLocked(ctx, addressID)
}
