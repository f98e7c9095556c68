package people

import (
	"context"
	"errors"
	"slices"

	"github.com/google/uuid"

	"github.com/jacentio/roster/store"
)

// Link is a (person, address) pair found by Check.
type Link struct {
	PersonID  uuid.UUID `json:"personId"`
	AddressID uuid.UUID `json:"addressId"`
}

// Report is the result of a full integrity scan.
type Report struct {
	People    int `json:"people"`
	Addresses int `json:"addresses"`

	// Dangling lists owner entries naming an address that is missing or owned by someone else.
	Dangling []Link `json:"dangling"`

	// Unlinked lists addresses whose owner exists but doesn't list them.
	Unlinked []Link `json:"unlinked"`

	// Orphans lists addresses whose owner no longer exists. People are deleted
	// without cascading, so orphans are expected and don't fail the check.
	Orphans []Link `json:"orphans"`

	// Corrupt lists ids whose documents failed to decode.
	Corrupt []uuid.UUID `json:"corrupt"`
}

// OK reports whether the person/address cross references are consistent.
func (r Report) OK() bool {
	return len(r.Dangling) == 0 && len(r.Unlinked) == 0
}

// Check scans every person and address and reports cross-reference violations.
//
// The scan reads without locks. An address that looks unlinked is re-read under
// its owner's lock before it is reported, which waits out an AddAddress in this
// process that has created the address but not yet linked it. Writers in other
// processes are not covered, so run Check against a quiescent store for an
// exact answer.
func Check(ctx context.Context, persons *PersonStore, addresses *AddressStore) (Report, error) {
	report := Report{
		Dangling: []Link{},
		Unlinked: []Link{},
		Orphans:  []Link{},
		Corrupt:  []uuid.UUID{},
	}

	owners := make(map[uuid.UUID]Person)
	personIDs, err := persons.IDs(ctx)
	if err != nil {
		return report, err
	}
	for _, id := range personIDs {
		p, ok, err := persons.Find(ctx, id)
		if errors.Is(err, store.ErrCorruptRecord) {
			report.Corrupt = append(report.Corrupt, id)
			continue
		}
		if err != nil {
			return report, err
		}
		if ok {
			owners[id] = p
		}
	}
	report.People = len(owners)

	owned := make(map[uuid.UUID]Address)
	addressIDs, err := addresses.Records().IDs(ctx)
	if err != nil {
		return report, err
	}
	for _, id := range addressIDs {
		a, ok, err := addresses.Find(ctx, id)
		if errors.Is(err, store.ErrCorruptRecord) {
			report.Corrupt = append(report.Corrupt, id)
			continue
		}
		if err != nil {
			return report, err
		}
		if !ok {
			continue
		}
		owned[id] = a

		owner, exists := owners[a.PersonID]
		switch {
		case !exists:
			report.Orphans = append(report.Orphans, Link{PersonID: a.PersonID, AddressID: id})
		case !slices.Contains(owner.AddressIDs, id):
			unlinked, err := stillUnlinked(ctx, persons, addresses, a)
			if err != nil {
				return report, err
			}
			if !unlinked {
				break
			}
			report.Unlinked = append(report.Unlinked, Link{PersonID: a.PersonID, AddressID: id})
		}
	}
	report.Addresses = len(owned)

	for pid, p := range owners {
		for _, aid := range p.AddressIDs {
			if slices.Contains(report.Corrupt, aid) {
				continue
			}
			if a, ok := owned[aid]; !ok || a.PersonID != pid {
				report.Dangling = append(report.Dangling, Link{PersonID: pid, AddressID: aid})
			}
		}
	}
	return report, nil
}

// stillUnlinked re-reads a and its owner under the owner's lock. It is false
// when the address was linked or rolled back in the meantime.
func stillUnlinked(ctx context.Context, persons *PersonStore, addresses *AddressStore, a Address) (bool, error) {
	unlock := persons.Lock(a.PersonID)
	defer unlock()

	if _, ok, err := addresses.Find(ctx, a.ID); err != nil || !ok {
		return false, err
	}
	owner, ok, err := persons.Find(ctx, a.PersonID)
	if err != nil || !ok {
		return false, err
	}
	return !slices.Contains(owner.AddressIDs, a.ID), nil
}
