package people

import "github.com/jacentio/roster/store"

// Relationships returns the registry describing person → address ownership.
func Relationships() *store.Registry {
	r := store.NewRegistry()
	r.Register(store.Relationship{
		ParentType:      "person",
		ParentTableName: PeopleTable,
		ChildType:       "address",
		ChildTableName:  AddressesTable,
		RefAttr:         AddressIDsAttr,
	})
	return r
}
