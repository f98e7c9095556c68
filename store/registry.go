package store

// Relationship defines a one-to-many reverse reference between two entity kinds.
type Relationship struct {
	// ParentType is the owning entity type (e.g., "person").
	ParentType string

	// ParentTableName is the table holding the owners (e.g., "people").
	ParentTableName string

	// ChildType is the owned entity type (e.g., "address").
	ChildType string

	// ChildTableName is the table holding the children (e.g., "addresses").
	ChildTableName string

	// RefAttr is the document field on the parent listing child ids (e.g., "addressIds").
	RefAttr string
}

// Registry holds all known entity relationships.
type Registry struct {
	relationships []Relationship
	byTable       map[string][]Relationship
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		relationships: []Relationship{},
		byTable:       make(map[string][]Relationship),
	}
}

// Register adds a relationship to the registry.
func (r *Registry) Register(rel Relationship) {
	r.relationships = append(r.relationships, rel)
	r.byTable[rel.ParentTableName] = append(r.byTable[rel.ParentTableName], rel)
}

// ChildrenOfTable returns all child relationships whose parent lives in table.
func (r *Registry) ChildrenOfTable(table string) []Relationship {
	return r.byTable[table]
}

// AllRelationships returns all registered relationships.
func (r *Registry) AllRelationships() []Relationship {
	return r.relationships
}
