package metadata

// Registry is an immutable mapping from authenticator identifier to
// metadata entry (spec.md §3 "MetadataRegistry"). Built once per fetch
// cycle and published atomically by Service.
type Registry struct {
	entries map[Identifier]Entry
}

// Lookup is read-only and total: absent identifiers report ok=false.
func (r *Registry) Lookup(id Identifier) (Entry, bool) {
	if r == nil {
		return Entry{}, false
	}
	e, ok := r.entries[id]
	return e, ok
}

// Len reports the number of distinct identifiers in the registry.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// registryBuilder derives identifier keys from decoded entries and resolves
// duplicates last-writer-wins, reporting each collision so the caller can
// log it (spec.md §4.7 step 4).
type registryBuilder struct {
	entries    map[Identifier]Entry
	duplicates []Identifier
}

func newRegistryBuilder() *registryBuilder {
	return &registryBuilder{entries: make(map[Identifier]Entry)}
}

func (b *registryBuilder) add(e Entry) {
	if _, exists := b.entries[e.Identifier]; exists {
		b.duplicates = append(b.duplicates, e.Identifier)
	}
	b.entries[e.Identifier] = e
}

func (b *registryBuilder) build() (*Registry, []Identifier) {
	return &Registry{entries: b.entries}, b.duplicates
}
