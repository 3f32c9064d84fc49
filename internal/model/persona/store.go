package persona

// Store exposes persona retrieval for HTTP handlers.
type Store interface {
	Categories() []Category
	Find(key Key) (Persona, bool)
	Default() (Persona, bool)
}

// MemoryStore implements Store over a catalog loaded once at startup.
type MemoryStore struct {
	categories []Category
	index      map[Key]Persona
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied catalog.
// A repeated (category, name) keeps its first occurrence.
func NewMemoryStore(categories []Category) *MemoryStore {
	s := &MemoryStore{
		categories: make([]Category, 0, len(categories)),
		index:      make(map[Key]Persona),
	}
	for _, c := range categories {
		kept := Category{Name: c.Name, Personas: make([]Persona, 0, len(c.Personas))}
		for _, p := range c.Personas {
			p.Category = c.Name
			if _, dup := s.index[p.Key()]; dup {
				continue
			}
			s.index[p.Key()] = p
			kept.Personas = append(kept.Personas, p)
		}
		s.categories = append(s.categories, kept)
	}
	return s
}

// Categories returns the catalog in file order.
func (s *MemoryStore) Categories() []Category {
	out := make([]Category, len(s.categories))
	for i, c := range s.categories {
		out[i] = Category{Name: c.Name, Personas: append([]Persona(nil), c.Personas...)}
	}
	return out
}

// Find looks up a persona by category and name.
func (s *MemoryStore) Find(key Key) (Persona, bool) {
	p, ok := s.index[key]
	return p, ok
}

// Default returns the first persona of the first non-empty category.
func (s *MemoryStore) Default() (Persona, bool) {
	for _, c := range s.categories {
		if len(c.Personas) > 0 {
			return c.Personas[0], true
		}
	}
	return Persona{}, false
}
