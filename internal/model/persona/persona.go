package persona

import (
	"errors"
	"fmt"
	"os"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ErrNotFound is returned when a (category, name) pair is not in the catalog.
var ErrNotFound = errors.New("persona not found")

// Key identifies a persona inside the catalog.
type Key struct {
	Category string `json:"category"`
	Name     string `json:"name"`
}

func (k Key) String() string {
	return k.Category + "/" + k.Name
}

// Persona is a named system prompt simulating a specific client personality.
type Persona struct {
	Category string `json:"category"`
	Name     string `json:"name"`
	Prompt   string `json:"prompt"`
}

// Key returns the lookup key of the persona.
func (p Persona) Key() Key {
	return Key{Category: p.Category, Name: p.Name}
}

// Category groups personas in file order.
type Category struct {
	Name     string    `json:"name"`
	Personas []Persona `json:"personas"`
}

type fileEntry struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

// Parse decodes a persona file: a JSON object mapping category name to an
// array of {"name", "prompt"} entries. Category and persona order follow the
// document.
func Parse(data []byte) ([]Category, error) {
	doc := orderedmap.New[string, []fileEntry]()
	if err := doc.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("decode persona file: %w", err)
	}

	categories := make([]Category, 0, doc.Len())
	for pair := doc.Oldest(); pair != nil; pair = pair.Next() {
		category := Category{Name: pair.Key, Personas: make([]Persona, 0, len(pair.Value))}
		for i, entry := range pair.Value {
			name := strings.TrimSpace(entry.Name)
			if name == "" {
				return nil, fmt.Errorf("category %q entry %d: persona name is empty", pair.Key, i)
			}
			category.Personas = append(category.Personas, Persona{
				Category: pair.Key,
				Name:     name,
				Prompt:   entry.Prompt,
			})
		}
		categories = append(categories, category)
	}
	return categories, nil
}

// LoadFile reads and parses a persona file from disk.
func LoadFile(path string) ([]Category, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona file: %w", err)
	}
	return Parse(data)
}

// LoadNotes reads the global notes file and trims surrounding whitespace.
// An empty path yields no notes.
func LoadNotes(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read global notes: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Seed provides a small built-in catalog used when no persona file is configured.
func Seed() []Category {
	return []Category{
		{
			Name: "Therapy",
			Personas: []Persona{
				{
					Category: "Therapy",
					Name:     "Skeptical Client",
					Prompt:   "You are a therapy client who doubts that talking about problems helps. You answer briefly, question the therapist's methods and only slowly open up when you feel genuinely listened to.",
				},
				{
					Category: "Therapy",
					Name:     "Anxious Client",
					Prompt:   "You are a therapy client with generalized anxiety. You worry about worst-case outcomes, apologize often and ask for reassurance before sharing anything personal.",
				},
			},
		},
		{
			Name: "Couples",
			Personas: []Persona{
				{
					Category: "Couples",
					Name:     "Defensive Partner",
					Prompt:   "You are one half of a couple in counselling. You feel blamed for the relationship's problems and respond defensively until the therapist acknowledges your side.",
				},
			},
		},
	}
}
