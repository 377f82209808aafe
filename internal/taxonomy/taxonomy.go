// Package taxonomy holds the controlled vocabulary of subject categories.
package taxonomy

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed categories.yml
var categoriesYAML []byte

type Category struct {
	ID      string
	Name    string
	Archive string
	Active  bool
	General bool
}

type Taxonomy struct {
	categories map[string]Category
}

type fileFormat struct {
	Archives map[string]struct {
		Name       string `yaml:"name"`
		Categories map[string]struct {
			Name    string `yaml:"name"`
			Active  *bool  `yaml:"active"`
			General bool   `yaml:"general"`
		} `yaml:"categories"`
	} `yaml:"archives"`
}

// Parse decodes a taxonomy document in the format of the embedded
// categories.yml.
func Parse(data []byte) (*Taxonomy, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid taxonomy yaml: %w", err)
	}
	t := &Taxonomy{categories: map[string]Category{}}
	for archive, a := range f.Archives {
		for id, c := range a.Categories {
			active := true
			if c.Active != nil {
				active = *c.Active
			}
			t.categories[id] = Category{ID: id, Name: c.Name, Archive: archive, Active: active, General: c.General}
		}
	}
	if len(t.categories) == 0 {
		return nil, fmt.Errorf("taxonomy has no categories")
	}
	return t, nil
}

var (
	defaultOnce sync.Once
	defaultTax  *Taxonomy
)

// Default returns the embedded taxonomy. It panics if the embedded document
// is malformed, which is a build defect.
func Default() *Taxonomy {
	defaultOnce.Do(func() {
		t, err := Parse(categoriesYAML)
		if err != nil {
			panic(err)
		}
		defaultTax = t
	})
	return defaultTax
}

func (t *Taxonomy) Lookup(id string) (Category, bool) {
	c, ok := t.categories[id]
	return c, ok
}

func (t *Taxonomy) IsActive(id string) bool {
	c, ok := t.categories[id]
	return ok && c.Active
}

func (t *Taxonomy) Archive(id string) string {
	return t.categories[id].Archive
}

func (t *Taxonomy) IsGeneral(id string) bool {
	return t.categories[id].General
}

// Categories returns every category sorted by id.
func (t *Taxonomy) Categories() []Category {
	out := make([]Category, 0, len(t.categories))
	for _, c := range t.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
