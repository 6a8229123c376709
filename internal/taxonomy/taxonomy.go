// Package taxonomy provides the static KVI reference data: main
// categories, subcategories, and the indicator codes registered to each
// subcategory.
package taxonomy

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kviflow/kviflow/internal/core"
)

//go:embed data/taxonomy.yaml
var embeddedData []byte

// Indicator is one scoreable KVI in the reference data.
type Indicator struct {
	Code        string `yaml:"code"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
}

// Subcategory is one selectable KVI subcategory.
type Subcategory struct {
	ID          string      `yaml:"id"`
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Indicators  []Indicator `yaml:"indicators"`
}

// Category is one main KVI category.
type Category struct {
	ID            string        `yaml:"id"`
	Name          string        `yaml:"name"`
	Subcategories []Subcategory `yaml:"subcategories"`
}

type document struct {
	Categories []Category `yaml:"categories"`
}

// Taxonomy holds the loaded reference data. Immutable after Load.
type Taxonomy struct {
	categories []Category
	subIndex   map[string]*Subcategory // keyed "mainID/subID"
	mainIndex  map[string]*Category
	overview   string
}

// Load parses the embedded taxonomy data.
func Load() (*Taxonomy, error) {
	return parse(embeddedData)
}

// LoadFile parses an external taxonomy YAML file.
func LoadFile(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy %s: %w", path, err)
	}
	return parse(data)
}

func parse(data []byte) (*Taxonomy, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse taxonomy: %w", err)
	}
	if len(doc.Categories) == 0 {
		return nil, fmt.Errorf("taxonomy has no categories")
	}

	t := &Taxonomy{
		categories: doc.Categories,
		subIndex:   make(map[string]*Subcategory),
		mainIndex:  make(map[string]*Category),
	}
	for i := range t.categories {
		cat := &t.categories[i]
		t.mainIndex[cat.ID] = cat
		for j := range cat.Subcategories {
			sub := &cat.Subcategories[j]
			t.subIndex[cat.ID+"/"+sub.ID] = sub
		}
	}
	t.overview = renderOverview(t.categories)
	return t, nil
}

// CategoryNames resolves a main/sub ID pair to names, falling back to
// "Unknown (id)" for IDs not present in the data.
func (t *Taxonomy) CategoryNames(mainID, subID string) (string, string) {
	main, ok := t.mainIndex[mainID]
	if !ok {
		return fmt.Sprintf("Unknown (%s)", mainID), fmt.Sprintf("Unknown (%s)", subID)
	}
	sub, ok := t.subIndex[mainID+"/"+subID]
	if !ok {
		return main.Name, fmt.Sprintf("Unknown (%s)", subID)
	}
	return main.Name, sub.Name
}

// Describe returns the description block for a subcategory, or "".
func (t *Taxonomy) Describe(mainID, subID string) string {
	if sub, ok := t.subIndex[mainID+"/"+subID]; ok {
		return sub.Description
	}
	return ""
}

// Indicators returns the ordered indicator list for a subcategory.
func (t *Taxonomy) Indicators(mainID, subID string) []core.TaxonomyIndicator {
	sub, ok := t.subIndex[mainID+"/"+subID]
	if !ok {
		return nil
	}
	out := make([]core.TaxonomyIndicator, len(sub.Indicators))
	for i, ind := range sub.Indicators {
		out[i] = core.TaxonomyIndicator{
			Code:        ind.Code,
			Title:       ind.Title,
			Description: ind.Description,
		}
	}
	return out
}

// Overview renders the whole taxonomy as prompt reference text.
func (t *Taxonomy) Overview() string {
	return t.overview
}

// Categories returns the main categories in data order.
func (t *Taxonomy) Categories() []Category {
	return t.categories
}

func renderOverview(categories []Category) string {
	var b strings.Builder
	for _, cat := range categories {
		fmt.Fprintf(&b, "## %s - %s\n\n", cat.ID, cat.Name)
		for _, sub := range cat.Subcategories {
			fmt.Fprintf(&b, "### %s: %s\n%s\n\n", sub.ID, sub.Name, sub.Description)
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
