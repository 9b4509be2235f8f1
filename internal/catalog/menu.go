package catalog

import (
	"sort"
	"strings"
)

type Filter struct {
	CategoryID string
	Search     string
}

type Section struct {
	Category Category  `json:"category"`
	Products []Product `json:"products"`
}

// Menu groups products into sections following the order of categories.
// Products inside a section are sorted by name; sections left empty by
// the filter are omitted, as are products whose category is unknown.
func Menu(products []Product, categories []Category, f Filter) []Section {
	search := strings.ToLower(strings.TrimSpace(f.Search))

	byCategory := make(map[string][]Product, len(categories))
	for _, p := range products {
		if f.CategoryID != "" && p.CategoryID != f.CategoryID {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(p.Name), search) {
			continue
		}
		byCategory[p.CategoryID] = append(byCategory[p.CategoryID], p)
	}

	out := make([]Section, 0, len(byCategory))
	for _, c := range categories {
		ps := byCategory[c.ID]
		if len(ps) == 0 {
			continue
		}
		sort.SliceStable(ps, func(i, j int) bool {
			return strings.ToLower(ps[i].Name) < strings.ToLower(ps[j].Name)
		})
		out = append(out, Section{Category: c, Products: ps})
	}
	return out
}

// Find returns the product with the given id.
func Find(products []Product, id string) (Product, bool) {
	for _, p := range products {
		if p.ID == id {
			return p, true
		}
	}
	return Product{}, false
}
