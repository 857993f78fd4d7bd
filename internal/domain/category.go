package domain

import "strings"

// DefaultCategories is the category list offered when none is configured.
var DefaultCategories = []string{
	"General",
	"Technical",
	"Billing",
	"Account",
	"Feature Request",
	"Bug Report",
	"Other",
}

// CategoryList is an immutable set of accepted ticket categories.
type CategoryList struct {
	names []string
	index map[string]struct{}
}

// NewCategoryList copies names, dropping blanks and duplicates.
func NewCategoryList(names []string) CategoryList {
	list := CategoryList{index: make(map[string]struct{}, len(names))}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, exists := list.index[name]; exists {
			continue
		}
		list.index[name] = struct{}{}
		list.names = append(list.names, name)
	}
	return list
}

// Contains reports whether category is accepted. Matching is exact.
func (c CategoryList) Contains(category string) bool {
	_, ok := c.index[category]
	return ok
}

// Names returns a copy of the categories in configured order.
func (c CategoryList) Names() []string {
	return append([]string(nil), c.names...)
}
