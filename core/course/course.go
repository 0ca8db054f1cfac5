package course

import "strings"

// Course is a purchasable course as stored in the content backend.
// Slug is the stable key shared with checkout metadata; ID is only
// meaningful inside one backend environment.
type Course struct {
	ID         int     `json:"id"`
	DocumentID string  `json:"documentId,omitempty"`
	Slug       string  `json:"slug"`
	Name       string  `json:"name"`
	Price      float64 `json:"price"`
}

// MatchName reports whether the course name and the product name contain
// one another, ignoring case. Empty names never match.
func (c Course) MatchName(product string) bool {
	name := strings.ToLower(strings.TrimSpace(c.Name))
	product = strings.ToLower(strings.TrimSpace(product))
	if name == "" || product == "" {
		return false
	}
	return strings.Contains(product, name) || strings.Contains(name, product)
}

// FindByName returns the first course matching the product name.
func FindByName(courses []Course, product string) (Course, bool) {
	for _, c := range courses {
		if c.MatchName(product) {
			return c, true
		}
	}
	return Course{}, false
}
