package discovery

import "fmt"

// RelationshipType classifies an edge between two domains.
type RelationshipType string

const (
	// RelationshipLink is a plain hyperlink.
	RelationshipLink RelationshipType = "link"
	// RelationshipRedirect is an HTTP redirect from source to target.
	RelationshipRedirect RelationshipType = "redirect"
	// RelationshipSubdomain links domains sharing a registrable domain.
	RelationshipSubdomain RelationshipType = "subdomain"
	// RelationshipRelated is a looser association.
	RelationshipRelated RelationshipType = "related"
)

// AllRelationshipTypes lists every relationship type.
var AllRelationshipTypes = []RelationshipType{
	RelationshipLink,
	RelationshipRedirect,
	RelationshipSubdomain,
	RelationshipRelated,
}

// Valid reports whether t is one of the known types.
func (t RelationshipType) Valid() bool {
	switch t {
	case RelationshipLink, RelationshipRedirect, RelationshipSubdomain, RelationshipRelated:
		return true
	default:
		return false
	}
}

// ParseRelationshipType converts a stored value into a RelationshipType.
func ParseRelationshipType(raw string) (RelationshipType, error) {
	t := RelationshipType(raw)
	if !t.Valid() {
		return "", fmt.Errorf("unknown relationship type %q", raw)
	}
	return t, nil
}

// Rank orders hints by strength so the strongest evidence wins when one page
// yields the same target more than once.
func (t RelationshipType) Rank() int {
	switch t {
	case RelationshipRedirect:
		return 3
	case RelationshipSubdomain:
		return 2
	case RelationshipLink:
		return 1
	case RelationshipRelated:
		return 0
	default:
		return -1
	}
}
