package order

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Outcome is the result of reconciling one completed checkout.
type Outcome string

const (
	Granted      Outcome = "granted"
	AlreadyOwned Outcome = "already-owned"
	Unresolved   Outcome = "unresolved"
	Duplicate    Outcome = "duplicate"
)

// Confidence tells how a course slug was found.
type Confidence int

const (
	ConfidenceNone Confidence = iota
	ConfidenceMetadata
	ConfidenceProduct
	ConfidenceFuzzy
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceMetadata:
		return "metadata"
	case ConfidenceProduct:
		return "product"
	case ConfidenceFuzzy:
		return "fuzzy"
	}
	return "none"
}

// Resolution is the course slug found for a checkout session.
type Resolution struct {
	Slug       string
	Confidence Confidence
	Product    string
}

// Metadata keys written on checkout sessions and products.
const (
	MetaCourseSlug  = "course_slug"
	MetaCourseName  = "course_name"
	MetaCoursePrice = "course_price"
	MetaCourseID    = "course_id"
)

// Ref accepts an identifier sent either as a JSON string or number.
type Ref string

func (r *Ref) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*r = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = Ref(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*r = Ref(n.String())
	return nil
}

// Item is one cart line sent by the landing page.
type Item struct {
	Name        string  `json:"name" validate:"required"`
	Description string  `json:"description"`
	Price       float64 `json:"price" validate:"gt=0"`
	Quantity    int64   `json:"quantity" validate:"omitempty,gte=1,lte=100"`
	Slug        string  `json:"slug" validate:"omitempty,slug"`
	CourseSlug  string  `json:"courseSlug" validate:"omitempty,slug"`
	CourseID    Ref     `json:"courseId"`
	ID          Ref     `json:"id"`
}

// SlugOrAlias returns the slug of the item, preferring slug over courseSlug.
func (it Item) SlugOrAlias() string {
	if s := strings.TrimSpace(it.Slug); s != "" {
		return s
	}
	return strings.TrimSpace(it.CourseSlug)
}

func (it Item) CourseRef() string {
	if it.CourseID != "" {
		return string(it.CourseID)
	}
	return string(it.ID)
}

func (it Item) Qty() int64 {
	if it.Quantity <= 0 {
		return 1
	}
	return it.Quantity
}

type Cart struct {
	Items []Item `json:"items" validate:"required,min=1,dive"`
}

// Redirect is returned once the hosted checkout session exists.
type Redirect struct {
	URL string `json:"url"`
}
