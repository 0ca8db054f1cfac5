package strapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/irsalhamdi/course-checkout/core/course"
	"github.com/irsalhamdi/course-checkout/core/user"
)

// Shape tells the two entry layouts the backend has served apart.
type Shape int

const (
	// ShapeFlat is the current layout: fields sit next to id and documentId.
	ShapeFlat Shape = iota

	// ShapeAttributes is the legacy layout: fields nest under "attributes"
	// and relations nest under {"data": ...}.
	ShapeAttributes
)

func (s Shape) String() string {
	if s == ShapeAttributes {
		return "attributes"
	}
	return "flat"
}

// entry is one record normalized to the flat layout.
type entry struct {
	shape  Shape
	fields map[string]json.RawMessage
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// parseEntry flattens a record of either shape.
func parseEntry(raw json.RawMessage) (entry, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return entry{}, fmt.Errorf("decoding entry: %w", err)
	}

	attrs, ok := fields["attributes"]
	if !ok || isNull(attrs) {
		return entry{shape: ShapeFlat, fields: fields}, nil
	}

	var inner map[string]json.RawMessage
	if err := json.Unmarshal(attrs, &inner); err != nil {
		return entry{}, fmt.Errorf("decoding entry attributes: %w", err)
	}

	delete(fields, "attributes")
	for k, v := range inner {
		if _, taken := fields[k]; !taken {
			fields[k] = v
		}
	}
	return entry{shape: ShapeAttributes, fields: fields}, nil
}

func (e entry) decode(dst any) error {
	b, err := json.Marshal(e.fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

// relation holds the ids of a to-many relation in either shape:
// [{...}], {"data": [{...}]}, {"data": null} or null.
type relation []int

func (r *relation) UnmarshalJSON(b []byte) error {
	*r = nil
	if isNull(b) {
		return nil
	}

	var items []json.RawMessage
	if bytes.HasPrefix(bytes.TrimSpace(b), []byte("{")) {
		var wrapped struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(b, &wrapped); err != nil {
			return err
		}
		if isNull(wrapped.Data) {
			return nil
		}
		b = wrapped.Data
	}
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}

	ids := make(relation, 0, len(items))
	for _, raw := range items {
		var ref struct {
			ID int `json:"id"`
		}
		if err := json.Unmarshal(raw, &ref); err != nil {
			return err
		}
		ids = append(ids, ref.ID)
	}
	*r = ids
	return nil
}

// number accepts prices sent as JSON numbers or numeric strings.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	if isNull(b) {
		*n = 0
		return nil
	}
	s := string(bytes.Trim(bytes.TrimSpace(b), `"`))
	if s == "" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("decoding number %q: %w", s, err)
	}
	*n = number(f)
	return nil
}

type userRecord struct {
	ID         int      `json:"id"`
	DocumentID string   `json:"documentId"`
	Nombre     string   `json:"nombre"`
	Name       string   `json:"name"`
	Email      string   `json:"email"`
	ClerkID    string   `json:"clerkId"`
	Slug       string   `json:"slug"`
	Courses    relation `json:"courses"`
}

func (r userRecord) toUser() user.User {
	name := r.Nombre
	if name == "" {
		name = r.Name
	}
	return user.User{
		ID:         r.ID,
		DocumentID: r.DocumentID,
		IdentityID: r.ClerkID,
		Email:      r.Email,
		Name:       name,
		Slug:       r.Slug,
		CourseIDs:  []int(r.Courses),
	}
}

type courseRecord struct {
	ID         int    `json:"id"`
	DocumentID string `json:"documentId"`
	Nombre     string `json:"nombre"`
	Name       string `json:"name"`
	Slug       string `json:"slug"`
	Precio     number `json:"precio"`
	Price      number `json:"price"`
}

func (r courseRecord) toCourse() course.Course {
	name := r.Nombre
	if name == "" {
		name = r.Name
	}
	price := r.Precio
	if price == 0 {
		price = r.Price
	}
	return course.Course{
		ID:         r.ID,
		DocumentID: r.DocumentID,
		Slug:       r.Slug,
		Name:       name,
		Price:      float64(price),
	}
}

func decodeUser(raw json.RawMessage) (user.User, error) {
	e, err := parseEntry(raw)
	if err != nil {
		return user.User{}, err
	}
	var r userRecord
	if err := e.decode(&r); err != nil {
		return user.User{}, fmt.Errorf("decoding %s user: %w", e.shape, err)
	}
	return r.toUser(), nil
}

func decodeCourse(raw json.RawMessage) (course.Course, error) {
	e, err := parseEntry(raw)
	if err != nil {
		return course.Course{}, err
	}
	var r courseRecord
	if err := e.decode(&r); err != nil {
		return course.Course{}, fmt.Errorf("decoding %s course: %w", e.shape, err)
	}
	return r.toCourse(), nil
}
