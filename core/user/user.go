package user

import (
	"strings"
)

const (
	// PlaceholderName is used when an identity event carries no usable name.
	PlaceholderName = "Usuario Test"

	// PlaceholderDomain builds synthetic addresses for events without email.
	PlaceholderDomain = "test.clerk.dev"
)

// User is a customer record as stored in the content backend.
type User struct {
	ID         int    `json:"id"`
	DocumentID string `json:"documentId,omitempty"`
	IdentityID string `json:"clerkId,omitempty"`
	Email      string `json:"email"`
	Name       string `json:"nombre"`
	Slug       string `json:"slug,omitempty"`
	CourseIDs  []int  `json:"courses"`
}

// Owns reports whether the course is already granted to the user.
func (u User) Owns(courseID int) bool {
	for _, id := range u.CourseIDs {
		if id == courseID {
			return true
		}
	}
	return false
}

type UserNew struct {
	IdentityID string `json:"clerkId,omitempty"`
	Email      string `json:"email" validate:"required,email"`
	Name       string `json:"nombre" validate:"required"`
}

// UserUp lists the fields to change; nil fields are left untouched.
type UserUp struct {
	IdentityID *string `json:"clerkId,omitempty"`
	Email      *string `json:"email,omitempty" validate:"omitempty,email"`
	Name       *string `json:"nombre,omitempty"`
	CourseIDs  []int   `json:"courses,omitempty"`
}

type EmailAddress struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

// IdentityEvent is the user object carried by identity provider webhooks.
type IdentityEvent struct {
	ID             string         `json:"id"`
	EmailAddresses []EmailAddress `json:"email_addresses"`
	FirstName      string         `json:"first_name"`
	LastName       string         `json:"last_name"`
	Username       string         `json:"username"`
}

// PrimaryEmail returns the first non empty address of the event.
func (e IdentityEvent) PrimaryEmail() string {
	for _, a := range e.EmailAddresses {
		if addr := strings.TrimSpace(a.EmailAddress); addr != "" {
			return addr
		}
	}
	return ""
}

// Empty reports whether the event has neither an email nor a name field,
// which is what the provider's test pings look like.
func (e IdentityEvent) Empty() bool {
	return e.PrimaryEmail() == "" &&
		strings.TrimSpace(e.FirstName) == "" &&
		strings.TrimSpace(e.LastName) == ""
}

// Profile is the email and display name derived from an identity event.
type Profile struct {
	Email string
	Name  string
}

// DeriveProfile derives the email and display name of an identity event.
// Missing emails become <id>@test.clerk.dev. The name falls back to the
// local part of the real email, then to PlaceholderName.
func DeriveProfile(e IdentityEvent) Profile {
	email := e.PrimaryEmail()

	name := strings.TrimSpace(strings.TrimSpace(e.FirstName) + " " + strings.TrimSpace(e.LastName))
	if name == "" && email != "" {
		name = strings.SplitN(email, "@", 2)[0]
	}
	if name == "" {
		name = PlaceholderName
	}

	if email == "" {
		email = e.ID + "@" + PlaceholderDomain
	}

	return Profile{Email: NormalizeEmail(email), Name: name}
}

// NormalizeEmail folds an address into the form used as lookup key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
