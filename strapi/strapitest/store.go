// Package strapitest provides an in-memory stand-in for the content backend.
package strapitest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/irsalhamdi/course-checkout/core/apperr"
	"github.com/irsalhamdi/course-checkout/core/course"
	"github.com/irsalhamdi/course-checkout/core/user"
)

// Store keeps users and courses in memory and counts writes.
type Store struct {
	mu      sync.Mutex
	users   []user.User
	courses []course.Course
	nextID  int

	Creates int
	Updates int

	// Err, when set, is returned by every call.
	Err error
}

func New() *Store {
	return &Store{nextID: 1}
}

func (s *Store) AddCourse(c course.Course) course.Course {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = 100 + len(s.courses)
	}
	s.courses = append(s.courses, c)
	return c
}

func (s *Store) AddUser(u user.User) user.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.ID = s.nextID
	s.nextID++
	s.users = append(s.users, u)
	return clone(u)
}

// Users returns a copy of every stored user.
func (s *Store) Users() []user.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]user.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, clone(u))
	}
	return out
}

func clone(u user.User) user.User {
	u.CourseIDs = append([]int(nil), u.CourseIDs...)
	return u
}

func (s *Store) findUser(match func(user.User) bool, key string) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return user.User{}, s.Err
	}
	for _, u := range s.users {
		if match(u) {
			return clone(u), nil
		}
	}
	return user.User{}, fmt.Errorf("user[%s]: %w", key, apperr.ErrNotFound)
}

func (s *Store) UserByIdentityID(ctx context.Context, identityID string) (user.User, error) {
	return s.findUser(func(u user.User) bool { return u.IdentityID != "" && u.IdentityID == identityID }, identityID)
}

func (s *Store) UserByEmail(ctx context.Context, email string) (user.User, error) {
	return s.findUser(func(u user.User) bool { return strings.EqualFold(u.Email, email) }, email)
}

func (s *Store) CreateUser(ctx context.Context, nu user.UserNew) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return user.User{}, s.Err
	}
	for _, u := range s.users {
		if strings.EqualFold(u.Email, nu.Email) {
			return user.User{}, fmt.Errorf("email %s already taken: %w", nu.Email, apperr.ErrUpstream)
		}
	}
	u := user.User{
		ID:         s.nextID,
		IdentityID: nu.IdentityID,
		Email:      nu.Email,
		Name:       nu.Name,
	}
	s.nextID++
	s.Creates++
	s.users = append(s.users, u)
	return clone(u), nil
}

func (s *Store) UpdateUser(ctx context.Context, u user.User, up user.UserUp) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return user.User{}, s.Err
	}
	for i := range s.users {
		if s.users[i].ID != u.ID {
			continue
		}
		if up.IdentityID != nil {
			s.users[i].IdentityID = *up.IdentityID
		}
		if up.Email != nil {
			s.users[i].Email = *up.Email
		}
		if up.Name != nil {
			s.users[i].Name = *up.Name
		}
		if up.CourseIDs != nil {
			s.users[i].CourseIDs = append([]int(nil), up.CourseIDs...)
		}
		s.Updates++
		return clone(s.users[i]), nil
	}
	return user.User{}, fmt.Errorf("user[%d]: %w", u.ID, apperr.ErrNotFound)
}

func (s *Store) Courses(ctx context.Context) ([]course.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return append([]course.Course(nil), s.courses...), nil
}

func (s *Store) CourseBySlug(ctx context.Context, slug string) (course.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return course.Course{}, s.Err
	}
	for _, c := range s.courses {
		if c.Slug == slug {
			return c, nil
		}
	}
	return course.Course{}, fmt.Errorf("course[%s]: %w", slug, apperr.ErrNotFound)
}
