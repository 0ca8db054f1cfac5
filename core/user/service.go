package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/irsalhamdi/course-checkout/core/apperr"
	"github.com/irsalhamdi/course-checkout/keylock"
	"github.com/irsalhamdi/course-checkout/validate"
	"github.com/sirupsen/logrus"
)

// Store is the part of the content backend the user service needs.
// Lookups return an error wrapping apperr.ErrNotFound when nothing matches.
type Store interface {
	UserByIdentityID(ctx context.Context, identityID string) (User, error)
	UserByEmail(ctx context.Context, email string) (User, error)
	CreateUser(ctx context.Context, nu UserNew) (User, error)
	UpdateUser(ctx context.Context, u User, up UserUp) (User, error)
}

type Service struct {
	store Store
	log   logrus.FieldLogger
	locks *keylock.Locker
}

func NewService(store Store, log logrus.FieldLogger) *Service {
	return &Service{
		store: store,
		log:   log,
		locks: keylock.New(),
	}
}

// CreateOrGet returns the user matching the identity event, creating it
// when neither the identity id nor the derived email is known yet.
func (s *Service) CreateOrGet(ctx context.Context, evt IdentityEvent) (User, error) {
	unlock := s.locks.Lock(evt.ID)
	defer unlock()

	p := DeriveProfile(evt)

	if evt.ID != "" {
		u, err := s.store.UserByIdentityID(ctx, evt.ID)
		switch {
		case err == nil:
			return u, nil
		case !errors.Is(err, apperr.ErrNotFound):
			return User{}, fmt.Errorf("fetching user by identity[%s]: %w", evt.ID, err)
		}
	}

	u, err := s.store.UserByEmail(ctx, p.Email)
	switch {
	case err == nil:
		return s.link(ctx, u, evt.ID)
	case !errors.Is(err, apperr.ErrNotFound):
		return User{}, fmt.Errorf("fetching user by email[%s]: %w", p.Email, err)
	}

	nu := UserNew{
		IdentityID: evt.ID,
		Email:      p.Email,
		Name:       p.Name,
	}
	if err := validate.Check(nu); err != nil {
		return User{}, fmt.Errorf("invalid user derived from identity[%s]: %w", evt.ID, err)
	}

	u, err = s.store.CreateUser(ctx, nu)
	if err != nil {
		return User{}, fmt.Errorf("creating user for identity[%s]: %w", evt.ID, err)
	}

	s.log.WithFields(logrus.Fields{
		"user_id":     u.ID,
		"identity_id": evt.ID,
	}).Info("user created")

	return u, nil
}

// link attaches the identity id to a user that was matched by email only.
func (s *Service) link(ctx context.Context, u User, identityID string) (User, error) {
	if identityID == "" || u.IdentityID == identityID {
		return u, nil
	}
	if u.IdentityID != "" {
		s.log.WithFields(logrus.Fields{
			"user_id":     u.ID,
			"identity_id": identityID,
			"linked_to":   u.IdentityID,
		}).Warn("email already linked to another identity")
		return u, nil
	}

	linked, err := s.store.UpdateUser(ctx, u, UserUp{IdentityID: &identityID})
	if err != nil {
		return User{}, fmt.Errorf("linking identity[%s] to user[%d]: %w", identityID, u.ID, err)
	}
	return linked, nil
}

// Update applies the profile of an identity event to the matching user.
// Events without email and name return apperr.ErrSkipped untouched.
func (s *Service) Update(ctx context.Context, identityID string, evt IdentityEvent) (User, error) {
	if evt.Empty() {
		return User{}, apperr.ErrSkipped
	}

	unlock := s.locks.Lock(identityID)
	defer unlock()

	u, err := s.store.UserByIdentityID(ctx, identityID)
	if err != nil {
		return User{}, fmt.Errorf("fetching user by identity[%s]: %w", identityID, err)
	}

	p := DeriveProfile(evt)
	up := UserUp{
		Email: &p.Email,
		Name:  &p.Name,
	}
	if err := validate.Check(up); err != nil {
		return User{}, fmt.Errorf("invalid update for identity[%s]: %w", identityID, err)
	}

	u, err = s.store.UpdateUser(ctx, u, up)
	if err != nil {
		return User{}, fmt.Errorf("updating user of identity[%s]: %w", identityID, err)
	}
	return u, nil
}

// ByEmail looks a user up by the case-insensitive email key.
func (s *Service) ByEmail(ctx context.Context, email string) (User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return User{}, fmt.Errorf("empty email: %w", apperr.ErrNotFound)
	}
	return s.store.UserByEmail(ctx, email)
}
