// Package strapi is a typed client for the headless content backend that
// stores customers ("clientes") and courses.
package strapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/irsalhamdi/course-checkout/core/apperr"
	"github.com/irsalhamdi/course-checkout/core/course"
	"github.com/irsalhamdi/course-checkout/core/user"
	"github.com/sirupsen/logrus"
)

const (
	usersPath   = "/api/clientes"
	coursesPath = "/api/courses"

	maxErrorBody = 4096
)

// StatusError is returned for non 2xx answers of the backend.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Is matches apperr.ErrUpstream, and apperr.ErrNotFound for 404 answers.
func (e *StatusError) Is(target error) bool {
	switch target {
	case apperr.ErrUpstream:
		return true
	case apperr.ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     logrus.FieldLogger
}

// New builds a client for the backend at baseURL. The token is sent as a
// bearer token when not empty.
func New(baseURL, token string, httpClient *http.Client, log logrus.FieldLogger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
		log:     log,
	}
}

// filter builds the filters[field][op]=value query shared by lookups.
func filter(field, op, value string) url.Values {
	q := url.Values{}
	q.Set(fmt.Sprintf("filters[%s][%s]", field, op), value)
	q.Set("populate", "*")
	return q
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, dst any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(map[string]any{"data": body})
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return fmt.Errorf("building request %s %s: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s %s: %w: %w", method, path, apperr.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.log.WithFields(logrus.Fields{
			"method":     method,
			"path":       path,
			"statuscode": resp.StatusCode,
		}).Warn("content backend request failed")
		return &StatusError{Method: method, Path: path, Status: resp.StatusCode, Body: string(b)}
	}

	if dst == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decoding %s %s: %w: %w", method, path, apperr.ErrUpstream, err)
	}
	return nil
}

type listEnvelope struct {
	Data []json.RawMessage `json:"data"`
}

type oneEnvelope struct {
	Data json.RawMessage `json:"data"`
}

func (c *Client) firstUser(ctx context.Context, query url.Values, key string) (user.User, error) {
	var env listEnvelope
	if err := c.do(ctx, http.MethodGet, usersPath, query, nil, &env); err != nil {
		return user.User{}, err
	}
	if len(env.Data) == 0 {
		return user.User{}, fmt.Errorf("user[%s]: %w", key, apperr.ErrNotFound)
	}
	return decodeUser(env.Data[0])
}

// UserByIdentityID looks a user up by identity provider id.
func (c *Client) UserByIdentityID(ctx context.Context, identityID string) (user.User, error) {
	return c.firstUser(ctx, filter("clerkId", "$eq", identityID), identityID)
}

// UserByEmail looks a user up by email, ignoring case.
func (c *Client) UserByEmail(ctx context.Context, email string) (user.User, error) {
	return c.firstUser(ctx, filter("email", "$eqi", email), email)
}

// UserBySlug looks a user up by its slug.
func (c *Client) UserBySlug(ctx context.Context, slug string) (user.User, error) {
	return c.firstUser(ctx, filter("slug", "$eq", slug), slug)
}

func (c *Client) User(ctx context.Context, id string) (user.User, error) {
	var env oneEnvelope
	if err := c.do(ctx, http.MethodGet, usersPath+"/"+url.PathEscape(id), url.Values{"populate": {"*"}}, nil, &env); err != nil {
		return user.User{}, err
	}
	if isNull(env.Data) {
		return user.User{}, fmt.Errorf("user[%s]: %w", id, apperr.ErrNotFound)
	}
	return decodeUser(env.Data)
}

func (c *Client) CreateUser(ctx context.Context, nu user.UserNew) (user.User, error) {
	var env oneEnvelope
	if err := c.do(ctx, http.MethodPost, usersPath, url.Values{"populate": {"*"}}, nu, &env); err != nil {
		return user.User{}, err
	}
	return decodeUser(env.Data)
}

// UpdateUser writes up to the user record. It addresses the record by its
// numeric id first and retries with the document id when that is unknown
// to the backend.
func (c *Client) UpdateUser(ctx context.Context, u user.User, up user.UserUp) (user.User, error) {
	updated, err := c.updateUser(ctx, strconv.Itoa(u.ID), up)
	if errors.Is(err, apperr.ErrNotFound) && u.DocumentID != "" {
		c.log.WithFields(logrus.Fields{
			"user_id":     u.ID,
			"document_id": u.DocumentID,
		}).Info("retrying user update with document id")
		updated, err = c.updateUser(ctx, u.DocumentID, up)
	}
	if err != nil {
		return user.User{}, err
	}

	if up.CourseIDs != nil && updated.CourseIDs == nil {
		updated.CourseIDs = up.CourseIDs
	}
	return updated, nil
}

func (c *Client) updateUser(ctx context.Context, id string, up user.UserUp) (user.User, error) {
	var env oneEnvelope
	if err := c.do(ctx, http.MethodPut, usersPath+"/"+url.PathEscape(id), url.Values{"populate": {"*"}}, up, &env); err != nil {
		return user.User{}, err
	}
	return decodeUser(env.Data)
}

// Courses lists every course of the catalog.
func (c *Client) Courses(ctx context.Context) ([]course.Course, error) {
	q := url.Values{}
	q.Set("populate", "*")
	q.Set("pagination[pageSize]", "100")

	var env listEnvelope
	if err := c.do(ctx, http.MethodGet, coursesPath, q, nil, &env); err != nil {
		return nil, err
	}

	courses := make([]course.Course, 0, len(env.Data))
	for _, raw := range env.Data {
		cs, err := decodeCourse(raw)
		if err != nil {
			return nil, err
		}
		courses = append(courses, cs)
	}
	return courses, nil
}

// CourseBySlug looks a course up by its slug.
func (c *Client) CourseBySlug(ctx context.Context, slug string) (course.Course, error) {
	var env listEnvelope
	if err := c.do(ctx, http.MethodGet, coursesPath, filter("slug", "$eq", slug), nil, &env); err != nil {
		return course.Course{}, err
	}
	if len(env.Data) == 0 {
		return course.Course{}, fmt.Errorf("course[%s]: %w", slug, apperr.ErrNotFound)
	}
	return decodeCourse(env.Data[0])
}

func (c *Client) Course(ctx context.Context, id string) (course.Course, error) {
	var env oneEnvelope
	if err := c.do(ctx, http.MethodGet, coursesPath+"/"+url.PathEscape(id), url.Values{"populate": {"*"}}, nil, &env); err != nil {
		return course.Course{}, err
	}
	if isNull(env.Data) {
		return course.Course{}, fmt.Errorf("course[%s]: %w", id, apperr.ErrNotFound)
	}
	return decodeCourse(env.Data)
}
