// Package conversion reports server side conversion events to the ad
// platform. User identifiers are SHA-256 hashed before they leave the
// process and failures are returned as values, never as errors.
package conversion

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/irsalhamdi/course-checkout/core/apperr"
	"github.com/irsalhamdi/course-checkout/random"
	"github.com/sirupsen/logrus"
)

const (
	DefaultBaseURL    = "https://graph.facebook.com"
	DefaultAPIVersion = "v18.0"

	EventPurchase = "Purchase"

	actionSource = "website"
)

// ErrNotConfigured is carried by results when no pixel id or token is set.
var ErrNotConfigured = errors.New("conversion pixel not configured")

type Config struct {
	PixelID     string
	AccessToken string
	TestCode    string
	BaseURL     string
	APIVersion  string
	SourceURL   string
}

// UserData identifies the customer. Email and names are hashed.
type UserData struct {
	Email      string `json:"email"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	ExternalID string `json:"userId"`
}

// EventData describes the event itself. An empty EventID gets generated.
type EventData struct {
	EventID    string         `json:"event_id"`
	SourceURL  string         `json:"source_url"`
	CustomData map[string]any `json:"custom_data"`
}

// Result is the outcome of one report.
type Result struct {
	Success  bool
	EventID  string
	Status   int
	Response json.RawMessage
	Err      error
}

type Client struct {
	cfg  Config
	http *http.Client
	log  logrus.FieldLogger
	now  func() time.Time
}

func New(cfg Config, httpClient *http.Client, log logrus.FieldLogger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		cfg:  cfg,
		http: httpClient,
		log:  log,
		now:  time.Now,
	}
}

// Configured reports whether both the pixel id and the token are set.
func (c *Client) Configured() bool {
	return c.cfg.PixelID != "" && c.cfg.AccessToken != ""
}

// Diagnostics describes the configuration without leaking the token.
type Diagnostics struct {
	Configured        bool   `json:"configured"`
	PixelID           string `json:"pixelId"`
	HasAccessToken    bool   `json:"hasAccessToken"`
	AccessTokenLength int    `json:"accessTokenLength"`
	HasTestCode       bool   `json:"hasTestCode"`
	APIVersion        string `json:"apiVersion"`
}

func (c *Client) Diagnostics() Diagnostics {
	return Diagnostics{
		Configured:        c.Configured(),
		PixelID:           c.cfg.PixelID,
		HasAccessToken:    c.cfg.AccessToken != "",
		AccessTokenLength: len(c.cfg.AccessToken),
		HasTestCode:       c.cfg.TestCode != "",
		APIVersion:        c.cfg.APIVersion,
	}
}

// Hash returns the hex SHA-256 of the lowercased, trimmed value, or the
// empty string for an empty value.
func Hash(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}

type userPayload struct {
	Email      string `json:"em,omitempty"`
	FirstName  string `json:"fn,omitempty"`
	LastName   string `json:"ln,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
}

type eventPayload struct {
	EventName      string         `json:"event_name"`
	EventTime      int64          `json:"event_time"`
	EventID        string         `json:"event_id"`
	EventSourceURL string         `json:"event_source_url,omitempty"`
	ActionSource   string         `json:"action_source"`
	UserData       userPayload    `json:"user_data"`
	CustomData     map[string]any `json:"custom_data"`
}

type payload struct {
	Data          []eventPayload `json:"data"`
	TestEventCode string         `json:"test_event_code,omitempty"`
}

func (c *Client) build(eventName string, data EventData, ud UserData) payload {
	now := c.now().Unix()

	id := data.EventID
	if id == "" {
		id = eventName + "_" + strconv.FormatInt(now, 10) + "_" + random.Base36(9)
	}

	src := data.SourceURL
	if src == "" {
		src = c.cfg.SourceURL
	}

	custom := data.CustomData
	if custom == nil {
		custom = map[string]any{}
	}

	return payload{
		Data: []eventPayload{{
			EventName:      eventName,
			EventTime:      now,
			EventID:        id,
			EventSourceURL: src,
			ActionSource:   actionSource,
			UserData: userPayload{
				Email:      Hash(ud.Email),
				FirstName:  Hash(ud.FirstName),
				LastName:   Hash(ud.LastName),
				ExternalID: ud.ExternalID,
			},
			CustomData: custom,
		}},
		TestEventCode: c.cfg.TestCode,
	}
}

// Report posts one event. It never fails past this boundary: every
// problem is carried in the returned Result.
func (c *Client) Report(ctx context.Context, eventName string, data EventData, ud UserData) Result {
	log := c.log.WithField("event_name", eventName)

	if !c.Configured() {
		log.Warn("conversion pixel not configured")
		return Result{Err: ErrNotConfigured}
	}

	p := c.build(eventName, data, ud)
	res := Result{EventID: p.Data[0].EventID}
	log = log.WithField("event_id", res.EventID)

	body, err := json.Marshal(p)
	if err != nil {
		res.Err = fmt.Errorf("encoding conversion payload: %w", err)
		return res
	}

	u := fmt.Sprintf("%s/%s/%s/events?%s",
		strings.TrimRight(c.cfg.BaseURL, "/"),
		c.cfg.APIVersion,
		url.PathEscape(c.cfg.PixelID),
		url.Values{"access_token": {c.cfg.AccessToken}}.Encode(),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		res.Err = fmt.Errorf("building conversion request: %w", err)
		return res
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		log.WithError(err).Warn("conversion request failed")
		res.Err = fmt.Errorf("posting conversion: %w: %w", apperr.ErrUpstream, err)
		return res
	}
	defer resp.Body.Close()

	res.Status = resp.StatusCode
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if json.Valid(b) {
		res.Response = json.RawMessage(b)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.WithField("statuscode", resp.StatusCode).Warn("conversion rejected")
		res.Err = fmt.Errorf("conversion rejected with status %d: %w", resp.StatusCode, apperr.ErrUpstream)
		return res
	}

	log.WithField("test_mode", c.cfg.TestCode != "").Info("conversion reported")
	res.Success = true
	return res
}
