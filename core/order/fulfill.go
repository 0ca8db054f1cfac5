package order

import (
	"context"
	"fmt"
	"strings"

	"github.com/irsalhamdi/course-checkout/conversion"
	"github.com/irsalhamdi/course-checkout/core/apperr"
	"github.com/irsalhamdi/course-checkout/core/course"
	"github.com/irsalhamdi/course-checkout/core/user"
	"github.com/irsalhamdi/course-checkout/idempotency"
	"github.com/irsalhamdi/course-checkout/keylock"
	"github.com/irsalhamdi/course-checkout/metrics"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74"
)

// Store is the part of the content backend fulfillment needs. Lookups
// return an error wrapping apperr.ErrNotFound when nothing matches.
type Store interface {
	Courses(ctx context.Context) ([]course.Course, error)
	CourseBySlug(ctx context.Context, slug string) (course.Course, error)
	UserByIdentityID(ctx context.Context, identityID string) (user.User, error)
	UserByEmail(ctx context.Context, email string) (user.User, error)
	UpdateUser(ctx context.Context, u user.User, up user.UserUp) (user.User, error)
}

// LineItemLister fetches the purchased items of a checkout session with
// their products expanded.
type LineItemLister interface {
	LineItems(ctx context.Context, sessionID string) ([]*stripe.LineItem, error)
}

// Reporter sends conversion events. It reports failures in the result.
type Reporter interface {
	Report(ctx context.Context, eventName string, data conversion.EventData, ud conversion.UserData) conversion.Result
}

type Fulfiller struct {
	store    Store
	items    LineItemLister
	reporter Reporter
	ledger   idempotency.Ledger
	metrics  *metrics.Collector
	log      logrus.FieldLogger
	locks    *keylock.Locker
	currency string
}

type FulfillerConfig struct {
	Store    Store
	Items    LineItemLister
	Reporter Reporter
	Ledger   idempotency.Ledger
	Metrics  *metrics.Collector
	Log      logrus.FieldLogger
	Currency string
}

func NewFulfiller(cfg FulfillerConfig) *Fulfiller {
	currency := cfg.Currency
	if currency == "" {
		currency = "mxn"
	}
	return &Fulfiller{
		store:    cfg.Store,
		items:    cfg.Items,
		reporter: cfg.Reporter,
		ledger:   cfg.Ledger,
		metrics:  cfg.Metrics,
		log:      cfg.Log,
		locks:    keylock.New(),
		currency: currency,
	}
}

func productName(li *stripe.LineItem) string {
	if li.Price != nil && li.Price.Product != nil && li.Price.Product.Name != "" {
		return li.Price.Product.Name
	}
	return li.Description
}

func productSlug(li *stripe.LineItem) string {
	if li.Price == nil || li.Price.Product == nil {
		return ""
	}
	return strings.TrimSpace(li.Price.Product.Metadata[MetaCourseSlug])
}

// ResolveCourseSlug finds the course bought in the session. It reads the
// session metadata, then the metadata of the purchased products, then
// falls back to matching product names against course names. A fuzzy
// result may name the wrong course when names overlap. An empty slug
// means nothing matched.
func (f *Fulfiller) ResolveCourseSlug(ctx context.Context, s *stripe.CheckoutSession) (Resolution, error) {
	if slug := strings.TrimSpace(s.Metadata[MetaCourseSlug]); slug != "" {
		return Resolution{Slug: slug, Confidence: ConfidenceMetadata}, nil
	}

	var items []*stripe.LineItem
	if s.LineItems != nil && len(s.LineItems.Data) > 0 {
		items = s.LineItems.Data
	} else {
		var err error
		items, err = f.items.LineItems(ctx, s.ID)
		if err != nil {
			return Resolution{}, fmt.Errorf("listing line items of session[%s]: %w: %w", s.ID, apperr.ErrUpstream, err)
		}
	}

	for _, li := range items {
		if slug := productSlug(li); slug != "" {
			return Resolution{Slug: slug, Confidence: ConfidenceProduct, Product: productName(li)}, nil
		}
	}

	var names []string
	for _, li := range items {
		if n := strings.TrimSpace(productName(li)); n != "" {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return Resolution{}, nil
	}

	courses, err := f.store.Courses(ctx)
	if err != nil {
		return Resolution{}, fmt.Errorf("listing courses: %w", err)
	}

	for _, n := range names {
		if c, ok := course.FindByName(courses, n); ok {
			f.log.WithFields(logrus.Fields{
				"session_id":  s.ID,
				"product":     n,
				"course_slug": c.Slug,
			}).Warn("course resolved by name match")
			return Resolution{Slug: c.Slug, Confidence: ConfidenceFuzzy, Product: n}, nil
		}
	}
	return Resolution{}, nil
}

// GrantCourseBySlug adds the course to the user holding identityID.
// Grants for one user are serialized inside this process.
func (f *Fulfiller) GrantCourseBySlug(ctx context.Context, identityID, slug string) (Outcome, error) {
	c, err := f.store.CourseBySlug(ctx, slug)
	if err != nil {
		return Unresolved, fmt.Errorf("fetching course[%s]: %w", slug, err)
	}

	unlock := f.locks.Lock(identityID)
	defer unlock()

	u, err := f.store.UserByIdentityID(ctx, identityID)
	if err != nil {
		return Unresolved, fmt.Errorf("fetching user of identity[%s]: %w", identityID, err)
	}

	if u.Owns(c.ID) {
		return AlreadyOwned, nil
	}

	ids := make([]int, 0, len(u.CourseIDs)+1)
	ids = append(ids, u.CourseIDs...)
	ids = append(ids, c.ID)

	if _, err := f.store.UpdateUser(ctx, u, user.UserUp{CourseIDs: ids}); err != nil {
		return Unresolved, fmt.Errorf("granting course[%s] to user[%d]: %w", slug, u.ID, err)
	}

	f.log.WithFields(logrus.Fields{
		"user_id":     u.ID,
		"identity_id": identityID,
		"course_id":   c.ID,
		"course_slug": slug,
	}).Info("course granted")

	return Granted, nil
}

func customerEmail(s *stripe.CheckoutSession) string {
	if s.CustomerDetails != nil && s.CustomerDetails.Email != "" {
		return s.CustomerDetails.Email
	}
	return s.CustomerEmail
}

func splitName(name string) (string, string) {
	first, last, _ := strings.Cut(strings.TrimSpace(name), " ")
	return first, strings.TrimSpace(last)
}

// Complete reconciles a completed checkout session: it resolves course
// and buyer, grants the course and reports the purchase once. Sessions
// already claimed in the ledger are skipped.
func (f *Fulfiller) Complete(ctx context.Context, s *stripe.CheckoutSession) (Outcome, error) {
	log := f.log.WithField("session_id", s.ID)
	key := "checkout:" + s.ID

	claimed, err := f.ledger.Claim(ctx, key)
	switch {
	case err != nil:
		log.WithError(err).Warn("idempotency ledger unavailable, processing anyway")
	case !claimed:
		log.Info("checkout session already processed")
		f.record(Duplicate)
		return Duplicate, nil
	}

	outcome, err := f.complete(ctx, log, s)
	f.record(outcome)

	if err != nil && claimed {
		if rerr := f.ledger.Release(ctx, key); rerr != nil {
			log.WithError(rerr).Warn("releasing checkout session claim")
		}
	}
	return outcome, err
}

func (f *Fulfiller) complete(ctx context.Context, log logrus.FieldLogger, s *stripe.CheckoutSession) (Outcome, error) {
	res, err := f.ResolveCourseSlug(ctx, s)
	if err != nil {
		return Unresolved, err
	}
	if res.Slug == "" {
		return Unresolved, fmt.Errorf("no course slug for session[%s]: %w", s.ID, apperr.ErrNotFound)
	}
	log = log.WithFields(logrus.Fields{
		"course_slug": res.Slug,
		"confidence":  res.Confidence.String(),
	})

	email := user.NormalizeEmail(customerEmail(s))
	if email == "" {
		return Unresolved, fmt.Errorf("session[%s] carries no customer email: %w", s.ID, apperr.ErrNotFound)
	}

	u, err := f.store.UserByEmail(ctx, email)
	if err != nil {
		return Unresolved, fmt.Errorf("fetching buyer[%s]: %w", email, err)
	}
	if u.IdentityID == "" {
		return Unresolved, fmt.Errorf("buyer[%s] has no identity id: %w", email, apperr.ErrNotFound)
	}

	outcome, err := f.GrantCourseBySlug(ctx, u.IdentityID, res.Slug)
	if err != nil {
		return outcome, err
	}
	if outcome != Granted {
		log.WithField("user_id", u.ID).Info("course already owned")
		return outcome, nil
	}

	f.reportPurchase(ctx, log, s, res.Slug, u)
	return outcome, nil
}

func (f *Fulfiller) reportPurchase(ctx context.Context, log logrus.FieldLogger, s *stripe.CheckoutSession, slug string, u user.User) {
	currency := strings.ToUpper(string(s.Currency))
	if currency == "" {
		currency = strings.ToUpper(f.currency)
	}

	name := u.Name
	if s.CustomerDetails != nil && s.CustomerDetails.Name != "" {
		name = s.CustomerDetails.Name
	}
	first, last := splitName(name)

	data := conversion.EventData{
		EventID: "purchase_" + s.ID,
		CustomData: map[string]any{
			"currency":       currency,
			"value":          float64(s.AmountTotal) / 100,
			"content_name":   slug,
			"content_type":   "product",
			"content_ids":    []string{slug},
			"course_slug":    slug,
			"session_id":     s.ID,
			"payment_status": string(s.PaymentStatus),
		},
	}

	res := f.reporter.Report(ctx, conversion.EventPurchase, data, conversion.UserData{
		Email:      u.Email,
		FirstName:  first,
		LastName:   last,
		ExternalID: u.IdentityID,
	})
	if f.metrics != nil {
		f.metrics.Conversion(conversion.EventPurchase, res.Success)
	}
	if !res.Success {
		log.WithError(res.Err).Warn("purchase conversion not reported")
	}
}

func (f *Fulfiller) record(o Outcome) {
	if f.metrics != nil {
		f.metrics.Fulfillment(string(o))
	}
}
