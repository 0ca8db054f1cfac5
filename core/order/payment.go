package order

import (
	"context"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v74"
	stripecl "github.com/stripe/stripe-go/v74/client"
)

// SessionCreator opens hosted checkout sessions.
type SessionCreator interface {
	NewCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// NewStripeAPI builds a Stripe client. A non empty url points every
// backend at it, as done for a local Stripe mock.
func NewStripeAPI(secret, url string, httpClient *http.Client) *stripecl.API {
	api := &stripecl.API{}
	if url == "" {
		api.Init(secret, nil)
		return api
	}

	if httpClient == nil {
		httpClient = &http.Client{}
	}
	b := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:        stripe.String(url),
		HTTPClient: httpClient,
	})
	api.Init(secret, &stripe.Backends{API: b, Connect: b, Uploads: b})
	return api
}

// Payments adapts the Stripe client to the interfaces of this package.
type Payments struct {
	api *stripecl.API
}

func NewPayments(api *stripecl.API) *Payments {
	return &Payments{api: api}
}

func (p *Payments) NewCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	params.Context = ctx
	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("creating stripe session: %w", err)
	}
	return s, nil
}

// LineItems lists the line items of a session with their products.
func (p *Payments) LineItems(ctx context.Context, sessionID string) ([]*stripe.LineItem, error) {
	params := &stripe.CheckoutSessionListLineItemsParams{
		Session: stripe.String(sessionID),
	}
	params.Context = ctx
	params.AddExpand("data.price.product")

	var items []*stripe.LineItem
	iter := p.api.CheckoutSessions.ListLineItems(params)
	for iter.Next() {
		items = append(items, iter.LineItem())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("listing line items of session[%s]: %w", sessionID, err)
	}
	return items, nil
}
