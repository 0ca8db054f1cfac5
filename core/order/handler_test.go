package order

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/irsalhamdi/course-checkout/api/middleware"
	"github.com/irsalhamdi/course-checkout/api/web"
	"github.com/irsalhamdi/course-checkout/core/course"
	"github.com/irsalhamdi/course-checkout/core/user"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"
	mock "github.com/stripe/stripe-mock/param"
)

const webhookSecret = "whsec_test_secret"

func serve(t *testing.T, h web.Handler, r *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	log, _ := logtest.NewNullLogger()
	h = web.WrapMiddleware([]web.Middleware{middleware.Errors(log)}, h)

	w := httptest.NewRecorder()
	if err := h(r.Context(), w, r); err != nil {
		t.Fatalf("unhandled error: %v", err)
	}
	return w
}

func stripeEvent(t *testing.T, kind Kind, obj map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":          "evt_1",
		"object":      "event",
		"api_version": stripe.APIVersion,
		"type":        string(kind),
		"data":        map[string]any{"object": obj},
	})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func signedRequest(payload []byte) *http.Request {
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    webhookSecret,
		Timestamp: time.Now(),
	})
	r := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(sp.Payload))
	r.Header.Set("Stripe-Signature", sp.Header)
	return r
}

func completedSession(id string) map[string]any {
	return map[string]any{
		"id":             id,
		"object":         "checkout.session",
		"mode":           "payment",
		"payment_status": "paid",
		"amount_total":   29900,
		"currency":       "mxn",
		"metadata":       map[string]string{MetaCourseSlug: "diabetes"},
		"customer_details": map[string]any{
			"email": "ana@example.com",
			"name":  "Ana López",
		},
	}
}

func webhookFixture(t *testing.T) (*fixture, web.Handler) {
	t.Helper()
	fx := newFixture(t)
	fx.store.AddCourse(course.Course{Slug: "diabetes", Name: "Diabetes", Price: 299})
	fx.store.AddUser(user.User{IdentityID: "user_1", Email: "ana@example.com"})

	log, _ := logtest.NewNullLogger()
	return fx, HandleStripeWebhook(fx.f, webhookSecret, log, nil)
}

func TestStripeWebhookGrants(t *testing.T) {
	fx, h := webhookFixture(t)

	w := serve(t, h, signedRequest(stripeEvent(t, KindCheckoutCompleted, completedSession("cs_1"))))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"received":true}` {
		t.Fatalf("unexpected body %s", got)
	}
	if got := len(fx.store.Users()[0].CourseIDs); got != 1 {
		t.Fatalf("expected one granted course, got %d", got)
	}
	if n := fx.reporter.count(); n != 1 {
		t.Fatalf("expected one report, got %d", n)
	}
}

func TestStripeWebhookRedelivery(t *testing.T) {
	fx, h := webhookFixture(t)
	payload := stripeEvent(t, KindCheckoutCompleted, completedSession("cs_1"))

	for i := 0; i < 3; i++ {
		if w := serve(t, h, signedRequest(payload)); w.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected status 200, got %d", i, w.Code)
		}
	}

	if fx.store.Updates != 1 {
		t.Fatalf("expected one write, got %d", fx.store.Updates)
	}
	if n := fx.reporter.count(); n != 1 {
		t.Fatalf("expected one report, got %d", n)
	}
}

func TestStripeWebhookRejectsBadSignatures(t *testing.T) {
	fx, h := webhookFixture(t)
	payload := stripeEvent(t, KindCheckoutCompleted, completedSession("cs_1"))

	tampered := signedRequest(payload)
	body, _ := io.ReadAll(tampered.Body)
	body = bytes.Replace(body, []byte("cs_1"), []byte("cs_2"), 1)
	tampered.Body = io.NopCloser(bytes.NewReader(body))

	unsigned := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))

	wrongSecret := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	wrongSecret.Header.Set("Stripe-Signature", webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_other",
		Timestamp: time.Now(),
	}).Header)

	for name, r := range map[string]*http.Request{
		"tampered":     tampered,
		"unsigned":     unsigned,
		"wrong secret": wrongSecret,
	} {
		t.Run(name, func(t *testing.T) {
			if w := serve(t, h, r); w.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", w.Code)
			}
		})
	}

	if fx.store.Updates != 0 || fx.reporter.count() != 0 {
		t.Fatalf("expected no side effects, got %d writes and %d reports", fx.store.Updates, fx.reporter.count())
	}
}

func TestStripeWebhookAcknowledges(t *testing.T) {
	unpaid := completedSession("cs_1")
	unpaid["payment_status"] = "unpaid"

	subscription := completedSession("cs_1")
	subscription["mode"] = "subscription"

	tests := []struct {
		name string
		kind Kind
		obj  map[string]any
	}{
		{name: "payment succeeded", kind: KindPaymentSucceeded, obj: map[string]any{"id": "pi_1", "object": "payment_intent"}},
		{name: "payment failed", kind: KindPaymentFailed, obj: map[string]any{"id": "pi_1", "object": "payment_intent"}},
		{name: "unknown", kind: Kind("customer.created"), obj: map[string]any{"id": "cus_1", "object": "customer"}},
		{name: "unpaid session", kind: KindCheckoutCompleted, obj: unpaid},
		{name: "subscription", kind: KindCheckoutCompleted, obj: subscription},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx, h := webhookFixture(t)
			if w := serve(t, h, signedRequest(stripeEvent(t, tt.kind, tt.obj))); w.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", w.Code)
			}
			if fx.store.Updates != 0 {
				t.Fatalf("expected no write, got %d", fx.store.Updates)
			}
		})
	}
}

func TestStripeWebhookUnknownBuyer(t *testing.T) {
	fx, h := webhookFixture(t)
	s := completedSession("cs_1")
	s["customer_details"] = map[string]any{"email": "nadie@example.com"}

	if w := serve(t, h, signedRequest(stripeEvent(t, KindCheckoutCompleted, s))); w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if fx.store.Updates != 0 {
		t.Fatalf("expected no write, got %d", fx.store.Updates)
	}
}

type stubCreator struct {
	params *stripe.CheckoutSessionParams
	err    error
}

func (s *stubCreator) NewCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	s.params = params
	if s.err != nil {
		return nil, s.err
	}
	return &stripe.CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.com/c/pay/cs_1"}, nil
}

func checkoutRequest(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(body))
}

func TestCheckoutRejectsBadCarts(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "malformed", body: `{"items":`},
		{name: "no items", body: `{"items":[]}`},
		{name: "missing items", body: `{}`},
		{name: "no price", body: `{"items":[{"name":"Diabetes","slug":"diabetes"}]}`},
		{name: "no name", body: `{"items":[{"price":299,"slug":"diabetes"}]}`},
		{name: "bad slug", body: `{"items":[{"name":"Diabetes","price":299,"slug":"Diabetes Básico"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := &stubCreator{}
			h := HandleCheckout(sc, CheckoutConfig{AppURL: "https://cursos.example.com"}, nil)

			if w := serve(t, h, checkoutRequest(tt.body)); w.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d: %s", w.Code, w.Body)
			}
			if sc.params != nil {
				t.Fatalf("no session must be created")
			}
		})
	}
}

func TestCheckoutProviderFailure(t *testing.T) {
	sc := &stubCreator{err: errors.New("card declined")}
	h := HandleCheckout(sc, CheckoutConfig{AppURL: "https://cursos.example.com"}, nil)

	w := serve(t, h, checkoutRequest(`{"items":[{"name":"Diabetes","price":299,"slug":"diabetes"}]}`))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", w.Code)
	}
}

func TestSessionParams(t *testing.T) {
	cart := Cart{Items: []Item{
		{Name: "Curso de Diabetes", Price: 299.5, CourseSlug: "diabetes", ID: "12"},
		{Name: "Renal", Description: "Módulo renal", Price: 100, Quantity: 2, Slug: "renal"},
	}}

	p := SessionParams(cart, CheckoutConfig{AppURL: "https://cursos.example.com/"})

	expSuccess := "https://cursos.example.com/success?payment_intent={CHECKOUT_SESSION_ID}&course_id=diabetes&amount=299.5&course_name=Curso+de+Diabetes"
	if got := stripe.StringValue(p.SuccessURL); got != expSuccess {
		t.Fatalf("unexpected success url %s", got)
	}
	if got := stripe.StringValue(p.CancelURL); got != "https://cursos.example.com/cancel" {
		t.Fatalf("unexpected cancel url %s", got)
	}

	expMeta := map[string]string{
		MetaCourseSlug:  "diabetes",
		MetaCourseName:  "Curso de Diabetes",
		MetaCoursePrice: "299.5",
	}
	if diff := cmp.Diff(expMeta, p.Metadata); diff != "" {
		t.Fatalf("unexpected metadata (-want +got):\n%s", diff)
	}

	if len(p.LineItems) != 2 {
		t.Fatalf("expected 2 line items, got %d", len(p.LineItems))
	}
	first, second := p.LineItems[0], p.LineItems[1]
	if got := stripe.Int64Value(first.PriceData.UnitAmount); got != 29950 {
		t.Fatalf("unexpected unit amount %d", got)
	}
	if got := stripe.StringValue(first.PriceData.Currency); got != "mxn" {
		t.Fatalf("unexpected currency %s", got)
	}
	if got := stripe.StringValue(first.PriceData.ProductData.Description); got != "Acceso completo al curso: Curso de Diabetes" {
		t.Fatalf("unexpected default description %s", got)
	}
	if diff := cmp.Diff(map[string]string{MetaCourseSlug: "diabetes", MetaCourseID: "12"}, first.PriceData.ProductData.Metadata); diff != "" {
		t.Fatalf("unexpected product metadata (-want +got):\n%s", diff)
	}
	if got := stripe.Int64Value(second.Quantity); got != 2 {
		t.Fatalf("unexpected quantity %d", got)
	}
	if got := stripe.StringValue(second.PriceData.ProductData.Description); got != "Módulo renal" {
		t.Fatalf("unexpected description %s", got)
	}
}

// formValue walks the nested form parsed by the Stripe mock.
func formValue(params map[string]interface{}, keys ...string) interface{} {
	var cur interface{} = params
	for _, k := range keys {
		switch v := cur.(type) {
		case map[string]interface{}:
			cur = v[k]
		case []interface{}:
			if k != "0" || len(v) == 0 {
				return nil
			}
			cur = v[0]
		default:
			return nil
		}
	}
	return cur
}

func TestCheckoutAgainstStripe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
			return
		}

		params, err := mock.ParseParams(r)
		if err != nil {
			t.Errorf("parsing params: %v", err)
		}

		checks := map[string]interface{}{
			"mode":                  formValue(params, "mode"),
			"customer_creation":     formValue(params, "customer_creation"),
			"billing":               formValue(params, "billing_address_collection"),
			"metadata[course_slug]": formValue(params, "metadata", "course_slug"),
			"unit_amount":           formValue(params, "line_items", "0", "price_data", "unit_amount"),
			"currency":              formValue(params, "line_items", "0", "price_data", "currency"),
		}
		exp := map[string]interface{}{
			"mode":                  "payment",
			"customer_creation":     "always",
			"billing":               "required",
			"metadata[course_slug]": "diabetes",
			"unit_amount":           "29900",
			"currency":              "mxn",
		}
		if diff := cmp.Diff(exp, checks); diff != "" {
			t.Errorf("unexpected session params (-want +got):\n%s", diff)
		}

		io.WriteString(w, `{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_1"}`)
	}))
	defer srv.Close()

	payments := NewPayments(NewStripeAPI("sk_test_123", srv.URL, srv.Client()))
	h := HandleCheckout(payments, CheckoutConfig{AppURL: "https://cursos.example.com"}, nil)

	w := serve(t, h, checkoutRequest(`{"items":[{"name":"Diabetes","price":299,"slug":"diabetes","courseId":1}]}`))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body)
	}

	var got Redirect
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.URL != "https://checkout.stripe.com/c/pay/cs_test_1" {
		t.Fatalf("unexpected redirect %+v", got)
	}
}

func TestLineItemsAgainstStripe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions/cs_1/line_items" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if !strings.Contains(r.URL.RawQuery, "data.price.product") {
			t.Errorf("line item products are not expanded: %s", r.URL.RawQuery)
		}
		io.WriteString(w, `{"object":"list","url":"/v1/checkout/sessions/cs_1/line_items","has_more":false,"data":[
			{"id":"li_1","object":"item","description":"Diabetes","price":{"id":"price_1","object":"price","product":{"id":"prod_1","object":"product","name":"Diabetes","metadata":{"course_slug":"diabetes"}}}}
		]}`)
	}))
	defer srv.Close()

	payments := NewPayments(NewStripeAPI("sk_test_123", srv.URL, srv.Client()))
	items, err := payments.LineItems(context.Background(), "cs_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || productSlug(items[0]) != "diabetes" {
		t.Fatalf("unexpected line items %+v", items)
	}
}
