package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.Webhook("stripe", "checkout.session.completed", "ok")
	c.Webhook("stripe", "checkout.session.completed", "ok")
	c.Fulfillment("granted")
	c.Conversion("Purchase", false)

	if got := testutil.ToFloat64(c.webhooks.WithLabelValues("stripe", "checkout.session.completed", "ok")); got != 2 {
		t.Fatalf("expected 2 webhook events, got %v", got)
	}
	if got := testutil.ToFloat64(c.fulfillment.WithLabelValues("granted")); got != 1 {
		t.Fatalf("expected 1 grant, got %v", got)
	}

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "checkout_conversion_reports_total") {
		t.Fatalf("expected conversion counter in exposition:\n%s", body)
	}
}
