package weberr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var errBase = errors.New("base")

func TestResponse(t *testing.T) {
	err := fmt.Errorf("handler: %w", BadRequest(errBase))

	body, status, ok := Response(err)
	if !ok || status != http.StatusBadRequest {
		t.Fatalf("expected a 400 response, got %v %d", ok, status)
	}
	if diff := cmp.Diff(&ErrorResponse{Error: "bad request"}, body); diff != "" {
		t.Fatalf("unexpected body (-want +got):\n%s", diff)
	}
	if !errors.Is(err, errBase) {
		t.Fatalf("the cause must stay reachable")
	}
}

func TestDetailedError(t *testing.T) {
	err := NewDetailedError(errBase, "error sending event", "Invalid parameter", http.StatusInternalServerError)

	body, status, _ := Response(err)
	if status != http.StatusInternalServerError {
		t.Fatalf("unexpected status %d", status)
	}
	if diff := cmp.Diff(&ErrorResponse{Error: "error sending event", Details: "Invalid parameter"}, body); diff != "" {
		t.Fatalf("unexpected body (-want +got):\n%s", diff)
	}
}

func TestFields(t *testing.T) {
	inner := Wrap(errBase, WithFields(map[string]interface{}{"a": 1, "b": 1}))
	err := InternalError(inner, WithFields(map[string]interface{}{"b": 2}))

	got, ok := Fields(err)
	if !ok {
		t.Fatalf("expected fields")
	}
	if diff := cmp.Diff(map[string]interface{}{"a": 1, "b": 2}, got); diff != "" {
		t.Fatalf("unexpected fields (-want +got):\n%s", diff)
	}

	if _, ok := Fields(errBase); ok {
		t.Fatalf("a plain error has no fields")
	}
}
