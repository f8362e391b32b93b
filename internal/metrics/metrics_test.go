package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware_LabelsByPattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/ingredients/{name}/products", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := Middleware(mux)

	counter := httpRequestsTotal.WithLabelValues("GET", "GET /api/v1/ingredients/{name}/products", "418")
	before := testutil.ToFloat64(counter)

	for _, name := range []string{"niacinamide", "retinol"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/ingredients/"+name+"/products", nil)
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	if got := testutil.ToFloat64(counter) - before; got != 2 {
		t.Errorf("expected 2 requests under the route pattern, got %v", got)
	}
}

func TestMiddleware_Unmatched(t *testing.T) {
	handler := Middleware(http.NotFoundHandler())

	counter := httpRequestsTotal.WithLabelValues("GET", "unmatched", "404")
	before := testutil.ToFloat64(counter)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("expected 1 unmatched request, got %v", got)
	}
}

func TestAuthAction(t *testing.T) {
	ok := authActionsTotal.WithLabelValues("sign_out", "ok")
	failed := authActionsTotal.WithLabelValues("sign_out", "error")
	okBefore, failedBefore := testutil.ToFloat64(ok), testutil.ToFloat64(failed)

	AuthAction("sign_out", nil)
	AuthAction("sign_out", errors.New("boom"))

	if testutil.ToFloat64(ok)-okBefore != 1 || testutil.ToFloat64(failed)-failedBefore != 1 {
		t.Error("expected one ok and one error sample")
	}
}
