package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestObserveAssignsRequestIDs(t *testing.T) {
	var inner string
	r := chi.NewRouter()
	r.Use(Observe(nil))
	r.Get("/v1/pairs/{pair}/active", func(w http.ResponseWriter, req *http.Request) {
		inner = req.Header.Get(RequestIDHeader)
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/pairs/A/active", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)
	minted := rec.Header().Get(RequestIDHeader)
	_, err := uuid.Parse(minted)
	require.NoError(t, err)
	require.Equal(t, minted, inner)

	given := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/v1/pairs/A/active", nil)
	req.Header.Set(RequestIDHeader, given)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, given, rec.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/v1/pairs/A/active", nil)
	req.Header.Set(RequestIDHeader, "not-a-uuid")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.NotEqual(t, "not-a-uuid", rec.Header().Get(RequestIDHeader))
}
