package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/medflow/stockledger/pkg/actor"
	"github.com/medflow/stockledger/pkg/errors"
	"github.com/medflow/stockledger/pkg/logger"
	"github.com/medflow/stockledger/pkg/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTenant = "3c9e2b71-5f0a-4d8e-b6c1-94a7e2d05f13"

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) *ErrorBody {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.False(t, resp.Success)
	return resp.Error
}

func TestRequestID_PropagatesAsCorrelationID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.CorrelationID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/products", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", seen)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
}

func TestTenantMiddleware(t *testing.T) {
	var got string
	h := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = tenant.TenantID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("missing tenant", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products", nil))

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "TENANT_REQUIRED", decodeError(t, rec).Code)
	})

	t.Run("malformed tenant", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/products", nil)
		req.Header.Set("X-Tenant-ID", "clinic-7")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("valid tenant is normalized", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/products", nil)
		req.Header.Set("X-Tenant-ID", "3C9E2B71-5F0A-4D8E-B6C1-94A7E2D05F13")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, testTenant, got)
	})

	t.Run("health is exempt", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestActorMiddleware(t *testing.T) {
	var got *actor.Actor
	h := TenantMiddleware(ActorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = actor.FromContext(r.Context())
	})))

	req := httptest.NewRequest(http.MethodPost, "/stock/entries", nil)
	req.Header.Set("X-Tenant-ID", testTenant)
	req.Header.Set("X-User-ID", "user-9")
	req.Header.Set("X-User-Name", "Dr. Weber")
	req.Header.Set("X-User-Role", "nurse")
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, got)
	assert.Equal(t, &actor.Actor{ID: "user-9", TenantID: testTenant, Name: "Dr. Weber", Role: "nurse"}, got)

	req = httptest.NewRequest(http.MethodPost, "/stock/entries", nil)
	req.Header.Set("X-Tenant-ID", testTenant)
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.True(t, got.IsSystem())
	assert.Equal(t, testTenant, got.TenantID)
}

func TestRecoverer_Returns500(t *testing.T) {
	h := Recoverer(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("nil lot")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/lots", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeError(t, rec).Code)
}

func TestError_HidesUnknownErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, httptest.NewRequest(http.MethodGet, "/", nil), assert.AnError)

	body := decodeError(t, rec)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, body.Message, assert.AnError.Error())
}

func TestError_RendersDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, httptest.NewRequest(http.MethodGet, "/", nil),
		errors.Validation(map[string]string{"quantity": "must be greater than zero"}))

	body := decodeError(t, rec)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "must be greater than zero", body.Details["quantity"])
}

func TestPagination(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", 50, 0},
		{"?limit=10&offset=20", 10, 20},
		{"?limit=5000", 200, 0},
		{"?limit=-1&offset=-5", 50, 0},
		{"?limit=abc", 50, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			limit, offset := Pagination(httptest.NewRequest(http.MethodGet, "/products"+tt.query, nil), 50, 200)
			assert.Equal(t, tt.wantLimit, limit)
			assert.Equal(t, tt.wantOffset, offset)
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	var body struct {
		Quantity int `json:"quantity"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quantity": 3}`))
	require.NoError(t, DecodeJSON(req, &body))
	assert.Equal(t, 3, body.Quantity)

	for _, raw := range []string{`{"quantity": 3, "lot": "x"}`, `{"quantity": 3} {"quantity": 4}`, `{`} {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(raw))
		err := DecodeJSON(req, &body)
		assert.True(t, errors.Is(err, errors.ErrBadRequest), raw)
	}
}
