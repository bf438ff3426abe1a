package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/clinicops/internal/auth"
)

var testSecret = []byte("test-secret")

func protected(t *testing.T) (http.Handler, *auth.AuthContext) {
	t.Helper()
	var seen auth.AuthContext
	h := RequireAuth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	return h, &seen
}

func TestRequireAuthValidToken(t *testing.T) {
	h, seen := protected(t)
	ac := auth.AuthContext{UserID: "u1", TenantID: "t1", Role: auth.RoleAdmin}
	token, err := IssueToken(testSecret, ac, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, ac, *seen)
}

func TestRequireAuthRejects(t *testing.T) {
	expired, err := IssueToken(testSecret, auth.AuthContext{UserID: "u1"}, -time.Minute)
	require.NoError(t, err)
	wrongKey, err := IssueToken([]byte("other"), auth.AuthContext{UserID: "u1"}, time.Hour)
	require.NoError(t, err)
	noSubject, err := IssueToken(testSecret, auth.AuthContext{TenantID: "t1"}, time.Hour)
	require.NoError(t, err)
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"sub": "u1"}).SignedString(testSecret)
	require.NoError(t, err)

	tests := map[string]string{
		"missing":         "",
		"not bearer":      "Basic abc",
		"garbage":         "Bearer not-a-token",
		"expired":         "Bearer " + expired,
		"wrong key":       "Bearer " + wrongKey,
		"no subject":      "Bearer " + noSubject,
		"other algorithm": "Bearer " + hs512,
	}
	for name, header := range tests {
		t.Run(name, func(t *testing.T) {
			h, _ := protected(t)
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.JSONEq(t, `{"error":"unauthenticated"}`, rec.Body.String())
		})
	}
}

func TestRequireTenantAccess(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("GET /api/tenants/{id}/billing", RequireTenantAccess("id")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	tests := []struct {
		name string
		ac   *auth.AuthContext
		path string
		want int
	}{
		{"own tenant", &auth.AuthContext{UserID: "u", TenantID: "t1", Role: auth.RoleAdmin}, "/api/tenants/t1/billing", http.StatusOK},
		{"other tenant", &auth.AuthContext{UserID: "u", TenantID: "t1", Role: auth.RoleAdmin}, "/api/tenants/t2/billing", http.StatusForbidden},
		{"master", &auth.AuthContext{UserID: "ops", Role: auth.RoleMaster}, "/api/tenants/t2/billing", http.StatusOK},
		{"anonymous", nil, "/api/tenants/t1/billing", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.ac != nil {
				req = req.WithContext(auth.WithAuth(req.Context(), *tt.ac))
			}
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
