package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runRequireJSON(t *testing.T, method, body string) (*httptest.ResponseRecorder, string) {
	t.Helper()

	var seenBody string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		seenBody = string(b)
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(method, "/api/test", strings.NewReader(body))
	rec := httptest.NewRecorder()
	RequireJSON(next).ServeHTTP(rec, req)
	return rec, seenBody
}

func TestRequireJSONPassesValidBody(t *testing.T) {
	rec, seen := runRequireJSON(t, http.MethodPost, `{"content":"hello"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"content":"hello"}`, seen, "body must be re-buffered for the handler")
}

func TestRequireJSONRejectsMalformedBody(t *testing.T) {
	rec, _ := runRequireJSON(t, http.MethodPost, `{"content":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequireJSONAllowsEmptyBody(t *testing.T) {
	rec, _ := runRequireJSON(t, http.MethodPost, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireJSONSkipsReadMethods(t *testing.T) {
	rec, _ := runRequireJSON(t, http.MethodGet, "not json at all")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireJSONCapsBodySize(t *testing.T) {
	big := `{"content":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	rec, _ := runRequireJSON(t, http.MethodPost, big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestCORSAllowsListedOrigin(t *testing.T) {
	handler := CORS([]string{"http://localhost:3000"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/chats", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")
}

func TestCORSOmitsUnlistedOrigin(t *testing.T) {
	handler := CORS([]string{"http://localhost:3000"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
