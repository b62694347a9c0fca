package registration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orra-dev/orra-sdk-go/pkg/schema"
	"github.com/orra-dev/orra-sdk-go/pkg/wire"
)

func testSchemaPair(t *testing.T) schema.Pair {
	t.Helper()
	in, err := schema.New(json.RawMessage(`{"type":"object"}`))
	require.NoError(t, err)
	out, err := schema.New(json.RawMessage(`{"type":"object"}`))
	require.NoError(t, err)
	return schema.Pair{Input: in, Output: out}
}

func TestRegisterSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/register/service", r.URL.Path)
		require.Equal(t, "Bearer sk-orra-test", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "service", body["kind"], "request body must use the documented \"kind\" field")
		require.NotContains(t, body, "type", "request body must not send an undocumented \"type\" field")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"s_new1","version":1}`))
	}))
	defer srv.Close()

	c := New()
	ident, err := c.Register(t.Context(), Options{
		BaseURL: srv.URL,
		APIKey:  "sk-orra-test",
		Name:    "my-service",
		Schema:  testSchemaPair(t),
		Version: 1,
		Kind:    wire.KindService,
	})
	require.NoError(t, err)
	require.Equal(t, "s_new1", ident.ID)
}

func TestRegisterFailureOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	c := New()
	_, err := c.Register(t.Context(), Options{
		BaseURL: srv.URL,
		APIKey:  "sk-orra-bad",
		Name:    "my-service",
		Schema:  testSchemaPair(t),
		Kind:    wire.KindService,
	})
	require.Error(t, err)
}
