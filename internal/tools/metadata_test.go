package tools

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpdeskhq/response-engine/internal/model"
)

func TestMetadataClientFetchSignsRequest(t *testing.T) {
	const secret = "hmac-secret"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email := r.URL.Query().Get("email")
		timestamp, err := strconv.ParseInt(r.URL.Query().Get("timestamp"), 10, 64)
		require.NoError(t, err)

		// Recompute the signature over the query parameters and compare
		// with the Bearer token, the way a real endpoint verifies us.
		payload := fmt.Sprintf(`{"query":{"email":%q,"timestamp":%d}}`, email, timestamp)
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(payload))
		expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

		assert.Equal(t, "Bearer "+expected, r.Header.Get("Authorization"))
		assert.Equal(t, "user@example.com", email)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"success": true,
			"user_info": {
				"prompt": "VIP customer, respond with priority",
				"name": "Jordan",
				"metadata": {"plan": "enterprise"}
			}
		}`))
	}))
	defer server.Close()

	client := NewMetadataClient()
	info, err := client.Fetch(context.Background(), &model.MetadataEndpoint{
		URL:        server.URL,
		HMACSecret: secret,
	}, "user@example.com")
	require.NoError(t, err)

	require.NotNil(t, info.Prompt)
	assert.Equal(t, "VIP customer, respond with priority", *info.Prompt)
	require.NotNil(t, info.Name)
	assert.Equal(t, "Jordan", *info.Name)
	assert.Equal(t, "enterprise", info.Metadata["plan"])
}

func TestMetadataClientFetchNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := NewMetadataClient()
	_, err := client.Fetch(context.Background(), &model.MetadataEndpoint{URL: server.URL}, "user@example.com")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestMetadataClientFetchMissingUserInfo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success": true}`))
	}))
	defer server.Close()

	client := NewMetadataClient()
	_, err := client.Fetch(context.Background(), &model.MetadataEndpoint{URL: server.URL}, "user@example.com")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "user_info")
}

func TestMetadataClientFetchNonJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer server.Close()

	client := NewMetadataClient()
	_, err := client.Fetch(context.Background(), &model.MetadataEndpoint{URL: server.URL}, "user@example.com")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "JSON")
}
