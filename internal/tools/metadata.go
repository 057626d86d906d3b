package tools

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/helpdeskhq/response-engine/internal/model"
)

// UserInfo is the payload a mailbox metadata endpoint returns for a
// customer.
type UserInfo struct {
	Prompt   *string        `json:"prompt,omitempty"`
	Name     *string        `json:"name,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type metadataResponse struct {
	Success  bool      `json:"success"`
	UserInfo *UserInfo `json:"user_info"`
}

// MetadataClient queries a mailbox's customer-metadata endpoint. The
// request is signed with an HMAC over the query parameters so the
// endpoint can verify it came from us.
type MetadataClient struct {
	httpClient *http.Client
}

// NewMetadataClient creates a metadata client.
func NewMetadataClient() *MetadataClient {
	return &MetadataClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type signedQuery struct {
	Email     string `json:"email"`
	Timestamp int64  `json:"timestamp"`
}

func hmacDigest(secret string, query signedQuery) (string, error) {
	payload, err := json.Marshal(map[string]signedQuery{"query": query})
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal signature payload")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Fetch retrieves the customer's metadata from the endpoint.
func (c *MetadataClient) Fetch(ctx context.Context, endpoint *model.MetadataEndpoint, email string) (*UserInfo, error) {
	query := signedQuery{Email: email, Timestamp: time.Now().Unix()}

	signature, err := hmacDigest(endpoint.HMACSecret, query)
	if err != nil {
		return nil, err
	}

	requestURL := fmt.Sprintf("%s?email=%s&timestamp=%d",
		endpoint.URL, url.QueryEscape(query.Email), query.Timestamp)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build metadata request")
	}
	req.Header.Set("Authorization", "Bearer "+signature)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "metadata request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("metadata endpoint returned status %d", resp.StatusCode)
	}

	var parsed metadataResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.Wrap(err, "endpoint did not return JSON response")
	}
	if parsed.UserInfo == nil {
		return nil, errors.New("invalid metadata response: user_info missing")
	}
	return parsed.UserInfo, nil
}
