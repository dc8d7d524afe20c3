package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultRequestTimeout = 10 * time.Second

var (
	errMissingBaseURL = errors.New("identity: base url configuration required")
	errMissingHandle  = errors.New("identity: signer handle must not be empty")
	// ErrClientConfig indicates the client configuration was unusable.
	ErrClientConfig = errors.New("identity: invalid client config")
)

// ClientConfig bundles configuration for the social-identity service client.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Signer describes a signing credential managed by the identity service.
type Signer struct {
	Handle      string
	PublicKey   string
	Status      SignerStatus
	ApprovalURL string
	FID         int64
}

// Profile carries the subset of a social profile used for attribution.
type Profile struct {
	FID         int64
	DisplayName string
	AvatarURL   string
}

// Client issues requests against the external social-identity service.
// The upstream is treated as unreliable; every call is bounded by the
// HTTP client timeout and errors are returned for the caller to classify.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs an identity client with validated configuration.
func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: %v", ErrClientConfig, errMissingBaseURL)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type signerPayload struct {
	SignerUUID  string `json:"signer_uuid"`
	PublicKey   string `json:"public_key"`
	Status      string `json:"status"`
	ApprovalURL string `json:"signer_approval_url"`
	FID         int64  `json:"fid"`
}

func (p signerPayload) toSigner() Signer {
	return Signer{
		Handle:      p.SignerUUID,
		PublicKey:   p.PublicKey,
		Status:      ParseSignerStatus(p.Status),
		ApprovalURL: p.ApprovalURL,
		FID:         p.FID,
	}
}

// CreateSigner provisions a new signer. Sponsored signers are approved by
// the user out of band through the returned approval URL.
func (c *Client) CreateSigner(ctx context.Context, sponsored bool) (Signer, error) {
	body, err := json.Marshal(map[string]bool{"sponsored": sponsored})
	if err != nil {
		return Signer{}, fmt.Errorf("identity: encode signer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/signer", bytes.NewReader(body))
	if err != nil {
		return Signer{}, fmt.Errorf("identity: build signer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// The upstream deduplicates retried creations on this key.
	req.Header.Set("Idempotency-Key", uuid.NewString())

	var payload signerPayload
	if err := c.do(req, &payload); err != nil {
		return Signer{}, fmt.Errorf("identity: create signer: %w", err)
	}
	c.logger.Debug("signer created", zap.String("handle", payload.SignerUUID), zap.String("status", payload.Status))
	return payload.toSigner(), nil
}

// LookupSigner fetches the current state of a previously created signer.
func (c *Client) LookupSigner(ctx context.Context, handle string) (Signer, error) {
	if strings.TrimSpace(handle) == "" {
		return Signer{}, errMissingHandle
	}

	endpoint := c.baseURL + "/signer?signer_uuid=" + url.QueryEscape(handle)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Signer{}, fmt.Errorf("identity: build lookup request: %w", err)
	}

	var payload signerPayload
	if err := c.do(req, &payload); err != nil {
		return Signer{}, fmt.Errorf("identity: lookup signer %s: %w", handle, err)
	}
	return payload.toSigner(), nil
}

// FetchProfiles resolves social profiles in bulk. Unknown FIDs are simply
// absent from the result rather than erroring the whole call.
func (c *Client) FetchProfiles(ctx context.Context, fids []int64) ([]Profile, error) {
	if len(fids) == 0 {
		return nil, nil
	}

	joined := make([]string, 0, len(fids))
	for _, fid := range fids {
		joined = append(joined, strconv.FormatInt(fid, 10))
	}
	endpoint := c.baseURL + "/user/bulk?fids=" + url.QueryEscape(strings.Join(joined, ","))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("identity: build profiles request: %w", err)
	}

	var payload struct {
		Users []struct {
			FID         int64  `json:"fid"`
			DisplayName string `json:"display_name"`
			AvatarURL   string `json:"pfp_url"`
		} `json:"users"`
	}
	if err := c.do(req, &payload); err != nil {
		return nil, fmt.Errorf("identity: fetch profiles: %w", err)
	}

	profiles := make([]Profile, 0, len(payload.Users))
	for _, user := range payload.Users {
		profiles = append(profiles, Profile{
			FID:         user.FID,
			DisplayName: user.DisplayName,
			AvatarURL:   user.AvatarURL,
		})
	}
	return profiles, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	response, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("request returned status %d", response.StatusCode)
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
