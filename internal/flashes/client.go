package flashes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultRequestTimeout = 10 * time.Second

var (
	errMissingBaseURL = errors.New("flashes: base url configuration required")
	// ErrClientConfig indicates the client configuration was unusable.
	ErrClientConfig = errors.New("flashes: invalid client config")
)

// ClientConfig bundles configuration for the game-activity service client.
type ClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Flash is a single geolocated game-activity record owned by the upstream
// activity service. This service never writes flashes, only reads them.
type Flash struct {
	ID         int64     `json:"id"`
	PlayerName string    `json:"player_name"`
	City       string    `json:"city"`
	ImageURL   string    `json:"image_url"`
	Caption    string    `json:"caption"`
	CapturedAt time.Time `json:"captured_at"`
}

// Page is one window of the flash catalog.
type Page struct {
	Items   []Flash `json:"items"`
	HasMore bool    `json:"has_more"`
}

// Client pages through the external flash catalog. The only supported
// filter is an exact match on the player name, so callers must escape any
// pattern metacharacters before passing a filter.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs a flash-catalog client with validated configuration.
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
	return &Client{baseURL: baseURL, httpClient: httpClient, logger: logger}, nil
}

// List fetches one page of flashes starting at offset. An empty filter
// returns the unfiltered catalog.
func (c *Client) List(ctx context.Context, offset, limit int, playerNameFilter string) (Page, error) {
	query := url.Values{}
	query.Set("offset", strconv.Itoa(offset))
	query.Set("limit", strconv.Itoa(limit))
	if playerNameFilter != "" {
		query.Set("player_name", playerNameFilter)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/flashes?"+query.Encode(), nil)
	if err != nil {
		return Page{}, fmt.Errorf("flashes: build list request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("flashes: list offset=%d: %w", offset, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("flashes: list offset=%d returned status %d", offset, response.StatusCode)
	}

	var page Page
	if err := json.NewDecoder(response.Body).Decode(&page); err != nil {
		return Page{}, fmt.Errorf("flashes: decode list response: %w", err)
	}
	return page, nil
}
