package possync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

var ErrFeedUnauthorized = errors.New("pos feed rejected credentials")

// FeedError is a non-2xx response from the POS api.
type FeedError struct {
	StatusCode int
	Body       string
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("pos api error %d: %s", e.StatusCode, e.Body)
}

func (e *FeedError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return ErrFeedUnauthorized
	}
	return nil
}

type FeedClient struct {
	baseURL    string
	ordersPath string
	storeId    string
	apiKey     string
	apiKeyHdr  string
	pageSize   int
	http       *http.Client
	limiter    *time.Ticker
}

// NewFeedClient builds an OrderFeed over the POS http api. Requests are
// spaced by POS_RATE_LIMIT_PER_MIN.
func NewFeedClient(apiKey string, storeId string) (*FeedClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("pos api key is empty")
	}
	baseURL := strings.TrimSpace(os.Getenv("POS_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.pos.example.com"
	}
	apiKeyHeader := strings.TrimSpace(os.Getenv("POS_API_KEY_HEADER"))
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	ordersPath := strings.TrimSpace(os.Getenv("POS_ORDERS_PATH"))
	if ordersPath == "" {
		ordersPath = "/v1/orders"
	}
	rateLimitPerMin := envInt("POS_RATE_LIMIT_PER_MIN", 60)
	pageSize := envInt("POS_PAGE_SIZE", 100)

	return &FeedClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		ordersPath: ordersPath,
		storeId:    storeId,
		apiKey:     apiKey,
		apiKeyHdr:  apiKeyHeader,
		pageSize:   pageSize,
		http:       &http.Client{Timeout: 30 * time.Second},
		limiter:    time.NewTicker(time.Minute / time.Duration(rateLimitPerMin)),
	}, nil
}

// Close stops the rate limiter.
func (c *FeedClient) Close() {
	c.limiter.Stop()
}

type feedListResponse struct {
	Data       []json.RawMessage `json:"data"`
	Orders     []json.RawMessage `json:"orders"`
	NextCursor string            `json:"next_cursor"`
}

func (c *FeedClient) ListCompletedOrders(ctx context.Context, since time.Time, cursor string) (FeedPage, error) {
	select {
	case <-ctx.Done():
		return FeedPage{}, ctx.Err()
	case <-c.limiter.C:
	}

	params := url.Values{}
	params.Set("status", "COMPLETED")
	params.Set("created_since", since.UTC().Format(time.RFC3339))
	params.Set("limit", strconv.Itoa(c.pageSize))
	if c.storeId != "" {
		params.Set("store_id", c.storeId)
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	endpoint := c.baseURL + c.ordersPath + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return FeedPage{}, err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return FeedPage{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return FeedPage{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return FeedPage{}, &FeedError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var parsed feedListResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return FeedPage{}, fmt.Errorf("decode pos orders: %w", err)
	}
	orders := parsed.Data
	if len(orders) == 0 {
		orders = parsed.Orders
	}
	return FeedPage{Orders: orders, NextCursor: strings.TrimSpace(parsed.NextCursor)}, nil
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
