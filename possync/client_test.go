package possync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFeedClient(t *testing.T, handler http.HandlerFunc) *FeedClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	t.Setenv("POS_API_BASE_URL", srv.URL)
	t.Setenv("POS_API_KEY_HEADER", "X-Pos-Key")
	t.Setenv("POS_ORDERS_PATH", "/orders")
	t.Setenv("POS_RATE_LIMIT_PER_MIN", "60000")
	t.Setenv("POS_PAGE_SIZE", "50")

	c, err := NewFeedClient("key-1", "store-9")
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestFeedClient_ListCompletedOrders(t *testing.T) {
	since := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	c := newTestFeedClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders", r.URL.Path)
		assert.Equal(t, "key-1", r.Header.Get("X-Pos-Key"))
		q := r.URL.Query()
		assert.Equal(t, "COMPLETED", q.Get("status"))
		assert.Equal(t, "2024-05-01T00:00:00Z", q.Get("created_since"))
		assert.Equal(t, "store-9", q.Get("store_id"))
		assert.Equal(t, "50", q.Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		if q.Get("cursor") == "" {
			_, _ = w.Write([]byte(`{"data":[{"id":"o-1"},{"id":"o-2"}],"next_cursor":"c2"}`))
			return
		}
		assert.Equal(t, "c2", q.Get("cursor"))
		_, _ = w.Write([]byte(`{"orders":[{"id":"o-3"}],"next_cursor":""}`))
	})

	page, err := c.ListCompletedOrders(context.Background(), since, "")
	require.NoError(t, err)
	require.Len(t, page.Orders, 2)
	require.Equal(t, "c2", page.NextCursor)

	page, err = c.ListCompletedOrders(context.Background(), since, "c2")
	require.NoError(t, err)
	require.Len(t, page.Orders, 1)
	require.Empty(t, page.NextCursor)
}

func TestFeedClient_Errors(t *testing.T) {
	status := http.StatusUnauthorized
	c := newTestFeedClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("nope"))
	})

	_, err := c.ListCompletedOrders(context.Background(), time.Now(), "")
	require.ErrorIs(t, err, ErrFeedUnauthorized)

	status = http.StatusBadGateway
	_, err = c.ListCompletedOrders(context.Background(), time.Now(), "")
	var feedErr *FeedError
	require.True(t, errors.As(err, &feedErr))
	require.Equal(t, http.StatusBadGateway, feedErr.StatusCode)
	require.False(t, errors.Is(err, ErrFeedUnauthorized))
}

func TestFeedClient_RequiresKey(t *testing.T) {
	_, err := NewFeedClient(" ", "store")
	require.Error(t, err)
}

func TestFeedClient_ContextCancelled(t *testing.T) {
	t.Setenv("POS_RATE_LIMIT_PER_MIN", "1")
	c, err := NewFeedClient("key", "")
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.ListCompletedOrders(ctx, time.Now(), "")
	require.ErrorIs(t, err, context.Canceled)
}
