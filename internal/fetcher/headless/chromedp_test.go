package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/outreach-core/internal/crawler"
)

func TestNewChromedpDefaults(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)

	fetcher, err := NewChromedp(Config{MaxParallel: 2})
	require.NoError(t, err)
	t.Cleanup(fetcher.Close)
	require.Equal(t, 2, cap(fetcher.slots))
	require.Equal(t, defaultNavigationTimeout, fetcher.timeout())
	require.Equal(t, defaultSettleDelay, fetcher.settleDelay())

	unbounded, err := NewChromedp(Config{SettleDelay: time.Second})
	require.NoError(t, err)
	t.Cleanup(unbounded.Close)
	require.Nil(t, unbounded.slots)
	require.Equal(t, time.Second, unbounded.settleDelay())
}

func TestZeroFetcherFallsBackToDefaults(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{}
	require.Equal(t, defaultNavigationTimeout, fetcher.timeout())
	require.Equal(t, defaultSettleDelay, fetcher.settleDelay())
	require.NoError(t, fetcher.acquire(context.Background()))
	fetcher.release()
}

func TestAcquireWaitsForFreeTab(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{slots: make(chan struct{}, 1)}
	require.NoError(t, fetcher.acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, fetcher.acquire(ctx), context.Canceled)

	fetcher.release()
	require.NoError(t, fetcher.acquire(context.Background()))
}

func TestFetchWithoutFreeTabIsFetchError(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{slots: make(chan struct{}, 1)}
	fetcher.slots <- struct{}{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fetcher.Fetch(ctx, crawler.FetchRequest{URL: "https://a.example/contact"})
	require.True(t, crawler.IsFetchError(err))
}

func TestDocumentKeepsMainResponse(t *testing.T) {
	t.Parallel()

	doc := &document{}
	doc.observe(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  203,
			URL:     "https://a.example/team",
			Headers: network.Headers{"Content-Type": "text/html", "Set-Cookie": []any{"a=1", "b=2"}},
		},
	})
	doc.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 500, URL: "https://a.example/app.js"},
	})
	doc.observe("unrelated event")

	status, headers, url := doc.result("https://a.example/")
	require.Equal(t, 203, status)
	require.Equal(t, "text/html", headers.Get("Content-Type"))
	require.Equal(t, []string{"a=1", "b=2"}, headers.Values("Set-Cookie"))
	require.Equal(t, "https://a.example/team", url)

	headers.Set("Content-Type", "changed")
	_, again, _ := doc.result("")
	require.Equal(t, "text/html", again.Get("Content-Type"))
}

func TestDocumentWithoutEventDefaultsToOK(t *testing.T) {
	t.Parallel()

	status, headers, url := (&document{}).result("https://a.example/about")
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, headers)
	require.Equal(t, "https://a.example/about", url)
}

func TestNetworkHeaders(t *testing.T) {
	t.Parallel()

	out := networkHeaders(http.Header{"X-Multi": {"a", "b"}, "X-One": {"1"}, "X-Empty": {}})
	require.Equal(t, []string{"a", "b"}, out["X-Multi"])
	require.Equal(t, "1", out["X-One"])
	require.NotContains(t, out, "X-Empty")
}

func TestHeaderValues(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"x"}, headerValues("x"))
	require.Equal(t, []string{"a", "b"}, headerValues([]string{"a", "b"}))
	require.Equal(t, []string{"1", "two"}, headerValues([]any{1, "two"}))
	require.Equal(t, []string{"42"}, headerValues(42))
}
