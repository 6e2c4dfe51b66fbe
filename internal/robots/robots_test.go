package robots

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const robotsBody = `User-agent: *
Disallow: /admin
Crawl-delay: 2
`

func newRobotsServer(t *testing.T, body string, status int, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		if hits != nil {
			hits.Add(1)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEnforcerDisallowedPath(t *testing.T) {
	t.Parallel()

	srv := newRobotsServer(t, robotsBody, http.StatusOK, nil)
	e := NewEnforcer(true, "seolens-bot/1.0", zap.NewNop())

	assert.True(t, e.Allowed(context.Background(), srv.URL+"/public"))
	assert.False(t, e.Allowed(context.Background(), srv.URL+"/admin"))
	assert.False(t, e.Allowed(context.Background(), srv.URL+"/admin/users"))
}

func TestEnforcerCrawlDelay(t *testing.T) {
	t.Parallel()

	srv := newRobotsServer(t, robotsBody, http.StatusOK, nil)
	e := NewEnforcer(true, "seolens-bot/1.0", zap.NewNop())

	require.Equal(t, 2*time.Second, e.CrawlDelay(context.Background(), srv.URL+"/"))
}

func TestEnforcerCachesPerHost(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := newRobotsServer(t, robotsBody, http.StatusOK, &hits)
	e := NewEnforcer(true, "seolens-bot/1.0", zap.NewNop())

	for range 5 {
		e.Allowed(context.Background(), srv.URL+"/page")
	}
	require.Equal(t, int64(1), hits.Load())
}

func TestEnforcerMissingRobotsAllowsAll(t *testing.T) {
	t.Parallel()

	srv := newRobotsServer(t, "", http.StatusNotFound, nil)
	e := NewEnforcer(true, "seolens-bot/1.0", zap.NewNop())

	assert.True(t, e.Allowed(context.Background(), srv.URL+"/anything"))
	assert.Zero(t, e.CrawlDelay(context.Background(), srv.URL+"/"))
}

func TestAllowAllPolicy(t *testing.T) {
	t.Parallel()

	p := NewEnforcer(false, "seolens-bot/1.0", zap.NewNop())
	assert.True(t, p.Allowed(context.Background(), "https://example.com/admin"))
	assert.Zero(t, p.CrawlDelay(context.Background(), "https://example.com/"))
}
