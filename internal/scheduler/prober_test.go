package scheduler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/stayawake/stayawake/internal/model"
	"github.com/stayawake/stayawake/internal/netguard"
)

func TestHTTPProber_Outcomes(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		wantOutcome model.PingOutcome
	}{
		{"ok", http.StatusOK, model.PingSuccess},
		{"no content", http.StatusNoContent, model.PingSuccess},
		{"not found", http.StatusNotFound, model.PingFailure},
		{"server error", http.StatusInternalServerError, model.PingFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			res := NewHTTPProber(time.Second, AllowPrivateTargets()).Probe(context.Background(), srv.URL)
			assert.Equal(t, tt.wantOutcome, res.Outcome)
			assert.Equal(t, tt.status, res.StatusCode)
			assert.Empty(t, res.Err)
		})
	}
}

func TestHTTPProber_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	res := NewHTTPProber(50*time.Millisecond, AllowPrivateTargets()).Probe(context.Background(), srv.URL)
	assert.Equal(t, model.PingTimeout, res.Outcome)
	assert.Zero(t, res.StatusCode)
	assert.GreaterOrEqual(t, res.ResponseTime, 50*time.Millisecond)
}

func TestHTTPProber_ConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	res := NewHTTPProber(time.Second, AllowPrivateTargets()).Probe(context.Background(), url)
	assert.Equal(t, model.PingError, res.Outcome)
	assert.NotEmpty(t, res.Err)
}

func TestHTTPProber_RedirectLimit(t *testing.T) {
	var hops atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hops.Add(1)
		http.Redirect(w, r, "/next", http.StatusFound)
	}))
	defer srv.Close()

	res := NewHTTPProber(time.Second, AllowPrivateTargets()).Probe(context.Background(), srv.URL)
	assert.Equal(t, http.StatusFound, res.StatusCode)
	assert.Equal(t, model.PingFailure, res.Outcome)
	assert.Equal(t, int32(MaxRedirects+1), hops.Load())
}

func TestHTTPProber_FollowsRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/home", http.StatusMovedPermanently)
			return
		}
		_, _ = w.Write([]byte(strings.Repeat("x", 64<<10)))
	}))
	defer srv.Close()

	res := NewHTTPProber(time.Second, AllowPrivateTargets()).Probe(context.Background(), srv.URL)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, model.PingSuccess, res.Outcome)
}

func TestHTTPProber_BlocksPrivateTargets(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	res := NewHTTPProber(time.Second).Probe(context.Background(), srv.URL)
	assert.Equal(t, model.PingError, res.Outcome)
	assert.Contains(t, res.Err, netguard.ErrBlockedTarget.Error())
	assert.Zero(t, hits.Load())
}

func TestHTTPProber_MalformedURLRecordsElapsed(t *testing.T) {
	res := NewHTTPProber(time.Second).Probe(context.Background(), "http://bad host/")
	assert.Equal(t, model.PingError, res.Outcome)
	assert.NotEmpty(t, res.Err)
	assert.Positive(t, res.ResponseTime)
}
