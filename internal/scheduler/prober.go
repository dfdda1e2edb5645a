package scheduler

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/stayawake/stayawake/internal/model"
	"github.com/stayawake/stayawake/internal/netguard"
)

const (
	// DefaultProbeTimeout bounds one probe including redirects.
	DefaultProbeTimeout = 10 * time.Second
	// MaxRedirects is the number of redirects a probe follows.
	MaxRedirects = 5
	// maxDrainBytes is read from each body so the connection can be reused.
	maxDrainBytes = 4 << 10

	userAgent = "stayawake-pinger/1.0"
)

// ProbeResult is the observed outcome of one HTTP probe.
type ProbeResult struct {
	StatusCode   int
	Outcome      model.PingOutcome
	ResponseTime time.Duration
	Err          string
}

// Prober performs a single probe of a URL.
type Prober interface {
	Probe(ctx context.Context, url string) ProbeResult
}

// HTTPProber probes URLs with an HTTP GET.
type HTTPProber struct {
	client  *http.Client
	timeout time.Duration
}

// ProberOption configures an HTTPProber.
type ProberOption func(*proberOptions)

type proberOptions struct {
	allowPrivate bool
}

// AllowPrivateTargets disables the dial-time address check, so probes may
// reach loopback and private networks. Environment proxies are honoured
// only in this mode.
func AllowPrivateTargets() ProberOption {
	return func(o *proberOptions) { o.allowPrivate = true }
}

// NewHTTPProber creates an HTTPProber. A non-positive timeout uses DefaultProbeTimeout.
// Every dial, including those made for redirects, is checked against
// netguard unless AllowPrivateTargets is given.
func NewHTTPProber(timeout time.Duration, opts ...ProberOption) *HTTPProber {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	var o proberOptions
	for _, opt := range opts {
		opt(&o)
	}

	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}
	var proxy func(*http.Request) (*url.URL, error)
	if o.allowPrivate {
		proxy = http.ProxyFromEnvironment
	} else {
		dialer.Control = netguard.Control
	}

	transport := &http.Transport{
		Proxy:                 proxy,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	return &HTTPProber{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > MaxRedirects {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		timeout: timeout,
	}
}

// Probe issues a GET and classifies the response. It never returns an
// error; transport failures are reported through the result.
func (p *HTTPProber) Probe(ctx context.Context, target string) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return ProbeResult{
			Outcome:      model.PingError,
			ResponseTime: time.Since(start),
			Err:          err.Error(),
		}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return ProbeResult{
			Outcome:      classifyError(err),
			ResponseTime: time.Since(start),
			Err:          err.Error(),
		}
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
	elapsed := time.Since(start)

	return ProbeResult{
		StatusCode:   resp.StatusCode,
		Outcome:      classifyStatus(resp.StatusCode),
		ResponseTime: elapsed,
	}
}

func classifyStatus(code int) model.PingOutcome {
	if code >= 200 && code < 300 {
		return model.PingSuccess
	}
	return model.PingFailure
}

func classifyError(err error) model.PingOutcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return model.PingTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.PingTimeout
	}
	return model.PingError
}
