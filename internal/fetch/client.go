package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"github.com/fleetline/mdmclient/internal/agenterr"
)

// Outcome is the result of a single Fetch call (§4.B).
type Outcome int

const (
	Downloaded Outcome = iota
	NotModified
)

func (o Outcome) String() string {
	if o == NotModified {
		return "not_modified"
	}
	return "downloaded"
}

// Client is the cache-validating, resumable HTTP fetcher. A single resource
// has at most one in-flight request at a time (§5); callers are responsible
// for not issuing concurrent Fetch calls for the same destination.
type Client struct {
	baseRepoURL string

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	bwLimit  rate.Limit // bytes/sec, 0 disables throttling
}

// ClientOption configures optional Client behavior.
type ClientOption func(*Client)

// WithBandwidthLimit caps per-destination-host download throughput, gating
// the copy loop with a token-bucket limiter. Generalizes the teacher's
// RateGovernanceConfig (internal/config/config.go) from a packets-per-second
// cap on probe traffic to a bytes-per-second cap on package downloads.
func WithBandwidthLimit(bytesPerSecond int64) ClientOption {
	return func(c *Client) {
		if bytesPerSecond > 0 {
			c.bwLimit = rate.Limit(bytesPerSecond)
		}
	}
}

// NewClient constructs a Client against the given repository base URL.
func NewClient(baseRepoURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseRepoURL: baseRepoURL,
		limiters:    make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) limiterFor(host string) *rate.Limiter {
	if c.bwLimit == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.limiters[host]; ok {
		return l
	}
	burst := int(c.bwLimit)
	if burst < 1 {
		burst = 1
	}
	l := rate.NewLimiter(c.bwLimit, burst)
	c.limiters[host] = l
	return l
}

// Fetch downloads (or validates the cache for) one resource. See §4.B for the
// full cache-validation and resume contract.
func (c *Client) Fetch(ctx context.Context, kind Kind, name, destination string, opts Options) (Outcome, error) {
	return c.fetchOnce(ctx, kind, name, destination, opts, false)
}

func (c *Client) fetchOnce(ctx context.Context, kind Kind, name, destination string, opts Options, restarted bool) (Outcome, error) {
	remoteURL, err := ResourceURL(c.baseRepoURL, kind, name)
	if err != nil {
		return 0, agenterr.New(agenterr.Invalid, "fetch.Fetch", name, err)
	}

	sidecar, err := readSidecar(destination)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return 0, agenterr.New(agenterr.Invalid, "fetch.Fetch", remoteURL, err)
	}

	resuming := false
	var resumeOffset int64
	if opts.Resume && !restarted && sidecar.ExpectedLength != "" && (sidecar.ETag != "" || sidecar.LastModified != "") {
		if fi, statErr := os.Stat(destination); statErr == nil && fi.Size() > 0 {
			resumeOffset = fi.Size()
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeOffset))
			resuming = true
		}
	} else if opts.OnlyIfChanged && sidecar.ExpectedLength == "" {
		if sidecar.ETag != "" {
			req.Header.Set("If-None-Match", sidecar.ETag)
		}
		if sidecar.LastModified != "" {
			req.Header.Set("If-Modified-Since", sidecar.LastModified)
		}
	}

	tlsCfg, err := buildTLSConfig(remoteURL, opts)
	if err != nil {
		return 0, agenterr.New(agenterr.Security, "fetch.Fetch", remoteURL, err)
	}

	httpClient := &http.Client{
		Transport: &http.Transport{TLSClientConfig: tlsCfg},
		Timeout:   opts.timeout(),
	}
	if opts.FollowRedirects != RedirectAllowAll {
		httpClient.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, agenterr.New(agenterr.Connection, "fetch.Fetch", remoteURL, err)
	}

	resp, err = applyChallengeResponse(httpClient, req, resp, opts.Credentials, 0)
	if err != nil {
		return 0, agenterr.New(agenterr.Connection, "fetch.Fetch", remoteURL, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		return NotModified, nil

	case http.StatusPartialContent:
		if !resuming {
			return 0, agenterr.New(agenterr.HTTP, "fetch.Fetch", remoteURL, fmt.Errorf("unexpected 206 without range request"))
		}
		newETag := resp.Header.Get("ETag")
		newLastMod := resp.Header.Get("Last-Modified")
		newDeclaredLength := declaredTotalLength(resumeOffset, resp.Header.Get("Content-Length"))
		if !validatorsMatch(sidecar, newETag, newLastMod, newDeclaredLength) {
			resp.Body.Close()
			os.Remove(destination)
			return c.fetchOnce(ctx, kind, name, destination, opts, true)
		}
		if err := c.appendBody(ctx, resp, destination); err != nil {
			return 0, err
		}
		if err := clearExpectedLength(destination); err != nil {
			return 0, err
		}
		return Downloaded, nil

	case http.StatusOK:
		fresh := Sidecar{
			ETag:           resp.Header.Get("ETag"),
			LastModified:   resp.Header.Get("Last-Modified"),
			ExpectedLength: resp.Header.Get("Content-Length"),
		}
		// Truncate the destination and store the fresh sidecar before
		// streaming, so an interrupted download keeps its expected-length
		// and can be resumed by a later call.
		if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
			return 0, agenterr.New(agenterr.IO, "fetch.Fetch", destination, err)
		}
		if err := os.WriteFile(destination, nil, 0o644); err != nil {
			return 0, agenterr.New(agenterr.IO, "fetch.Fetch", destination, err)
		}
		if err := writeSidecar(destination, fresh); err != nil {
			return 0, err
		}
		if err := c.writeBody(ctx, resp, destination); err != nil {
			return 0, err
		}
		if err := clearExpectedLength(destination); err != nil {
			return 0, err
		}
		return Downloaded, nil

	case http.StatusNotFound:
		return 0, agenterr.New(agenterr.NotFound, "fetch.Fetch", remoteURL, fmt.Errorf("not found"))

	default:
		return 0, agenterr.New(agenterr.HTTP, "fetch.Fetch", remoteURL, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
}

// declaredTotalLength converts a 206 response's Content-Length (the length of
// the remaining range only) back into the total-file length its sidecar
// counterpart records, by adding the byte offset the resume request was made
// from. Returns "" if the header is absent or unparseable, so a server that
// omits Content-Length doesn't spuriously fail the length check.
func declaredTotalLength(resumeOffset int64, contentLength string) string {
	n, err := strconv.ParseInt(contentLength, 10, 64)
	if err != nil {
		return ""
	}
	return strconv.FormatInt(resumeOffset+n, 10)
}

// validatorsMatch checks the 206 response's validators bitwise against the
// sidecar's recorded validators, per §4.B and §8's resume-correctness
// invariant: any mismatch invalidates the resume attempt.
func validatorsMatch(sidecar Sidecar, newETag, newLastMod, newDeclaredLength string) bool {
	if sidecar.ETag != "" && newETag != "" && sidecar.ETag != newETag {
		return false
	}
	if sidecar.LastModified != "" && newLastMod != "" && sidecar.LastModified != newLastMod {
		return false
	}
	if sidecar.ExpectedLength != "" && newDeclaredLength != "" && sidecar.ExpectedLength != newDeclaredLength {
		return false
	}
	return true
}

func (c *Client) writeBody(ctx context.Context, resp *http.Response, destination string) error {
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return agenterr.New(agenterr.IO, "fetch.writeBody", destination, err)
	}
	f, err := os.OpenFile(destination, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return agenterr.New(agenterr.IO, "fetch.writeBody", destination, err)
	}
	defer f.Close()
	return c.copyThrottled(ctx, f, resp, destination)
}

func (c *Client) appendBody(ctx context.Context, resp *http.Response, destination string) error {
	f, err := os.OpenFile(destination, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return agenterr.New(agenterr.IO, "fetch.appendBody", destination, err)
	}
	defer f.Close()
	return c.copyThrottled(ctx, f, resp, destination)
}

func (c *Client) copyThrottled(ctx context.Context, dst io.Writer, resp *http.Response, destination string) error {
	limiter := c.limiterFor(resp.Request.URL.Hostname())
	if limiter == nil {
		if _, err := io.Copy(dst, resp.Body); err != nil {
			return agenterr.New(agenterr.IO, "fetch.copy", destination, err)
		}
		return nil
	}

	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if waitErr := limiter.WaitN(ctx, n); waitErr != nil {
				return agenterr.New(agenterr.IO, "fetch.copy", destination, waitErr)
			}
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return agenterr.New(agenterr.IO, "fetch.copy", destination, writeErr)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return agenterr.New(agenterr.IO, "fetch.copy", destination, readErr)
		}
	}
}
