package blobstore

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"k8s.io/klog/v2"
)

var (
	defaultMaxIdleConnsPerHost = 20
	defaultDialTimeout         = 20 * time.Second
	defaultKeepAlive           = 180 * time.Second
	defaultRequestTimeout      = 30 * time.Second
)

// newHTTPTransport returns a tuned *http.Transport: bounded idle/keep-alive
// connections and HTTP/2 forced on.
func newHTTPTransport() *http.Transport {
	return &http.Transport{
		IdleConnTimeout:     time.Minute,
		MaxConnsPerHost:     defaultMaxIdleConnsPerHost,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		Proxy:               http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   defaultDialTimeout,
			KeepAlive: defaultKeepAlive,
			DualStack: true,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout:   defaultRequestTimeout,
		Transport: gzhttp.Transport(newHTTPTransport()),
	}
}

// retryExponentialBackoff retries fn with doubling backoff. A
// backoffTerminal error (a definitive 404) short-circuits the remaining
// retries.
func retryExponentialBackoff(ctx context.Context, startDuration time.Duration, maxRetries int, fn func() error) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if _, ok := err.(backoffTerminal); ok {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(startDuration):
			startDuration *= 2
		}
	}
	return fmt.Errorf("failed after %d retries; last error: %w", maxRetries, err)
}

// Remote is an HTTP(S)-backed Store. baseURL is joined with a key to form
// the object URL ("https://host/bucket" + "/20260305/39.des"). It has no
// notion of directories and issues no listing request: List returns the
// keys injected with SetListing for exactly the requested prefix, and an
// empty result for any other prefix. The retriever finds candidate shards
// through List, so shards on a Remote are found only through such an
// injected listing.
type Remote struct {
	baseURL string
	client  *http.Client
	mu      sync.Mutex
	listers map[string][]string // optional injected listing, for tests
}

// NewRemote returns a Store issuing range-GETs against baseURL.
func NewRemote(baseURL string) *Remote {
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  newHTTPClient(),
		listers: make(map[string][]string),
	}
}

func (r *Remote) url(key string) string {
	return r.baseURL + "/" + strings.TrimLeft(key, "/")
}

func (r *Remote) Head(ctx context.Context, key string) (ObjectInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, r.url(key), nil)
	if err != nil {
		return ObjectInfo{}, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return ObjectInfo{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ObjectInfo{}, ErrObjectNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return ObjectInfo{}, fmt.Errorf("blobstore: unexpected HEAD status %d for %s", resp.StatusCode, key)
	}

	var lastModified time.Time
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			lastModified = t
		}
	}
	return ObjectInfo{Size: resp.ContentLength, LastModified: lastModified}, nil
}

func (r *Remote) Get(ctx context.Context, key string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url(key), nil)
	if err != nil {
		return nil, err
	}

	var body []byte
	err = retryExponentialBackoff(ctx, 100*time.Millisecond, 3, func() error {
		resp, err := r.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return backoffTerminal{ErrObjectNotFound}
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("blobstore: unexpected GET status %d for %s", resp.StatusCode, key)
		}
		body, err = io.ReadAll(resp.Body)
		return err
	})
	if bt, ok := unwrapTerminal(err); ok {
		return nil, bt
	}
	if err != nil {
		klog.ErrorS(err, "blobstore remote get failed", "key", key)
		return nil, err
	}
	return body, nil
}

func (r *Remote) GetRange(ctx context.Context, key string, start, length int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url(key), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, start+length-1))

	var body []byte
	err = retryExponentialBackoff(ctx, 100*time.Millisecond, 3, func() error {
		resp, err := r.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusNotFound:
			return backoffTerminal{ErrObjectNotFound}
		case http.StatusPartialContent, http.StatusOK:
			body, err = io.ReadAll(resp.Body)
			return err
		default:
			return fmt.Errorf("blobstore: unexpected range-GET status %d for %s", resp.StatusCode, key)
		}
	})
	if bt, ok := unwrapTerminal(err); ok {
		return nil, bt
	}
	if err != nil {
		return nil, err
	}
	return body, nil
}

// GetSuffix issues a suffix range-GET ("Range: bytes=-N") and recovers the
// object's total size from the response's Content-Range header, avoiding a
// separate HEAD call on the retriever's cold footer read.
func (r *Remote) GetSuffix(ctx context.Context, key string, length int64) ([]byte, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url(key), nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=-%d", length))

	var body []byte
	var totalSize int64
	err = retryExponentialBackoff(ctx, 100*time.Millisecond, 3, func() error {
		resp, err := r.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusNotFound:
			return backoffTerminal{ErrObjectNotFound}
		case http.StatusPartialContent:
			body, err = io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			totalSize = parseContentRangeTotal(resp.Header.Get("Content-Range"), resp.ContentLength)
			return nil
		case http.StatusOK:
			// Server ignored the Range header (e.g. small object, no range
			// support) and returned the whole body.
			body, err = io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			totalSize = int64(len(body))
			if int64(len(body)) > length {
				body = body[int64(len(body))-length:]
			}
			return nil
		default:
			return fmt.Errorf("blobstore: unexpected suffix range-GET status %d for %s", resp.StatusCode, key)
		}
	})
	if bt, ok := unwrapTerminal(err); ok {
		return nil, 0, bt
	}
	if err != nil {
		return nil, 0, err
	}
	return body, totalSize, nil
}

// parseContentRangeTotal extracts the "total" field from a
// "Content-Range: bytes start-end/total" header. Falls back to
// contentLength when the header is absent or malformed.
func parseContentRangeTotal(header string, contentLength int64) int64 {
	if idx := strings.LastIndex(header, "/"); idx >= 0 && idx+1 < len(header) {
		var total int64
		if _, err := fmt.Sscanf(header[idx+1:], "%d", &total); err == nil && total > 0 {
			return total
		}
	}
	return contentLength
}

func (r *Remote) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, r.url(key), body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("blobstore: unexpected PUT status %d for %s", resp.StatusCode, key)
	}
	return nil
}

// SetListing injects a fixed key list for prefix, used by tests and by
// deployments that expose a sidecar index endpoint instead of a native
// bucket-listing API.
func (r *Remote) SetListing(prefix string, keys []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	r.listers[prefix] = sorted
}

func (r *Remote) List(_ context.Context, prefix string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listers[prefix], nil
}

// backoffTerminal marks an error as non-retryable so
// retryExponentialBackoff's caller can detect and surface it directly
// without burning through retries on a definitive 404.
type backoffTerminal struct{ err error }

func (b backoffTerminal) Error() string { return b.err.Error() }
func (b backoffTerminal) Unwrap() error { return b.err }

func unwrapTerminal(err error) (error, bool) {
	if err == nil {
		return nil, false
	}
	if bt, ok := err.(backoffTerminal); ok {
		return bt.err, true
	}
	return nil, false
}
