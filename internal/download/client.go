package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/BadgerOps/jarenums/internal/safety"
)

// ProgressFunc is called periodically to report download progress.
// totalBytes is 0 when the server does not announce a length.
type ProgressFunc func(bytesDownloaded, totalBytes int64)

// FetchOptions describes one remote archive to fetch into the cache.
type FetchOptions struct {
	URL              string
	CacheDir         string
	ExpectedChecksum string // SHA256 hex, empty to skip validation
	RetryCount       int    // 0 defaults to 3
	OnProgress       ProgressFunc
}

// FetchResult describes the cached archive.
type FetchResult struct {
	Path     string
	Size     int64
	SHA256   string
	Cached   bool // served from the cache without a request
	Resumed  bool
	Attempts int
	Duration time.Duration
}

// Client fetches archives over HTTP with retries, resumption and checksum
// validation.
type Client struct {
	httpClient  *http.Client
	logger      *slog.Logger
	userAgent   string
	backoffFunc func(attempt int) time.Duration
}

// NewClient creates a client. A zero timeout bounds only dialing and
// response headers, not the body transfer.
func NewClient(logger *slog.Logger, timeout time.Duration) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient:  safety.NewHTTPClient(timeout),
		logger:      logger,
		userAgent:   "jarenums/1.0",
		backoffFunc: calculateBackoffDelay,
	}
}

// Fetch downloads opts.URL into opts.CacheDir and returns the local path.
// With an expected checksum, a cached file that already matches is reused.
// Partial downloads are kept as <name>.part and resumed on the next attempt.
func (c *Client) Fetch(ctx context.Context, opts FetchOptions) (*FetchResult, error) {
	u, err := safety.ValidateHTTPURL(opts.URL)
	if err != nil {
		return nil, err
	}
	if opts.CacheDir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if opts.RetryCount <= 0 {
		opts.RetryCount = 3
	}
	opts.ExpectedChecksum = strings.ToLower(strings.TrimSpace(opts.ExpectedChecksum))

	dest, err := safety.CachePath(opts.CacheDir, u)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(opts.CacheDir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	startTime := time.Now()
	if opts.ExpectedChecksum != "" {
		if res, ok := c.cached(dest, opts.ExpectedChecksum); ok {
			res.Duration = time.Since(startTime)
			return res, nil
		}
	}

	partPath := dest + ".part"
	var lastErr error
	var resumed bool

	for attempt := 1; attempt <= opts.RetryCount; attempt++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("fetch cancelled: %w", ctx.Err())
		default:
		}

		offset := int64(0)
		if fi, err := os.Stat(partPath); err == nil && fi.Size() > 0 {
			offset = fi.Size()
			resumed = true
		}

		result, err := c.fetchAttempt(ctx, partPath, opts, offset, attempt)
		if err == nil {
			if err := os.Rename(partPath, dest); err != nil {
				return nil, fmt.Errorf("moving download into cache: %w", err)
			}
			result.Path = dest
			result.Resumed = resumed
			result.Attempts = attempt
			result.Duration = time.Since(startTime)
			c.logger.Debug("archive fetched", "url", opts.URL, "path", dest, "size", result.Size, "attempts", attempt)
			return result, nil
		}

		lastErr = err
		c.logger.Warn("fetch attempt failed", "url", opts.URL, "attempt", attempt, "error", err)

		// Keep the partial file on cancellation so the next run can resume.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if shouldNotRetry(err) {
			_ = os.Remove(partPath)
			return nil, err
		}

		if attempt < opts.RetryCount {
			delay := c.backoffFunc(attempt)
			c.logger.Debug("retrying fetch", "url", opts.URL, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("fetch cancelled during retry: %w", ctx.Err())
			}
		}
	}

	return nil, fmt.Errorf("fetch failed after %d attempts: %w", opts.RetryCount, lastErr)
}

func (c *Client) cached(path, checksum string) (*FetchResult, bool) {
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() {
		return nil, false
	}
	sum, err := HashFile(path)
	if err != nil || sum != checksum {
		c.logger.Debug("cached archive does not match checksum, refetching", "path", path)
		return nil, false
	}
	c.logger.Debug("using cached archive", "path", path)
	return &FetchResult{Path: path, Size: fi.Size(), SHA256: sum, Cached: true}, true
}

// fetchAttempt performs a single request, appending to partPath from offset.
func (c *Client) fetchAttempt(ctx context.Context, partPath string, opts FetchOptions, offset int64, attempt int) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if resp.StatusCode == http.StatusPartialContent && offset > 0 {
		flags |= os.O_APPEND
	} else {
		// Server ignored the range; start over.
		flags |= os.O_TRUNC
		offset = 0
	}
	file, err := os.OpenFile(partPath, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	totalSize := resp.ContentLength
	if totalSize > 0 {
		totalSize += offset
	} else {
		totalSize = 0
	}

	var reader io.Reader = resp.Body
	if opts.OnProgress != nil {
		reader = &progressReader{
			reader:   resp.Body,
			callback: opts.OnProgress,
			current:  offset,
			total:    totalSize,
		}
	}

	written, err := io.Copy(file, reader)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write to file: %w", err)
	}
	finalSize := offset + written

	// Hash the whole file; a resumed attempt only fetched the tail.
	sum, err := HashFile(partPath)
	if err != nil {
		return nil, fmt.Errorf("failed to hash file: %w", err)
	}
	if opts.ExpectedChecksum != "" && sum != opts.ExpectedChecksum {
		_ = os.Remove(partPath)
		return nil, &ChecksumError{Got: sum, Want: opts.ExpectedChecksum}
	}

	return &FetchResult{
		Size:     finalSize,
		SHA256:   sum,
		Attempts: attempt,
	}, nil
}

// HashFile computes the SHA256 hex digest of an entire file.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// calculateBackoffDelay calculates exponential backoff with jitter.
// Base delay is 1s, doubles each attempt, plus random jitter up to half the delay.
func calculateBackoffDelay(attempt int) time.Duration {
	baseDelay := time.Second
	exponentialDelay := time.Duration(math.Pow(2, float64(attempt-1))) * baseDelay
	maxJitter := exponentialDelay / 2
	jitter := time.Duration(rand.Int63n(int64(maxJitter)))
	return exponentialDelay + jitter
}

// shouldNotRetry returns true if the error should not trigger a retry.
func shouldNotRetry(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		// 4xx other than 429 will not change on retry
		if httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 && httpErr.StatusCode != http.StatusTooManyRequests {
			return true
		}
	}
	var sumErr *ChecksumError
	return errors.As(err, &sumErr)
}

// HTTPError represents an HTTP error response.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error %d: %s", e.StatusCode, e.Status)
}

// ChecksumError reports a fetched archive whose digest differs from the
// expected one.
type ChecksumError struct {
	Got  string
	Want string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch: got %s, expected %s", e.Got, e.Want)
}

// progressReader wraps a reader and calls a progress callback as data is read.
type progressReader struct {
	reader   io.Reader
	callback ProgressFunc
	current  int64
	total    int64
}

func (pr *progressReader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	if n > 0 {
		pr.current += int64(n)
		pr.callback(pr.current, pr.total)
	}
	return n, err
}
