package installer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/oshokin/cruma-installer/internal/logger"
	"github.com/oshokin/cruma-installer/internal/version"
)

const (
	// DefaultFetchAttempts is the total number of attempts for retryable failures.
	DefaultFetchAttempts = 3
	// DefaultAttemptTimeout bounds one download attempt.
	DefaultAttemptTimeout = 5 * time.Minute
	// DefaultMaxArtifactSize is 512 MiB.
	DefaultMaxArtifactSize int64 = 512 << 20

	maxRedirects = 10
)

var (
	errTooManyRedirects = errors.New("too many redirects")
	errTooLarge         = errors.New("artifact exceeds size limit")
)

// FetchedArtifact is a downloaded payload kept in memory until it is staged.
type FetchedArtifact struct {
	Bytes      []byte
	ByteLength int64
}

// Fetcher downloads artifacts over HTTP with bounded retries.
type Fetcher struct {
	client         *http.Client
	userAgent      string
	attempts       int
	attemptTimeout time.Duration
	maxSize        int64
	newBackOff     func() backoff.BackOff
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *Fetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithAttempts sets the total number of attempts for retryable failures.
func WithAttempts(attempts int) FetcherOption {
	return func(f *Fetcher) {
		if attempts > 0 {
			f.attempts = attempts
		}
	}
}

// WithAttemptTimeout bounds every single attempt.
func WithAttemptTimeout(timeout time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if timeout > 0 {
			f.attemptTimeout = timeout
		}
	}
}

// WithMaxArtifactSize caps the accepted body size.
func WithMaxArtifactSize(size int64) FetcherOption {
	return func(f *Fetcher) {
		if size > 0 {
			f.maxSize = size
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(userAgent string) FetcherOption {
	return func(f *Fetcher) {
		if userAgent != "" {
			f.userAgent = userAgent
		}
	}
}

// WithBackOff replaces the delay policy between attempts.
func WithBackOff(newBackOff func() backoff.BackOff) FetcherOption {
	return func(f *Fetcher) {
		if newBackOff != nil {
			f.newBackOff = newBackOff
		}
	}
}

// NewFetcher creates a fetcher with defaults overridden by opts.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client: &http.Client{
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return errTooManyRedirects
				}

				return nil
			},
		},
		userAgent:      version.UserAgent(),
		attempts:       DefaultFetchAttempts,
		attemptTimeout: DefaultAttemptTimeout,
		maxSize:        DefaultMaxArtifactSize,
		newBackOff:     defaultBackOff,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// defaultBackOff waits 1s, 2s, 4s... between attempts; the attempt count bounds it.
func defaultBackOff() backoff.BackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     time.Second,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
}

// Fetch downloads rawURL. The URL is used as given: percent-encoded segments
// such as %2F reach the host unchanged.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*FetchedArtifact, error) {
	var (
		artifact *FetchedArtifact
		attempt  int
	)

	operation := func() error {
		attempt++

		result, err := f.fetchOnce(ctx, rawURL)
		if err == nil {
			artifact = result
			return nil
		}

		var fetchErr *FetchError
		if errors.As(err, &fetchErr) && fetchErr.Retryable() && ctx.Err() == nil {
			logger.WarnKV(ctx, "Download attempt failed",
				"attempt", attempt, "of", f.attempts, "error", err)

			return err
		}

		return backoff.Permanent(err)
	}

	//nolint:gosec // attempts is always positive.
	policy := backoff.WithContext(backoff.WithMaxRetries(f.newBackOff(), uint64(f.attempts-1)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		var fetchErr *FetchError
		if errors.As(err, &fetchErr) {
			return nil, fetchErr
		}

		// The context ended while waiting between attempts.
		return nil, contextFetchError(rawURL, err)
	}

	logger.DebugKV(ctx, "Downloaded artifact", "bytes", artifact.ByteLength, "attempts", attempt)

	return artifact, nil
}

// fetchOnce performs a single GET bounded by the attempt timeout.
func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (*FetchedArtifact, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, &FetchError{Kind: FetchTransport, URL: rawURL, Err: err, final: true}
	}

	req.Header.Set("User-Agent", f.userAgent)

	response, err := f.client.Do(req)
	if err != nil {
		return nil, f.classify(ctx, attemptCtx, rawURL, err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	switch {
	case response.StatusCode == http.StatusOK:
	case response.StatusCode == http.StatusNotFound, response.StatusCode == http.StatusGone:
		return nil, &FetchError{Kind: FetchNotFound, URL: rawURL, StatusCode: response.StatusCode}
	default:
		return nil, &FetchError{
			Kind:       FetchTransport,
			URL:        rawURL,
			StatusCode: response.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", response.Status),
			final:      !retryableStatus(response.StatusCode),
		}
	}

	if response.ContentLength > f.maxSize {
		return nil, &FetchError{Kind: FetchTransport, URL: rawURL, Err: errTooLarge, final: true}
	}

	data, err := io.ReadAll(io.LimitReader(response.Body, f.maxSize+1))
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &FetchError{Kind: FetchTruncated, URL: rawURL, Err: err}
		}

		return nil, f.classify(ctx, attemptCtx, rawURL, err)
	}

	size := int64(len(data))
	if size > f.maxSize {
		return nil, &FetchError{Kind: FetchTransport, URL: rawURL, Err: errTooLarge, final: true}
	}

	if response.ContentLength >= 0 && size != response.ContentLength {
		return nil, &FetchError{
			Kind: FetchTruncated,
			URL:  rawURL,
			Err:  fmt.Errorf("declared %d bytes, received %d", response.ContentLength, size),
		}
	}

	return &FetchedArtifact{Bytes: data, ByteLength: size}, nil
}

// classify maps a client error to a fetch error kind. Cancellation of the
// parent context is final; an expired attempt deadline is a retryable timeout.
func (f *Fetcher) classify(parent, attemptCtx context.Context, rawURL string, err error) error {
	if parent.Err() != nil {
		return contextFetchError(rawURL, parent.Err())
	}

	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{Kind: FetchTimeout, URL: rawURL, Err: err}
	}

	return &FetchError{Kind: FetchTransport, URL: rawURL, Err: err}
}

func contextFetchError(rawURL string, err error) *FetchError {
	kind := FetchTransport
	if errors.Is(err, context.DeadlineExceeded) {
		kind = FetchTimeout
	}

	return &FetchError{Kind: kind, URL: rawURL, Err: err, final: true}
}

// retryableStatus reports statuses worth another attempt.
func retryableStatus(code int) bool {
	return code >= http.StatusInternalServerError ||
		code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests
}
