package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/afero"

	"github.com/squidspace/sqs/engine/core"
	"github.com/squidspace/sqs/pkg/logger"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxRedirects = 5
	DefaultUserAgent    = "sqs-pipeline"
)

// Acquirer opens resource sources for reading. It performs a single attempt;
// retrying is left to the caller.
type Acquirer struct {
	client *resty.Client
	fs     afero.Fs
	log    logger.Logger
}

type Option func(*acquirerOptions)

type acquirerOptions struct {
	timeout      time.Duration
	userAgent    string
	maxRedirects int
	transport    http.RoundTripper
	fs           afero.Fs
	log          logger.Logger
}

func WithTimeout(d time.Duration) Option {
	return func(o *acquirerOptions) { o.timeout = d }
}

func WithUserAgent(ua string) Option {
	return func(o *acquirerOptions) { o.userAgent = ua }
}

func WithMaxRedirects(n int) Option {
	return func(o *acquirerOptions) { o.maxRedirects = n }
}

func WithTransport(rt http.RoundTripper) Option {
	return func(o *acquirerOptions) { o.transport = rt }
}

func WithFs(fsys afero.Fs) Option {
	return func(o *acquirerOptions) { o.fs = fsys }
}

func WithLogger(log logger.Logger) Option {
	return func(o *acquirerOptions) { o.log = log }
}

func NewAcquirer(opts ...Option) *Acquirer {
	o := acquirerOptions{
		timeout:      DefaultTimeout,
		userAgent:    DefaultUserAgent,
		maxRedirects: DefaultMaxRedirects,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.fs == nil {
		o.fs = afero.NewOsFs()
	}
	if o.log == nil {
		o.log = logger.NewLogger(nil)
	}
	client := resty.New().
		SetTimeout(o.timeout).
		SetHeader("User-Agent", o.userAgent).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(o.maxRedirects))
	if o.transport != nil {
		client.SetTransport(o.transport)
	}
	return &Acquirer{client: client, fs: o.fs, log: o.log}
}

// Acquire opens src for reading. The caller owns the returned stream.
func (a *Acquirer) Acquire(ctx context.Context, src Source) (io.ReadCloser, error) {
	switch src.Kind {
	case KindFile:
		return a.openFile(src.Location)
	case KindURL:
		return a.fetch(ctx, src.Location)
	default:
		return nil, core.NewError(errors.New("source has no location"), core.CodeSourceMissing, nil)
	}
}

func (a *Acquirer) openFile(p string) (io.ReadCloser, error) {
	f, err := a.fs.Open(p)
	if err == nil {
		return f, nil
	}
	details := map[string]any{"path": p}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, core.NewError(fmt.Errorf("file source not found: %w", err), core.CodeFileNotFound, details)
	case errors.Is(err, fs.ErrPermission):
		return nil, core.NewError(fmt.Errorf("file source not readable: %w", err), core.CodePermissionDenied, details)
	default:
		return nil, core.NewError(fmt.Errorf("failed to open file source: %w", err), core.CodeInternal, details)
	}
}

func (a *Acquirer) fetch(ctx context.Context, addr string) (io.ReadCloser, error) {
	details := map[string]any{"url": addr}
	resp, err := a.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(addr)
	if err != nil {
		return nil, core.NewError(fmt.Errorf("request failed: %w", err), core.CodeFetchFailed, details)
	}
	body := resp.RawBody()
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		if body != nil {
			_ = body.Close()
		}
		details["status"] = resp.StatusCode()
		return nil, core.NewError(
			fmt.Errorf("unexpected status: %d", resp.StatusCode()),
			core.CodeFetchFailed,
			details,
		)
	}
	if body == nil {
		return nil, core.NewError(errors.New("response has no body"), core.CodeFetchFailed, details)
	}
	a.log.Debug("Fetched url source", "url", addr, "status", resp.StatusCode())
	return body, nil
}
