package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pharmalink/provider-sync/internal/resilience"
	"github.com/pharmalink/provider-sync/internal/tree"
)

const maxBodyBytes = 32 << 20

// ClientOptions configures a provider HTTP client.
type ClientOptions struct {
	Provider  string
	BaseURL   string
	Timeout   time.Duration // per call; 0 disables
	RateLimit float64       // requests per second; 0 disables
	Burst     int
	Breaker   *resilience.CircuitBreaker
	HTTP      *http.Client
	UserAgent string
}

// Client performs provider calls with a per-call timeout, a rate limiter
// and a circuit breaker.
type Client struct {
	provider  string
	base      *url.URL
	timeout   time.Duration
	limiter   *rate.Limiter
	breaker   *resilience.CircuitBreaker
	http      *http.Client
	userAgent string
}

// NewClient validates opts and builds a client.
func NewClient(opts ClientOptions) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, eris.Errorf("upstream: %s base url is not configured", opts.Provider)
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/") + "/")
	if err != nil {
		return nil, eris.Wrapf(err, "upstream: parse %s base url", opts.Provider)
	}

	c := &Client{
		provider:  opts.Provider,
		base:      base,
		timeout:   opts.Timeout,
		breaker:   opts.Breaker,
		http:      opts.HTTP,
		userAgent: opts.UserAgent,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c, nil
}

// Provider returns the provider name.
func (c *Client) Provider() string { return c.provider }

// Request is one provider call. Path is relative to the base URL and
// already escaped.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
	Bearer string
}

// Response is a completed call of any status.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// URL resolves an escaped relative path against the base URL. Escaped
// separators such as %2F stay inside their segment.
func (c *Client) URL(path string, q url.Values) string {
	escaped := strings.TrimLeft(path, "/")
	ref := &url.URL{Path: escaped}
	if raw, err := url.PathUnescape(escaped); err == nil {
		ref = &url.URL{Path: raw, RawPath: escaped}
	}
	u := c.base.ResolveReference(ref)
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Do executes req. Only transport failures are returned as errors; HTTP
// error statuses come back in the Response.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, unavailable(ctx, c.provider, err)
		}
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	call := func(ctx context.Context) (*Response, error) {
		return c.roundTrip(ctx, req)
	}

	var (
		resp *Response
		err  error
	)
	if c.breaker != nil {
		resp, err = resilience.ExecuteVal(callCtx, c.breaker, call)
	} else {
		resp, err = call(callCtx)
	}
	if resp != nil {
		return resp, nil
	}
	return nil, unavailable(ctx, c.provider, err)
}

func (c *Client) roundTrip(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	hr, err := http.NewRequestWithContext(ctx, method, c.URL(req.Path, req.Query), body)
	if err != nil {
		return nil, eris.Wrapf(err, "upstream: build %s request", c.provider)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hr.Header.Add(k, v)
		}
	}
	if req.Bearer != "" {
		hr.Header.Set("Authorization", "Bearer "+req.Bearer)
	}
	if c.userAgent != "" {
		hr.Header.Set("User-Agent", c.userAgent)
	}

	zap.L().Debug("upstream request",
		zap.String("provider", c.provider),
		zap.String("method", method),
		zap.String("path", req.Path),
	)

	res, err := c.http.Do(hr)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrapf(err, "upstream: read %s response", c.provider)
	}

	out := &Response{Status: res.StatusCode, Header: res.Header, Body: data}
	if resilience.IsTransientHTTPStatus(res.StatusCode) {
		// Counted by the breaker; the caller still sees the response.
		return out, resilience.NewTransientError(eris.Errorf("status %d", res.StatusCode), res.StatusCode)
	}
	return out, nil
}

// DoJSON executes req and decodes a JSON body. Error statuses become *Error
// with the best message the body offers.
func (c *Client) DoJSON(ctx context.Context, req Request) (tree.Node, error) {
	if req.Header == nil {
		req.Header = http.Header{}
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if req.Body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Status >= 400 {
		return nil, c.StatusError(resp)
	}
	return DecodeJSON(resp.Body)
}

// StatusError converts an error response into *Error.
func (c *Client) StatusError(resp *Response) error {
	msg := ""
	if n, err := DecodeJSON(resp.Body); err == nil {
		msg = ExtractMessage(n)
	} else {
		msg = strings.TrimSpace(string(resp.Body))
	}
	if msg == "" {
		msg = http.StatusText(resp.Status)
	}
	return &Error{Provider: c.provider, Status: resp.Status, Message: msg}
}

// DecodeJSON decodes a body into a tree, keeping numbers exact.
func DecodeJSON(body []byte) (tree.Node, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyResponse
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var n tree.Node
	if err := dec.Decode(&n); err != nil {
		return nil, eris.Wrap(err, "upstream: decode json")
	}
	return n, nil
}
