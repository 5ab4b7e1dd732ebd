package resource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/dreamfactorysoftware/df-admin-data/apierror"
	"github.com/dreamfactorysoftware/df-admin-data/cache"
)

const (
	headerAPIKey       = "X-DreamFactory-API-Key"
	headerSessionToken = "X-DreamFactory-Session-Token"
)

// Client speaks the DreamFactory system API envelope: list responses wrap
// records in {"resource": [...], "meta": {...}}, errors arrive as
// {"error": {"code", "message", "status_code", "context"}}.
type Client struct {
	http         *http.Client
	baseURL      *url.URL
	apiKey       string
	sessionToken string
	logger       zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithTimeout sets the per-request timeout on the underlying client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithAPIKey sets the application API key header sent on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithSessionToken sets the session token header sent on every request. The
// token is treated as an opaque string; obtaining it is the caller's concern.
func WithSessionToken(token string) Option {
	return func(c *Client) { c.sessionToken = token }
}

// WithTokenSource routes requests through an OAuth2 transport for instances
// fronted by an SSO provider.
func WithTokenSource(src oauth2.TokenSource) Option {
	return func(c *Client) {
		if src == nil {
			return
		}
		base := c.http.Transport
		c.http = &http.Client{
			Transport: &oauth2.Transport{Source: src, Base: base},
			Timeout:   c.http.Timeout,
		}
	}
}

// WithLogger attaches a logger; requests are logged at debug level.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client rooted at baseURL (e.g. "https://df.local/api/v2").
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	c := &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: u,
		logger:  zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type listEnvelope struct {
	Resource []json.RawMessage `json:"resource"`
	Meta     struct {
		Count  int `json:"count"`
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
	} `json:"meta"`
}

type errorEnvelope struct {
	Error struct {
		Code       int             `json:"code"`
		Message    string          `json:"message"`
		StatusCode int             `json:"status_code"`
		Context    json.RawMessage `json:"context,omitempty"`
	} `json:"error"`
}

type idEnvelope struct {
	Resource []struct {
		ID int `json:"id"`
	} `json:"resource"`
}

// List fetches one page of a resource collection.
func (c *Client) List(ctx context.Context, name string, p cache.Params, factory Factory) (Page, error) {
	q := url.Values{}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Offset > 0 {
		q.Set("offset", strconv.Itoa(p.Offset))
	}
	if p.Filter != "" {
		q.Set("filter", p.Filter)
	}
	if p.Sort != "" {
		q.Set("order", p.Sort)
	}
	if len(p.Related) > 0 {
		q.Set("related", strings.Join(p.Related, ","))
	}
	if len(p.Fields) > 0 {
		q.Set("fields", strings.Join(p.Fields, ","))
	}
	q.Set("include_count", "true")

	var env listEnvelope
	if err := c.do(ctx, http.MethodGet, name, q, nil, &env); err != nil {
		return Page{}, err
	}

	page := Page{
		Records: make([]Record, 0, len(env.Resource)),
		Total:   env.Meta.Count,
		Limit:   env.Meta.Limit,
		Offset:  env.Meta.Offset,
	}
	if page.Limit == 0 {
		page.Limit = p.Limit
	}
	for _, raw := range env.Resource {
		rec := factory()
		if err := json.Unmarshal(raw, rec); err != nil {
			return Page{}, fmt.Errorf("decoding %s record: %w", name, err)
		}
		page.Records = append(page.Records, rec)
	}
	return page, nil
}

// GetRecord fetches a single record by id. Single reads return the bare
// record, not the list envelope.
func (c *Client) GetRecord(ctx context.Context, name string, id int, factory Factory) (Record, error) {
	rec := factory()
	if err := c.do(ctx, http.MethodGet, name+"/"+strconv.Itoa(id), nil, nil, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Create posts a new record and returns the server-assigned id. Client-side
// validation runs first; a ValidationError never reaches the wire.
func (c *Client) Create(ctx context.Context, name string, rec Record) (int, error) {
	if errs := rec.Validate(); len(errs) > 0 {
		return 0, &apierror.ValidationError{Resource: name, Fields: errs}
	}

	body := map[string]any{"resource": []Record{rec}}
	var env idEnvelope
	if err := c.do(ctx, http.MethodPost, name, nil, body, &env); err != nil {
		return 0, err
	}
	if len(env.Resource) == 0 {
		return 0, fmt.Errorf("create %s: response carried no id", name)
	}
	return env.Resource[0].ID, nil
}

// Update patches changed fields of an existing record.
func (c *Client) Update(ctx context.Context, name string, rec Record) error {
	if errs := rec.Validate(); len(errs) > 0 {
		return &apierror.ValidationError{Resource: name, Fields: errs}
	}
	path := name + "/" + strconv.Itoa(rec.RecordID())
	return c.do(ctx, http.MethodPatch, path, nil, rec, nil)
}

// Replace overwrites an existing record wholesale.
func (c *Client) Replace(ctx context.Context, name string, rec Record) error {
	if errs := rec.Validate(); len(errs) > 0 {
		return &apierror.ValidationError{Resource: name, Fields: errs}
	}
	path := name + "/" + strconv.Itoa(rec.RecordID())
	return c.do(ctx, http.MethodPut, path, nil, rec, nil)
}

// Delete removes a record by id.
func (c *Client) Delete(ctx context.Context, name string, id int) error {
	return c.do(ctx, http.MethodDelete, name+"/"+strconv.Itoa(id), nil, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.Trim(path, "/")
	if q != nil {
		u.RawQuery = q.Encode()
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s body: %w", path, err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(headerAPIKey, c.apiKey)
	}
	if c.sessionToken != "" {
		req.Header.Set(headerSessionToken, c.sessionToken)
	}

	c.logger.Debug().Str("method", method).Str("url", u.String()).Msg("api request")

	resp, err := c.http.Do(req)
	if err != nil {
		return &apierror.NetworkError{URL: u.String(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	he := &apierror.HTTPError{StatusCode: resp.StatusCode}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return he
	}
	var env errorEnvelope
	if json.Unmarshal(b, &env) == nil && env.Error.Message != "" {
		he.Code = env.Error.Code
		he.Message = env.Error.Message
		he.Context = env.Error.Context
		if env.Error.StatusCode != 0 {
			he.StatusCode = env.Error.StatusCode
		}
	}
	return he
}
