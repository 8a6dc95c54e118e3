// Package request implements the single outbound primitive every endpoint
// uses: a form-encoded POST that injects the JSON format flag, routes
// tokens on the right channel, rewrites through resource proxies and
// classifies error envelopes, with a one-shot token refresh on auth
// failures.
package request

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/geodrift/arcrest/internal/config"
	"github.com/geodrift/arcrest/internal/logger"
	"github.com/geodrift/arcrest/internal/observability"
	"github.com/geodrift/arcrest/pkg/auth"
	"github.com/geodrift/arcrest/pkg/esri"
	"github.com/geodrift/arcrest/pkg/geometry"
)

// Params are the request parameters before encoding. String values pass
// through; geometries, maps, slices and structs are serialized to JSON;
// everything else is rendered with fmt.
type Params map[string]any

// Client issues REST requests. Safe for concurrent use.
type Client struct {
	http *http.Client
	cfg  config.Config
	idm  *auth.Manager
	log  zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithConfig(cfg config.Config) Option {
	return func(c *Client) { c.cfg = cfg }
}

func WithIdentityManager(m *auth.Manager) Option {
	return func(c *Client) { c.idm = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

func New(opts ...Option) *Client {
	c := &Client{
		cfg: config.Default(),
		log: logger.Nop(),
	}
	for _, f := range opts {
		f(c)
	}
	if c.idm == nil {
		c.idm = auth.Default()
	}
	if c.http == nil {
		c.http = newOutbound(c.cfg)
	}
	return c
}

// newOutbound builds the tuned outbound client.
func newOutbound(cfg config.Config) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   128,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: !cfg.VerifyCertificates},
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

// RequestOption adjusts a single call.
type RequestOption func(*callOptions)

type callOptions struct {
	token    *auth.Token
	skipAuth bool
}

// WithToken pins an explicit token instead of consulting the identity
// manager.
func WithToken(tok auth.Token) RequestOption {
	return func(o *callOptions) { o.token = &tok }
}

// WithoutAuth sends the request anonymously even when a token is cached.
func WithoutAuth() RequestOption {
	return func(o *callOptions) { o.skipAuth = true }
}

// Post issues the request and decodes the JSON response into out. Pass a
// nil out to discard the body after error classification.
func (c *Client) Post(ctx context.Context, rawURL string, params Params, out any, opts ...RequestOption) error {
	body, err := c.Do(ctx, rawURL, params, opts...)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("request: decode %s: %w", rawURL, err)
	}
	return nil
}

// Do issues the request and returns the raw body. The full contract:
// protocol override, f=json injection, geometry parameter expansion, token
// channel selection, proxy rewrite, envelope classification and the
// one-shot refresh on auth codes.
func (c *Client) Do(ctx context.Context, rawURL string, params Params, opts ...RequestOption) ([]byte, error) {
	var co callOptions
	for _, f := range opts {
		f(&co)
	}

	body, err := c.once(ctx, rawURL, params, co)
	if err != nil && !co.skipAuth && co.token == nil && esri.IsAuthError(err) {
		tok, rerr := c.idm.Refresh(ctx, rawURL)
		if rerr != nil {
			// no credentials to retry with; the original failure stands
			return nil, err
		}
		c.log.Debug().Str("url", rawURL).Msg("retrying after token refresh")
		co.token = &tok
		return c.once(ctx, rawURL, params, co)
	}
	return body, err
}

func (c *Client) once(ctx context.Context, rawURL string, params Params, co callOptions) ([]byte, error) {
	target := c.applyProtocol(rawURL)

	values, err := encodeParams(params)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	if values.Get("f") == "" {
		values.Set("f", "json")
	}

	var tok *auth.Token
	if co.token != nil {
		tok = co.token
	} else if !co.skipAuth {
		if found, ok := c.idm.FindToken(ctx, target); ok {
			tok = &found
		}
	}

	var proxy string
	if tok == nil && !co.skipAuth {
		if p, ok := c.idm.FindProxy(target); ok {
			proxy = p
		}
	}
	if tok != nil && tok.UsesQueryParam() {
		values.Set("token", tok.Value)
	}

	var req *http.Request
	if proxy != "" {
		req, err = newProxyRequest(ctx, proxy, target, values)
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(values.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("request: build: %w", err)
	}
	req.Header.Set("User-Agent", esri.UserAgent)

	if tok != nil {
		if tok.UsesQueryParam() {
			if tok.Referer != "" {
				req.Header.Set("Referer", tok.Referer)
			}
		} else {
			req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: tok.Value})
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		observability.ObserveRequest(operationOf(target), 0, time.Since(start).Seconds())
		return nil, fmt.Errorf("request: %s: %w", target, err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	observability.ObserveRequest(operationOf(target), resp.StatusCode, elapsed.Seconds())
	lg := logger.FromContext(ctx, &c.log)
	lg.Debug().Str("url", target).Int("status", resp.StatusCode).Dur("elapsed", elapsed).Msg("post")

	if readErr != nil {
		return nil, fmt.Errorf("request: read %s: %w", target, readErr)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request: %s: unexpected status %d", target, resp.StatusCode)
	}
	if re := esri.ExtractError(body); re != nil {
		return body, fmt.Errorf("request: %s: %w", target, re)
	}
	return body, nil
}

// applyProtocol forces the configured scheme, falling back to the scheme
// learned from the token service, then to the URL's own.
func (c *Client) applyProtocol(rawURL string) string {
	proto := c.cfg.Protocol
	if proto == "" {
		proto = c.idm.PreferredProtocol()
	}
	if proto == "" {
		return rawURL
	}
	if i := strings.Index(rawURL, "://"); i >= 0 {
		return proto + rawURL[i:]
	}
	return proto + "://" + rawURL
}

// encodeParams renders parameters for the wire and expands geometry values
// into their companion parameters.
func encodeParams(params Params) (url.Values, error) {
	values := url.Values{}
	for name, v := range params {
		if g, ok := v.(*geometry.Geometry); ok {
			if name == "geometry" {
				if params["geometryType"] == nil && values.Get("geometryType") == "" {
					values.Set("geometryType", g.Type())
				}
				if params["inSR"] == nil && values.Get("inSR") == "" {
					if sr := g.SpatialReference(); !sr.IsZero() {
						if code := sr.Code(); code != 0 {
							values.Set("inSR", strconv.Itoa(code))
						} else {
							values.Set("inSR", sr.WKT)
						}
					}
				}
			}
			raw, err := json.Marshal(g)
			if err != nil {
				return nil, fmt.Errorf("encode %s: %w", name, err)
			}
			values.Set(name, string(raw))
			continue
		}
		s, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		values.Set(name, s)
	}
	return values, nil
}

func encodeValue(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case json.Marshaler, map[string]any, []any:
		raw, err := json.Marshal(t)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	case fmt.Stringer:
		return t.String(), nil
	case nil:
		return "", nil
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
}

// newProxyRequest targets a standard resource proxy page: the service URL
// and parameters ride in the query string after the proxy address.
func newProxyRequest(ctx context.Context, proxy, target string, values url.Values) (*http.Request, error) {
	format := values.Get("f")
	if format == "" {
		format = "json"
	}
	values.Del("f")
	u := fmt.Sprintf("%s?%s?f=%s", proxy, target, format)
	if enc := values.Encode(); enc != "" {
		u += "&" + enc
	}
	return http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
}

// operationOf reduces a URL to its trailing operation name for metric
// labels, keeping cardinality bounded.
func operationOf(rawURL string) string {
	u := rawURL
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	u = strings.TrimRight(u, "/")
	if i := strings.LastIndex(u, "/"); i >= 0 {
		u = u[i+1:]
	}
	// numeric segments are layer ids, not operations
	if _, err := strconv.Atoi(u); err == nil {
		return "layer"
	}
	switch u {
	case "query", "applyEdits", "addFeatures", "updateFeatures", "deleteFeatures",
		"addAttachment", "updateAttachment", "deleteAttachments", "attachments",
		"project", "buffer", "simplify", "lengths", "areasAndLengths", "relation",
		"union", "difference", "intersect", "trimExtend", "densify", "generalize",
		"autoComplete", "convexHull", "findTransformations", "generateToken", "info":
		return u
	}
	return "resource"
}
