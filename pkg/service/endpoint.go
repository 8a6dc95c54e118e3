// Package service exposes the navigable endpoint tree: server catalogs,
// map and feature services, layers with the bounded query engine, cursors
// over feature sets, the edit submitter and the geometry service client.
package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/geodrift/arcrest/internal/logger"
	"github.com/geodrift/arcrest/pkg/auth"
	"github.com/geodrift/arcrest/pkg/events"
	"github.com/geodrift/arcrest/pkg/request"
)

// base carries what every endpoint needs: the normalized URL, the shared
// transport, per-endpoint call options and the cached version number.
type base struct {
	url     string
	client  *request.Client
	opts    []request.RequestOption
	log     zerolog.Logger
	sink    events.Sink
	version float64
}

// Option configures an endpoint at construction.
type Option func(*base)

// WithClient supplies a shared transport. Endpoints built without one use a
// client with process defaults.
func WithClient(c *request.Client) Option {
	return func(b *base) { b.client = c }
}

// WithToken pins a token for every call this endpoint makes, bypassing the
// identity manager lookup.
func WithToken(tok auth.Token) Option {
	return func(b *base) { b.opts = append(b.opts, request.WithToken(tok)) }
}

func WithLogger(l zerolog.Logger) Option {
	return func(b *base) { b.log = l }
}

// WithEventSink routes edit events from editing layers. Defaults to a sink
// that drops them.
func WithEventSink(s events.Sink) Option {
	return func(b *base) { b.sink = s }
}

func newBase(rawURL string, opts ...Option) (base, error) {
	u, err := NormalizeURL(rawURL)
	if err != nil {
		return base{}, err
	}
	b := base{url: u, log: logger.Nop(), sink: events.NopSink{}}
	for _, f := range opts {
		f(&b)
	}
	if b.client == nil {
		b.client = request.New()
	}
	return b, nil
}

func (b *base) post(ctx context.Context, url string, params request.Params, out any) error {
	return b.client.Post(ctx, url, params, out, b.opts...)
}

// URL returns the normalized endpoint URL.
func (b *base) URL() string { return b.url }

// CompatibleWith reports whether the endpoint's currentVersion is at least
// the given minimum.
func (b *base) CompatibleWith(min float64) bool {
	return b.version != 0 && b.version >= min
}

// NormalizeURL prepares a service URL: trailing slashes are trimmed, a
// missing scheme defaults to http, and a bare host is completed with the
// conventional /arcgis/rest/services suffix.
func NormalizeURL(rawURL string) (string, error) {
	u := strings.TrimRight(strings.TrimSpace(rawURL), "/")
	if u == "" {
		return "", fmt.Errorf("service: empty URL")
	}
	if !strings.Contains(u, "://") {
		u = "http://" + u
	}
	if !strings.Contains(strings.ToLower(u), "/rest/services") {
		u += "/arcgis/rest/services"
	}
	return u, nil
}

// ParseVersion reduces a server version string to a comparable number.
// Multi-dot forms collapse the fractional parts: "10.9.1" parses as 10.91.
func ParseVersion(s string) (float64, error) {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}
	whole, rest, ok := strings.Cut(s, ".")
	if !ok {
		return 0, fmt.Errorf("service: malformed version %q", s)
	}
	var frac strings.Builder
	for _, r := range rest {
		if r >= '0' && r <= '9' {
			frac.WriteRune(r)
		}
	}
	f, err := strconv.ParseFloat(whole+"."+frac.String(), 64)
	if err != nil {
		return 0, fmt.Errorf("service: malformed version %q", s)
	}
	return f, nil
}

// matchName compares a service or layer name against a pattern that may
// contain * wildcards. Matching is case-insensitive.
func matchName(pattern, name string) bool {
	p := strings.ToLower(pattern)
	n := strings.ToLower(name)
	if !strings.Contains(p, "*") {
		return p == n
	}
	parts := strings.Split(p, "*")
	if first := parts[0]; first != "" {
		if !strings.HasPrefix(n, first) {
			return false
		}
		n = n[len(first):]
	}
	if last := parts[len(parts)-1]; last != "" {
		if !strings.HasSuffix(n, last) {
			return false
		}
		n = n[:len(n)-len(last)]
	}
	for _, part := range parts[1 : len(parts)-1] {
		if part == "" {
			continue
		}
		i := strings.Index(n, part)
		if i < 0 {
			return false
		}
		n = n[i+len(part):]
	}
	return true
}
