package auth

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/geodrift/arcrest/internal/config"
	"github.com/geodrift/arcrest/internal/logger"
	"github.com/geodrift/arcrest/internal/observability"
	"github.com/geodrift/arcrest/pkg/esri"
)

// Hosted platform endpoints. The hosted token flow always goes through the
// platform portal regardless of which organization URL was asked about.
const (
	hostedBase         = "arcgis.com"
	hostedTokenService = "https://www.arcgis.com/sharing/rest/generateToken"
	hostedPortalSelf   = "https://www.arcgis.com/sharing/rest/portals/self"
	hostedOrgSuffix    = ".maps.arcgis.com"
)

// IdentityManager hands out tokens and proxies for secured resources.
// Endpoints take one by injection; Default() is the process-wide instance.
type IdentityManager interface {
	FindToken(ctx context.Context, rawURL string) (Token, bool)
	AcquireToken(ctx context.Context, rawURL, username, password string) (Token, error)
	Refresh(ctx context.Context, rawURL string) (Token, error)
	FindProxy(rawURL string) (string, bool)
	RegisterProxy(rawURL, proxyURL string)
}

type credentials struct {
	username string
	password string
}

// Manager is the default IdentityManager implementation. Safe for
// concurrent use.
type Manager struct {
	cfg    config.Config
	store  TokenStore
	client *http.Client
	log    zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	creds   map[string]credentials
	proxies map[string]string
	// preferredProtocol is learned from the token service URL scheme and
	// consulted when no protocol override is configured.
	preferredProtocol string
}

type ManagerOption func(*Manager)

func WithStore(s TokenStore) ManagerOption {
	return func(m *Manager) { m.store = s }
}

func WithHTTPClient(c *http.Client) ManagerOption {
	return func(m *Manager) { m.client = c }
}

func WithLogger(l zerolog.Logger) ManagerOption {
	return func(m *Manager) { m.log = l }
}

func WithConfig(cfg config.Config) ManagerOption {
	return func(m *Manager) { m.cfg = cfg }
}

func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:     config.Default(),
		log:     logger.Nop(),
		now:     time.Now,
		creds:   map[string]credentials{},
		proxies: map[string]string{},
	}
	for _, f := range opts {
		f(m)
	}
	if m.store == nil {
		m.store, _ = NewMemoryStore(0)
	}
	if m.client == nil {
		m.client = &http.Client{
			Timeout: m.cfg.Timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: !m.cfg.VerifyCertificates},
			},
		}
	}
	return m
}

var (
	defaultManager *Manager
	defaultOnce    sync.Once
)

// Default returns the process-wide manager, built from the environment on
// first use.
func Default() *Manager {
	defaultOnce.Do(func() {
		defaultManager = NewManager(WithConfig(config.FromEnv()))
	})
	return defaultManager
}

// FindToken returns a usable cached token for the resource's domain.
// Expired entries count as absent so the caller falls through to
// reacquisition.
func (m *Manager) FindToken(ctx context.Context, rawURL string) (Token, bool) {
	domain := NormalizeDomain(rawURL)
	tok, ok, err := m.store.Get(ctx, domain)
	if err != nil {
		m.log.Warn().Err(err).Str("domain", domain).Msg("token store lookup failed")
		return Token{}, false
	}
	if !ok {
		observability.IncTokenCacheMiss()
		return Token{}, false
	}
	if tok.Expired(m.now()) {
		observability.IncTokenCacheMiss()
		_ = m.store.Delete(ctx, domain)
		m.log.Debug().Str("domain", domain).Time("expired", tok.Expires).Msg("dropping expired token")
		return Token{}, false
	}
	observability.IncTokenCacheHit()
	return tok, true
}

// AcquireToken signs in to the site that serves rawURL and caches the
// resulting token under the normalized domain. Credentials are remembered
// in-process for later refresh; they never reach the token store.
func (m *Manager) AcquireToken(ctx context.Context, rawURL, username, password string) (Token, error) {
	domain := NormalizeDomain(rawURL)
	tok, err := m.generate(ctx, rawURL, domain, username, password)
	if err != nil {
		observability.IncTokenFailed(string(tok.Flavor))
		return Token{}, err
	}
	observability.IncTokenAcquired(string(tok.Flavor))

	m.mu.Lock()
	m.creds[domain] = credentials{username: username, password: password}
	m.mu.Unlock()

	if err := m.store.Put(ctx, domain, tok); err != nil {
		m.log.Warn().Err(err).Str("domain", domain).Msg("token store write failed")
	}
	m.log.Debug().Str("domain", domain).Str("flavor", string(tok.Flavor)).Time("expires", tok.Expires).Msg("token acquired")
	return tok, nil
}

// Refresh reacquires a token for the resource's domain using remembered
// credentials. Used for the one-shot retry after an auth failure.
func (m *Manager) Refresh(ctx context.Context, rawURL string) (Token, error) {
	domain := NormalizeDomain(rawURL)
	m.mu.Lock()
	cred, ok := m.creds[domain]
	m.mu.Unlock()
	if !ok {
		return Token{}, fmt.Errorf("auth: no credentials known for %s", domain)
	}
	_ = m.store.Delete(ctx, domain)
	return m.AcquireToken(ctx, rawURL, cred.username, cred.password)
}

// FindProxy returns a registered proxy page for the resource's domain.
func (m *Manager) FindProxy(rawURL string) (string, bool) {
	domain := NormalizeDomain(rawURL)
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proxies[domain]
	return p, ok
}

// RegisterProxy routes future requests for the resource's domain through a
// resource proxy page.
func (m *Manager) RegisterProxy(rawURL, proxyURL string) {
	domain := NormalizeDomain(rawURL)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proxies[domain] = proxyURL
}

// PreferredProtocol returns the scheme learned from the site's token
// service, or empty when no token has been acquired yet.
func (m *Manager) PreferredProtocol() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.preferredProtocol
}

type authInfoDoc struct {
	AuthInfo struct {
		TokenServicesURL        string `json:"tokenServicesUrl"`
		ShortLivedTokenValidity int    `json:"shortLivedTokenValidity"`
	} `json:"authInfo"`
}

type tokenDoc struct {
	Token   string `json:"token"`
	Expires int64  `json:"expires"`
	SSL     bool   `json:"ssl"`
}

func (m *Manager) generate(ctx context.Context, rawURL, domain, username, password string) (Token, error) {
	flavor := FlavorServer
	if strings.Contains(strings.ToLower(rawURL), "/admin") {
		flavor = FlavorAdmin
	}

	var info authInfoDoc
	infoBody, err := m.postForm(ctx, infoURL(rawURL), url.Values{})
	if err != nil {
		return Token{Flavor: flavor}, fmt.Errorf("auth: site info: %w", err)
	}
	_ = json.Unmarshal(infoBody, &info)

	tokenURL := info.AuthInfo.TokenServicesURL
	shortLived := info.AuthInfo.ShortLivedTokenValidity
	if tokenURL == "" {
		// legacy sites without an info document expose /tokens directly
		base := rawURL
		if i := strings.Index(base, "/rest/"); i >= 0 {
			base = base[:i]
		}
		tokenURL = strings.TrimRight(base, "/") + "/tokens"
		shortLived = 100
	}
	if shortLived <= 0 {
		shortLived = 100
	}
	if strings.Contains(tokenURL, hostedBase) && flavor != FlavorAdmin {
		flavor = FlavorHosted
		tokenURL = hostedTokenService
	}
	if i := strings.Index(tokenURL, "://"); i > 0 {
		m.mu.Lock()
		m.preferredProtocol = tokenURL[:i]
		m.mu.Unlock()
	}

	// the requested lifetime may not exceed the site's short-lived validity
	expiration := m.cfg.TokenExpiration
	if expiration > shortLived {
		expiration = shortLived
	}
	params := url.Values{
		"username":   {username},
		"password":   {password},
		"expiration": {strconv.Itoa(expiration)},
	}
	referer := ""
	if flavor == FlavorHosted {
		referer = "https://www." + hostedBase
		params.Set("referer", referer)
	} else {
		params.Set("client", "requestip")
	}

	body, err := m.postForm(ctx, tokenURL, params)
	if err != nil {
		return Token{Flavor: flavor}, fmt.Errorf("auth: generate token: %w", err)
	}
	var doc tokenDoc
	if err := json.Unmarshal(body, &doc); err != nil || doc.Token == "" {
		return Token{Flavor: flavor}, fmt.Errorf("auth: malformed token response")
	}

	if flavor == FlavorHosted {
		// rebind the token to the organization referer
		org, err := m.portalURLKey(ctx, doc.Token)
		if err != nil {
			return Token{Flavor: flavor}, err
		}
		referer = org + hostedOrgSuffix
		params.Set("referer", referer)
		body, err = m.postForm(ctx, hostedTokenService, params)
		if err != nil {
			return Token{Flavor: flavor}, fmt.Errorf("auth: organization token: %w", err)
		}
		if err := json.Unmarshal(body, &doc); err != nil || doc.Token == "" {
			return Token{Flavor: flavor}, fmt.Errorf("auth: malformed organization token response")
		}
	}

	return Token{
		Value:   doc.Token,
		Expires: esri.MillisToTime(doc.Expires),
		Domain:  domain,
		Flavor:  flavor,
		Referer: referer,
	}, nil
}

func (m *Manager) portalURLKey(ctx context.Context, token string) (string, error) {
	body, err := m.postForm(ctx, hostedPortalSelf, url.Values{"token": {token}})
	if err != nil {
		return "", fmt.Errorf("auth: portal self: %w", err)
	}
	var doc struct {
		URLKey string `json:"urlKey"`
	}
	if err := json.Unmarshal(body, &doc); err != nil || doc.URLKey == "" {
		return "", fmt.Errorf("auth: portal self carries no urlKey")
	}
	return doc.URLKey, nil
}

// postForm is the minimal transport for token exchanges. The main request
// path lives elsewhere; token endpoints must not recurse into it.
func (m *Manager) postForm(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	params.Set("f", "json")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", esri.UserAgent)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %d", endpoint, resp.StatusCode)
	}
	if re := esri.ExtractError(body); re != nil {
		return nil, fmt.Errorf("%s: %w", endpoint, re)
	}
	return body, nil
}

// GuessProxyURL probes a domain for a standard resource proxy page. It
// first tries proxy pages at the site root, then inside a proxy folder. A
// hit is registered for the domain and returned.
func (m *Manager) GuessProxyURL(ctx context.Context, domain string) (string, bool) {
	root := siteRoot(domain)
	for _, ext := range []string{".ashx", ".jsp", ".php"} {
		candidate := root + "/proxy" + ext
		if m.probeProxy(ctx, candidate, false) {
			m.RegisterProxy(domain, candidate)
			return candidate, true
		}
	}
	for _, ext := range []string{".ashx", ".jsp", ".php"} {
		candidate := root + "/proxy/proxy" + ext
		if m.probeProxy(ctx, candidate, true) {
			m.RegisterProxy(domain, candidate)
			return candidate, true
		}
	}
	return "", false
}

// probeProxy hits a candidate proxy URL. An out-of-the-box resource proxy
// answers a bare GET with HTTP 400 or a JSON error document; in the lenient
// second pass any non-empty body counts.
func (m *Manager) probeProxy(ctx context.Context, candidate string, lenient bool) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, candidate, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", esri.UserAgent)
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusBadRequest {
		return true
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return false
	}
	if lenient {
		return len(body) > 0
	}
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return false
	}
	_, hasErr := doc["error"]
	return hasErr
}
