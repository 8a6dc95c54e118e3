package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/geodrift/arcrest/pkg/esri"
)

func TestNormalizeDomain(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://HOST.example.com/arcgis/rest/services/Folder/Roads/MapServer/0", "https://host.example.com/arcgis/rest/services"},
		{"https://host.example.com/arcgis/rest/services/", "https://host.example.com/arcgis/rest/services"},
		{"https://host.example.com/arcgis/admin/services/Roads.MapServer", "https://host.example.com/arcgis/admin"},
		{"https://host.example.com/arcgis/rest/services?f=json", "https://host.example.com/arcgis/rest/services"},
		{"https://host.example.com/other", "https://host.example.com/other"},
	}
	for _, tc := range tests {
		if got := NormalizeDomain(tc.in); got != tc.want {
			t.Fatalf("NormalizeDomain(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestInfoURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://host/arcgis/rest/services/Roads/MapServer", "https://host/arcgis/rest/info"},
		{"https://host/arcgis/admin/services", "https://host/arcgis/rest/info"},
		{"https://host/arcgis", "https://host/arcgis/rest/info"},
	}
	for _, tc := range tests {
		if got := infoURL(tc.in); got != tc.want {
			t.Fatalf("infoURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestStoreKeyDistinguishesDomains(t *testing.T) {
	a := storeKey("https://a.example.com/arcgis/rest/services")
	b := storeKey("https://b.example.com/arcgis/rest/services")
	if a == b {
		t.Fatalf("distinct domains share a key: %s", a)
	}
	// exotic characters sanitize but the hash keeps keys unique
	c := storeKey("https://host/päth one")
	d := storeKey("https://host/päth_two")
	if c == d {
		t.Fatalf("sanitized collision: %s", c)
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s, err := NewMemoryStore(2)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	tok := Token{Value: "abc", Domain: "d1", Expires: time.Now().Add(time.Hour)}
	if err := s.Put(ctx, "d1", tok); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := s.Get(ctx, "d1")
	if err != nil || !ok || got.Value != "abc" {
		t.Fatalf("get: %v %v %+v", err, ok, got)
	}

	// capacity bound evicts the oldest
	_ = s.Put(ctx, "d2", Token{Value: "x"})
	_ = s.Put(ctx, "d3", Token{Value: "y"})
	if _, ok, _ := s.Get(ctx, "d1"); ok {
		t.Fatalf("lru did not evict")
	}

	_ = s.Delete(ctx, "d3")
	if _, ok, _ := s.Get(ctx, "d3"); ok {
		t.Fatalf("delete did not remove")
	}
}

func newServerFixture(t *testing.T, tokenCalls *atomic.Int64) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	var srv *httptest.Server
	r.Post("/arcgis/rest/info", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprintf(w, `{"currentVersion":10.91,"authInfo":{"isTokenBasedSecurity":true,"tokenServicesUrl":"%s/arcgis/tokens/generateToken","shortLivedTokenValidity":60}}`, srv.URL)
	})
	r.Post("/arcgis/tokens/generateToken", func(w http.ResponseWriter, req *http.Request) {
		if err := req.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if req.PostFormValue("username") != "gis_user" || req.PostFormValue("password") != "secret" {
			w.Write([]byte(`{"error":{"code":400,"message":"Unable to generate token.","details":["Invalid username or password specified."]}}`))
			return
		}
		if req.PostFormValue("client") != "requestip" {
			t.Errorf("on-prem token request missing client=requestip")
		}
		tokenCalls.Add(1)
		expires := time.Now().Add(time.Hour).UnixMilli()
		fmt.Fprintf(w, `{"token":"tok-%d","expires":%d,"ssl":true}`, tokenCalls.Load(), expires)
	})
	srv = httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestAcquireTokenCachesPerDomain(t *testing.T) {
	var tokenCalls atomic.Int64
	srv := newServerFixture(t, &tokenCalls)
	ctx := context.Background()

	m := NewManager()
	layerURL := srv.URL + "/arcgis/rest/services/Roads/MapServer/0"

	tok, err := m.AcquireToken(ctx, layerURL, "gis_user", "secret")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if tok.Value != "tok-1" || tok.Flavor != FlavorServer {
		t.Fatalf("unexpected token: %+v", tok)
	}
	if tok.UsesQueryParam() {
		t.Fatalf("server token should travel as a cookie")
	}
	if tok.Domain != NormalizeDomain(layerURL) {
		t.Fatalf("token domain %q", tok.Domain)
	}

	// a second resource on the same site reuses the cached token
	otherURL := srv.URL + "/arcgis/rest/services/Parcels/FeatureServer/2"
	cached, ok := m.FindToken(ctx, otherURL)
	if !ok || cached.Value != "tok-1" {
		t.Fatalf("cached token not found: %v %+v", ok, cached)
	}
	if got := tokenCalls.Load(); got != 1 {
		t.Fatalf("token endpoint hit %d times, want 1", got)
	}
}

// the requested lifetime never exceeds the site's advertised short-lived
// validity
func TestTokenExpirationRequest(t *testing.T) {
	cases := []struct {
		validity int
		want     string
	}{
		{100, "60"},
		{30, "30"},
	}
	for _, tc := range cases {
		var gotExpiration string
		r := chi.NewRouter()
		var srv *httptest.Server
		r.Post("/arcgis/rest/info", func(w http.ResponseWriter, req *http.Request) {
			fmt.Fprintf(w, `{"authInfo":{"tokenServicesUrl":"%s/arcgis/tokens/generateToken","shortLivedTokenValidity":%d}}`, srv.URL, tc.validity)
		})
		r.Post("/arcgis/tokens/generateToken", func(w http.ResponseWriter, req *http.Request) {
			_ = req.ParseForm()
			gotExpiration = req.PostFormValue("expiration")
			fmt.Fprintf(w, `{"token":"tok","expires":%d}`, time.Now().Add(time.Hour).UnixMilli())
		})
		srv = httptest.NewServer(r)

		m := NewManager()
		if _, err := m.AcquireToken(context.Background(), srv.URL+"/arcgis/rest/services", "u", "p"); err != nil {
			t.Fatalf("validity %d: acquire: %v", tc.validity, err)
		}
		if gotExpiration != tc.want {
			t.Fatalf("validity %d: expiration = %q, want %q", tc.validity, gotExpiration, tc.want)
		}
		srv.Close()
	}
}

func TestAcquireTokenBadCredentials(t *testing.T) {
	var tokenCalls atomic.Int64
	srv := newServerFixture(t, &tokenCalls)

	m := NewManager()
	_, err := m.AcquireToken(context.Background(), srv.URL+"/arcgis/rest/services", "gis_user", "wrong")
	if err == nil {
		t.Fatalf("bad credentials accepted")
	}
	var re *esri.RESTError
	if !errors.As(err, &re) || re.Code != 400 {
		t.Fatalf("expected code 400 rest error, got %v", err)
	}
}

func TestFindTokenExpiryIsAbsence(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	m := NewManager(WithClock(func() time.Time { return now }))

	domain := "https://host/arcgis/rest/services"
	tok := Token{Value: "t", Domain: domain, Expires: now.Add(30 * time.Minute)}
	if err := m.store.Put(ctx, domain, tok); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, ok := m.FindToken(ctx, domain+"/Roads/MapServer"); !ok {
		t.Fatalf("valid token not found")
	}

	now = now.Add(time.Hour)
	if _, ok := m.FindToken(ctx, domain+"/Roads/MapServer"); ok {
		t.Fatalf("expired token returned")
	}
	// and it was dropped from the store
	if _, ok, _ := m.store.Get(ctx, domain); ok {
		t.Fatalf("expired token not evicted")
	}
}

func TestRefreshNeedsCredentials(t *testing.T) {
	m := NewManager()
	if _, err := m.Refresh(context.Background(), "https://host/arcgis/rest/services"); err == nil {
		t.Fatalf("refresh without credentials succeeded")
	}
}

func TestRefreshReacquires(t *testing.T) {
	var tokenCalls atomic.Int64
	srv := newServerFixture(t, &tokenCalls)
	ctx := context.Background()
	m := NewManager()

	u := srv.URL + "/arcgis/rest/services/Roads/MapServer"
	if _, err := m.AcquireToken(ctx, u, "gis_user", "secret"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	tok, err := m.Refresh(ctx, u)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if tok.Value != "tok-2" {
		t.Fatalf("refresh did not reacquire: %+v", tok)
	}
	if got := tokenCalls.Load(); got != 2 {
		t.Fatalf("token endpoint hit %d times, want 2", got)
	}
}

func TestProxyRegistry(t *testing.T) {
	m := NewManager()
	u := "https://host.example.com/arcgis/rest/services/Roads/MapServer"
	if _, ok := m.FindProxy(u); ok {
		t.Fatalf("unexpected proxy")
	}
	m.RegisterProxy(u, "https://host.example.com/proxy.ashx")
	p, ok := m.FindProxy("https://host.example.com/arcgis/rest/services/Other/FeatureServer")
	if !ok || p != "https://host.example.com/proxy.ashx" {
		t.Fatalf("proxy lookup failed: %v %q", ok, p)
	}
}

func TestGuessProxyURL(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/proxy.ashx", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	m := NewManager()
	got, ok := m.GuessProxyURL(context.Background(), srv.URL+"/arcgis/rest/services")
	if !ok || got != srv.URL+"/proxy.ashx" {
		t.Fatalf("probe failed: %v %q", ok, got)
	}
	// probe result is registered for the domain
	if p, ok := m.FindProxy(srv.URL + "/arcgis/rest/services/Roads/MapServer"); !ok || p != got {
		t.Fatalf("probe hit not registered: %v %q", ok, p)
	}
}

func TestTokenJSONRoundTrip(t *testing.T) {
	tok := Token{
		Value:   "abc",
		Expires: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Domain:  "https://host/arcgis/rest/services",
		Flavor:  FlavorHosted,
		Referer: "org.maps.arcgis.com",
	}
	raw, err := json.Marshal(tok)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Token
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != tok {
		t.Fatalf("round trip mismatch: %+v != %+v", back, tok)
	}
	if !back.UsesQueryParam() {
		t.Fatalf("hosted token should use the query parameter channel")
	}
}
