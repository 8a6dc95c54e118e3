package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/geodrift/arcrest/pkg/auth"
	"github.com/geodrift/arcrest/pkg/request"
)

func testClient() *request.Client {
	return request.New(request.WithIdentityManager(auth.NewManager()))
}

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"gis.example.com", "http://gis.example.com/arcgis/rest/services"},
		{"https://gis.example.com/", "https://gis.example.com/arcgis/rest/services"},
		{"https://gis.example.com/arcgis/rest/services/Roads/MapServer/0/", "https://gis.example.com/arcgis/rest/services/Roads/MapServer/0"},
		{"https://host/ArcGIS/rest/services", "https://host/ArcGIS/rest/services"},
	}
	for _, c := range cases {
		got, err := NormalizeURL(c.in)
		if err != nil {
			t.Fatalf("NormalizeURL(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("NormalizeURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
	if _, err := NormalizeURL("  "); err == nil {
		t.Fatalf("blank URL accepted")
	}
}

func TestParseVersion(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"10.31", 10.31},
		{"10.9.1", 10.91},
		{"11.2.0", 11.2},
	}
	for _, c := range cases {
		got, err := ParseVersion(c.in)
		if err != nil {
			t.Fatalf("ParseVersion(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("ParseVersion(%q) = %v, want %v", c.in, got, c.want)
		}
	}
	if _, err := ParseVersion("not-a-version"); err == nil {
		t.Fatalf("malformed version accepted")
	}
}

func TestMatchName(t *testing.T) {
	cases := []struct {
		pattern, name string
		want          bool
	}{
		{"Roads", "roads", true},
		{"Roads", "Rail", false},
		{"*roads*", "transport/Roads/MapServer", true},
		{"transport/*", "transport/Roads", true},
		{"*mapserver", "transport/Roads/MapServer", true},
		{"*moun*mapserver", "moun_webmap_rest/MapServer", true},
		{"*moun*mapserver", "webmap_rest/MapServer", false},
	}
	for _, c := range cases {
		if got := matchName(c.pattern, c.name); got != c.want {
			t.Fatalf("matchName(%q, %q) = %v, want %v", c.pattern, c.name, got, c.want)
		}
	}
}

func TestArcServerNavigation(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/arcgis/rest/services", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{"currentVersion":10.91,"folders":["transport"],"services":[{"name":"SampleWorldCities","type":"MapServer"}]}`))
	})
	r.Post("/arcgis/rest/services/transport", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{"currentVersion":10.91,"services":[{"name":"transport/Roads","type":"FeatureServer"}]}`))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx := context.Background()
	server, err := NewArcServer(ctx, srv.URL, WithClient(testClient()))
	if err != nil {
		t.Fatalf("NewArcServer: %v", err)
	}
	if !server.CompatibleWith(10.31) {
		t.Fatalf("10.91 not compatible with 10.31")
	}
	if server.CompatibleWith(11) {
		t.Fatalf("10.91 compatible with 11")
	}
	if len(server.Folders()) != 1 || server.Folders()[0] != "transport" {
		t.Fatalf("folders: %v", server.Folders())
	}

	u, err := server.ServiceURL(ctx, "*roads*")
	if err != nil {
		t.Fatalf("ServiceURL: %v", err)
	}
	want := srv.URL + "/arcgis/rest/services/transport/Roads/FeatureServer"
	if u != want {
		t.Fatalf("ServiceURL = %q, want %q", u, want)
	}

	if _, err := server.ServiceURL(ctx, "nosuch"); err == nil {
		t.Fatalf("missing service resolved")
	}
}

func TestMapServiceLayerLookup(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/arcgis/rest/services/Roads/MapServer", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{"currentVersion":10.91,"maxRecordCount":1000,"layers":[{"id":0,"name":"Streets"},{"id":1,"name":"Bridges"}]}`))
	})
	r.Post("/arcgis/rest/services/Roads/MapServer/1", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{"id":1,"name":"Bridges","type":"Feature Layer","objectIdField":"OBJECTID"}`))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx := context.Background()
	ms, err := NewMapService(ctx, srv.URL+"/arcgis/rest/services/Roads/MapServer", WithClient(testClient()))
	if err != nil {
		t.Fatalf("NewMapService: %v", err)
	}

	lyr, err := ms.LayerByName(ctx, "bri*")
	if err != nil {
		t.Fatalf("LayerByName: %v", err)
	}
	if lyr.Name() != "Bridges" || !strings.HasSuffix(lyr.URL(), "/MapServer/1") {
		t.Fatalf("wrong layer: %s %s", lyr.Name(), lyr.URL())
	}
	if lyr.OIDFieldName() != "OBJECTID" {
		t.Fatalf("oid field %q", lyr.OIDFieldName())
	}

	if _, err := ms.LayerByName(ctx, "tunnels"); err == nil {
		t.Fatalf("missing layer resolved")
	}
}
