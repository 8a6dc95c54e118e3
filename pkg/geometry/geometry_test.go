package geometry

import (
	"encoding/json"
	"testing"

	"github.com/geodrift/arcrest/pkg/esri"
)

func TestClassifyNative(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"rings", `{"rings":[[[0,0],[0,1],[1,1],[0,0]]]}`, esri.GeometryPolygon},
		{"curveRings", `{"curveRings":[[[0,0],[0,1],[1,1],[0,0]]]}`, esri.GeometryPolygon},
		{"paths", `{"paths":[[[0,0],[1,1]]]}`, esri.GeometryPolyline},
		{"curvePaths", `{"curvePaths":[[[0,0],[1,1]]]}`, esri.GeometryPolyline},
		{"points", `{"points":[[0,0],[1,1]]}`, esri.GeometryMultipoint},
		{"xy", `{"x":1.5,"y":2.5}`, esri.GeometryPoint},
		{"envelope", `{"xmin":0,"ymin":0,"xmax":2,"ymax":2}`, esri.GeometryEnvelope},
		{"geojson point", `{"type":"Point","coordinates":[1,2]}`, esri.GeometryPoint},
		{"geojson polygon", `{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}`, esri.GeometryPolygon},
		{"feature", `{"geometry":{"x":1,"y":2},"attributes":{"OBJECTID":1}}`, esri.GeometryPoint},
		{"feature set", `{"features":[{"geometry":{"paths":[[[0,0],[1,1]]]}}],"spatialReference":{"wkid":4326}}`, esri.GeometryPolyline},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g, err := NewFromJSON([]byte(tc.doc))
			if err != nil {
				t.Fatalf("classify: %v", err)
			}
			if g.Type() != tc.want {
				t.Fatalf("got %s, want %s", g.Type(), tc.want)
			}
		})
	}
}

func TestClassifyRejectsUnknown(t *testing.T) {
	if _, err := NewFromJSON([]byte(`{"foo":1}`)); err == nil {
		t.Fatalf("unrecognized document accepted")
	}
	if _, err := NewFromJSON([]byte(`{"type":"Sphere","coordinates":[]}`)); err == nil {
		t.Fatalf("unknown geojson type accepted")
	}
}

func TestSpatialReferenceInheritance(t *testing.T) {
	doc := `{"features":[{"geometry":{"x":1,"y":2}}],"spatialReference":{"wkid":102100,"latestWkid":3857}}`
	g, err := NewFromJSON([]byte(doc))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if got := g.SpatialReference().Code(); got != 3857 {
		t.Fatalf("latestWkid not preferred: got %d", got)
	}
}

func TestEnvelopeDerivation(t *testing.T) {
	g := NewPolyline([][]Coordinate{
		{{0, 5}, {10, -2}},
		{{-3, 1}, {4, 8}},
	}, esri.SpatialReference{WKID: 4326})
	env := g.Envelope()
	if env.XMin != -3 || env.YMin != -2 || env.XMax != 10 || env.YMax != 8 {
		t.Fatalf("bad envelope: %+v", env)
	}
	if got := g.EnvelopeString(); got != "-3,-2,10,8" {
		t.Fatalf("bad envelope string: %s", got)
	}

	pt := NewPoint(2, 3, esri.SpatialReference{})
	penv := pt.Envelope()
	if penv.XMin != 2 || penv.XMax != 2 || penv.YMin != 3 || penv.YMax != 3 {
		t.Fatalf("point envelope not degenerate: %+v", penv)
	}
}

func TestToNativeRoundTrip(t *testing.T) {
	g := NewPolygon([][]Coordinate{{{0, 0}, {0, 5}, {5, 5}, {5, 0}, {0, 0}}}, esri.SpatialReference{WKID: 4326})
	raw, err := json.Marshal(g)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	back, err := NewFromJSON(raw)
	if err != nil {
		t.Fatalf("reclassify: %v", err)
	}
	if back.Type() != esri.GeometryPolygon {
		t.Fatalf("type lost: %s", back.Type())
	}
	if back.SpatialReference().WKID != 4326 {
		t.Fatalf("spatial reference lost: %+v", back.SpatialReference())
	}
	if len(back.Rings()) != 1 || len(back.Rings()[0]) != 5 {
		t.Fatalf("rings lost: %v", back.Rings())
	}
}

func TestCollection(t *testing.T) {
	a := NewPoint(0, 0, esri.SpatialReference{WKID: 4326})
	b := NewPoint(1, 1, esri.SpatialReference{WKID: 4326})
	gc, err := NewCollection([]*Geometry{a, b}, false)
	if err != nil {
		t.Fatalf("collection: %v", err)
	}
	if gc.Count() != 2 || gc.Type() != esri.GeometryPoint {
		t.Fatalf("bad collection: %d %s", gc.Count(), gc.Type())
	}
	doc := gc.ToNative()
	if doc[esri.KeyGeomType] != esri.GeometryPoint {
		t.Fatalf("bad type tag: %v", doc[esri.KeyGeomType])
	}

	poly := NewPolygon([][]Coordinate{{{0, 0}, {0, 1}, {1, 1}, {0, 0}}}, esri.SpatialReference{WKID: 4326})
	if _, err := NewCollection([]*Geometry{a, poly}, false); err == nil {
		t.Fatalf("mixed collection accepted")
	}

	envs, err := NewCollection([]*Geometry{poly}, true)
	if err != nil {
		t.Fatalf("envelope collection: %v", err)
	}
	if envs.Type() != esri.GeometryEnvelope {
		t.Fatalf("envelope mode type: %s", envs.Type())
	}
	doc = envs.ToNative()
	geoms := doc["geometries"].([]map[string]any)
	if _, ok := geoms[0][esri.KeyXMin]; !ok {
		t.Fatalf("envelope mode did not emit extents: %v", geoms[0])
	}
}
