// Package geometry implements the canonical geometry value used across the
// client: structural classification of wire documents, envelope derivation
// and lossless conversion between the native format and GeoJSON.
package geometry

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/geodrift/arcrest/pkg/esri"
)

// Coordinate is one vertex. Index 0 is X, 1 is Y; a third element, when
// present, is Z and survives every conversion.
type Coordinate []float64

func (c Coordinate) X() float64 { return c[0] }
func (c Coordinate) Y() float64 { return c[1] }

// Z returns the third ordinate and whether one is present.
func (c Coordinate) Z() (float64, bool) {
	if len(c) > 2 {
		return c[2], true
	}
	return 0, false
}

func (c Coordinate) clone() Coordinate {
	out := make(Coordinate, len(c))
	copy(out, c)
	return out
}

// Equal compares positions element-wise.
func (c Coordinate) Equal(other Coordinate) bool {
	if len(c) != len(other) {
		return false
	}
	for i := range c {
		if c[i] != other[i] {
			return false
		}
	}
	return true
}

// Geometry is a classified native geometry. The zero value is invalid; use
// the constructors or New.
type Geometry struct {
	esriType string
	sr       esri.SpatialReference
	hasZ     bool
	hasM     bool

	point  Coordinate     // esriGeometryPoint
	points []Coordinate   // esriGeometryMultipoint
	parts  [][]Coordinate // paths or rings
	env    *Envelope      // esriGeometryEnvelope
}

// Constructors.

func NewPoint(x, y float64, sr esri.SpatialReference) *Geometry {
	return &Geometry{esriType: esri.GeometryPoint, point: Coordinate{x, y}, sr: sr}
}

func NewPointZ(x, y, z float64, sr esri.SpatialReference) *Geometry {
	return &Geometry{esriType: esri.GeometryPoint, point: Coordinate{x, y, z}, hasZ: true, sr: sr}
}

func NewMultipoint(points []Coordinate, sr esri.SpatialReference) *Geometry {
	return &Geometry{esriType: esri.GeometryMultipoint, points: points, sr: sr, hasZ: partsHaveZ([][]Coordinate{points})}
}

func NewPolyline(paths [][]Coordinate, sr esri.SpatialReference) *Geometry {
	return &Geometry{esriType: esri.GeometryPolyline, parts: paths, sr: sr, hasZ: partsHaveZ(paths)}
}

func NewPolygon(rings [][]Coordinate, sr esri.SpatialReference) *Geometry {
	return &Geometry{esriType: esri.GeometryPolygon, parts: rings, sr: sr, hasZ: partsHaveZ(rings)}
}

func NewEnvelopeGeometry(env Envelope) *Geometry {
	e := env
	return &Geometry{esriType: esri.GeometryEnvelope, env: &e, sr: env.SR}
}

func partsHaveZ(parts [][]Coordinate) bool {
	for _, p := range parts {
		for _, c := range p {
			return len(c) > 2
		}
	}
	return false
}

// New classifies a raw document into a Geometry. Accepted shapes, checked
// structurally in order: native geometries (rings, curveRings, paths,
// curvePaths, points, x+y, the four extent keys), GeoJSON geometries (a
// known "type" member), a feature (geometry member) and a feature set
// (features array, first geometry wins). Curve variants are accepted but
// curve segments themselves are not densified.
func New(doc map[string]any) (*Geometry, error) {
	if doc == nil {
		return nil, fmt.Errorf("geometry: nil document")
	}
	sr := decodeSR(doc[esri.KeySpatialRef])

	// feature set and feature shapes unwrap their geometry
	if feats, ok := doc[esri.KeyFeatures].([]any); ok {
		if len(feats) == 0 {
			return nil, fmt.Errorf("geometry: feature set has no features")
		}
		first, ok := feats[0].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("geometry: malformed feature set")
		}
		if inner, ok := first[esri.KeyGeometry].(map[string]any); ok {
			return classifyWithSR(inner, sr)
		}
		return classifyWithSR(first, sr)
	}
	if inner, ok := doc[esri.KeyGeometry].(map[string]any); ok {
		return classifyWithSR(inner, sr)
	}

	return classifyWithSR(doc, sr)
}

// NewFromJSON decodes raw JSON and classifies it.
func NewFromJSON(raw []byte) (*Geometry, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("geometry: decode: %w", err)
	}
	return New(doc)
}

func classifyWithSR(doc map[string]any, outer esri.SpatialReference) (*Geometry, error) {
	g, err := classify(doc)
	if err != nil {
		return nil, err
	}
	if g.sr.IsZero() {
		g.sr = outer
	}
	return g, nil
}

func classify(doc map[string]any) (*Geometry, error) {
	sr := decodeSR(doc[esri.KeySpatialRef])

	for _, key := range []string{esri.KeyRings, esri.KeyCurveRings} {
		if raw, ok := doc[key]; ok {
			parts, err := decodeParts(raw)
			if err != nil {
				return nil, fmt.Errorf("geometry: %s: %w", key, err)
			}
			return &Geometry{esriType: esri.GeometryPolygon, parts: parts, sr: sr, hasZ: hasZFlag(doc, parts)}, nil
		}
	}
	for _, key := range []string{esri.KeyPaths, esri.KeyCurvePaths} {
		if raw, ok := doc[key]; ok {
			parts, err := decodeParts(raw)
			if err != nil {
				return nil, fmt.Errorf("geometry: %s: %w", key, err)
			}
			return &Geometry{esriType: esri.GeometryPolyline, parts: parts, sr: sr, hasZ: hasZFlag(doc, parts)}, nil
		}
	}
	if raw, ok := doc[esri.KeyPoints]; ok {
		pts, err := decodeLine(raw)
		if err != nil {
			return nil, fmt.Errorf("geometry: points: %w", err)
		}
		return &Geometry{esriType: esri.GeometryMultipoint, points: pts, sr: sr, hasZ: hasZFlag(doc, [][]Coordinate{pts})}, nil
	}
	if x, okx := toFloat(doc[esri.KeyX]); okx {
		if y, oky := toFloat(doc[esri.KeyY]); oky {
			pt := Coordinate{x, y}
			hasZ := false
			if z, okz := toFloat(doc["z"]); okz {
				pt = append(pt, z)
				hasZ = true
			}
			return &Geometry{esriType: esri.GeometryPoint, point: pt, sr: sr, hasZ: hasZ}, nil
		}
	}
	if env, ok := decodeEnvelope(doc, sr); ok {
		return &Geometry{esriType: esri.GeometryEnvelope, env: env, sr: sr}, nil
	}
	if t, ok := doc["type"].(string); ok {
		return fromGeoJSONDoc(t, doc, sr)
	}
	return nil, fmt.Errorf("geometry: unrecognized document")
}

func hasZFlag(doc map[string]any, parts [][]Coordinate) bool {
	if v, ok := doc["hasZ"].(bool); ok {
		return v
	}
	return partsHaveZ(parts)
}

// Accessors.

// Type returns the esri geometry type tag.
func (g *Geometry) Type() string { return g.esriType }

func (g *Geometry) SpatialReference() esri.SpatialReference { return g.sr }

func (g *Geometry) SetSpatialReference(sr esri.SpatialReference) { g.sr = sr }

func (g *Geometry) HasZ() bool { return g.hasZ }
func (g *Geometry) HasM() bool { return g.hasM }

// Point returns the coordinate of a point geometry.
func (g *Geometry) Point() Coordinate { return g.point }

// Points returns the vertices of a multipoint geometry.
func (g *Geometry) Points() []Coordinate { return g.points }

// Paths returns the parts of a polyline geometry.
func (g *Geometry) Paths() [][]Coordinate {
	if g.esriType != esri.GeometryPolyline {
		return nil
	}
	return g.parts
}

// Rings returns the parts of a polygon geometry.
func (g *Geometry) Rings() [][]Coordinate {
	if g.esriType != esri.GeometryPolygon {
		return nil
	}
	return g.parts
}

// Envelope derives the bounding envelope. For a point the envelope is
// degenerate.
func (g *Geometry) Envelope() Envelope {
	switch g.esriType {
	case esri.GeometryEnvelope:
		return *g.env
	case esri.GeometryPoint:
		return Envelope{XMin: g.point.X(), YMin: g.point.Y(), XMax: g.point.X(), YMax: g.point.Y(), SR: g.sr}
	case esri.GeometryMultipoint:
		return boundsOf([][]Coordinate{g.points}, g.sr)
	default:
		return boundsOf(g.parts, g.sr)
	}
}

func boundsOf(parts [][]Coordinate, sr esri.SpatialReference) Envelope {
	env := Envelope{SR: sr}
	first := true
	for _, part := range parts {
		for _, c := range part {
			if first {
				env.XMin, env.XMax = c.X(), c.X()
				env.YMin, env.YMax = c.Y(), c.Y()
				first = false
				continue
			}
			env.XMin = min(env.XMin, c.X())
			env.XMax = max(env.XMax, c.X())
			env.YMin = min(env.YMin, c.Y())
			env.YMax = max(env.YMax, c.Y())
		}
	}
	return env
}

// EnvelopeString renders the envelope as the comma-separated form accepted
// by geometry query parameters.
func (g *Geometry) EnvelopeString() string {
	e := g.Envelope()
	return strings.Join([]string{
		formatFloat(e.XMin), formatFloat(e.YMin),
		formatFloat(e.XMax), formatFloat(e.YMax),
	}, ",")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ToNative renders the geometry as its wire document.
func (g *Geometry) ToNative() map[string]any {
	doc := map[string]any{}
	switch g.esriType {
	case esri.GeometryPoint:
		doc[esri.KeyX] = g.point.X()
		doc[esri.KeyY] = g.point.Y()
		if z, ok := g.point.Z(); ok {
			doc["z"] = z
		}
	case esri.GeometryMultipoint:
		doc[esri.KeyPoints] = g.points
		doc["hasZ"] = g.hasZ
		doc["hasM"] = g.hasM
	case esri.GeometryPolyline:
		doc[esri.KeyPaths] = g.parts
		doc["hasZ"] = g.hasZ
		doc["hasM"] = g.hasM
	case esri.GeometryPolygon:
		doc[esri.KeyRings] = g.parts
		doc["hasZ"] = g.hasZ
		doc["hasM"] = g.hasM
	case esri.GeometryEnvelope:
		doc[esri.KeyXMin] = g.env.XMin
		doc[esri.KeyYMin] = g.env.YMin
		doc[esri.KeyXMax] = g.env.XMax
		doc[esri.KeyYMax] = g.env.YMax
	}
	if !g.sr.IsZero() {
		doc[esri.KeySpatialRef] = g.sr
	}
	return doc
}

// MarshalJSON renders the wire document.
func (g *Geometry) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.ToNative())
}

// decode helpers for loosely typed documents

func decodeSR(v any) esri.SpatialReference {
	doc, ok := v.(map[string]any)
	if !ok {
		return esri.SpatialReference{}
	}
	var sr esri.SpatialReference
	if n, ok := toFloat(doc[esri.KeyWKID]); ok {
		sr.WKID = int(n)
	}
	if n, ok := toFloat(doc[esri.KeyLatestWKID]); ok {
		sr.LatestWKID = int(n)
	}
	if s, ok := doc[esri.KeyWKT].(string); ok {
		sr.WKT = s
	}
	return sr
}

func decodeEnvelope(doc map[string]any, sr esri.SpatialReference) (*Envelope, bool) {
	xmin, ok1 := toFloat(doc[esri.KeyXMin])
	ymin, ok2 := toFloat(doc[esri.KeyYMin])
	xmax, ok3 := toFloat(doc[esri.KeyXMax])
	ymax, ok4 := toFloat(doc[esri.KeyYMax])
	if !(ok1 && ok2 && ok3 && ok4) {
		return nil, false
	}
	return &Envelope{XMin: xmin, YMin: ymin, XMax: xmax, YMax: ymax, SR: sr}, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func decodeCoordinate(v any) (Coordinate, error) {
	switch raw := v.(type) {
	case []any:
		c := make(Coordinate, 0, len(raw))
		for _, e := range raw {
			f, ok := toFloat(e)
			if !ok {
				return nil, fmt.Errorf("non-numeric ordinate %v", e)
			}
			c = append(c, f)
		}
		if len(c) < 2 {
			return nil, fmt.Errorf("coordinate has %d ordinates", len(c))
		}
		return c, nil
	case Coordinate:
		return raw, nil
	case []float64:
		return Coordinate(raw), nil
	}
	return nil, fmt.Errorf("not a coordinate: %v", v)
}

func decodeLine(v any) ([]Coordinate, error) {
	switch raw := v.(type) {
	case []any:
		line := make([]Coordinate, 0, len(raw))
		for _, e := range raw {
			c, err := decodeCoordinate(e)
			if err != nil {
				return nil, err
			}
			line = append(line, c)
		}
		return line, nil
	case []Coordinate:
		return raw, nil
	}
	return nil, fmt.Errorf("not a coordinate array: %v", v)
}

func decodeParts(v any) ([][]Coordinate, error) {
	switch raw := v.(type) {
	case []any:
		parts := make([][]Coordinate, 0, len(raw))
		for _, e := range raw {
			line, err := decodeLine(e)
			if err != nil {
				return nil, err
			}
			parts = append(parts, line)
		}
		return parts, nil
	case [][]Coordinate:
		return raw, nil
	}
	return nil, fmt.Errorf("not a part array: %v", v)
}
