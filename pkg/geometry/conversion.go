package geometry

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/geodrift/arcrest/pkg/esri"
)

// GeoJSON type tags handled by the converter.
const (
	GeoJSONPoint           = "Point"
	GeoJSONMultiPoint      = "MultiPoint"
	GeoJSONLineString      = "LineString"
	GeoJSONMultiLineString = "MultiLineString"
	GeoJSONPolygon         = "Polygon"
	GeoJSONMultiPolygon    = "MultiPolygon"
)

// GeoJSON is a geometry document in RFC 7946 form. Coordinates hold
// Coordinate, []Coordinate, [][]Coordinate or [][][]Coordinate depending on
// Type, so a third ordinate survives conversion in both directions.
type GeoJSON struct {
	Type        string `json:"type"`
	Coordinates any    `json:"coordinates"`
}

// Decode parses a raw GeoJSON geometry document into typed coordinates.
func Decode(raw []byte) (*GeoJSON, error) {
	var doc struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("geojson: decode: %w", err)
	}
	g := &GeoJSON{Type: doc.Type}
	var err error
	switch doc.Type {
	case GeoJSONPoint:
		var c Coordinate
		err = json.Unmarshal(doc.Coordinates, &c)
		g.Coordinates = c
	case GeoJSONMultiPoint, GeoJSONLineString:
		var cs []Coordinate
		err = json.Unmarshal(doc.Coordinates, &cs)
		g.Coordinates = cs
	case GeoJSONMultiLineString, GeoJSONPolygon:
		var cs [][]Coordinate
		err = json.Unmarshal(doc.Coordinates, &cs)
		g.Coordinates = cs
	case GeoJSONMultiPolygon:
		var cs [][][]Coordinate
		err = json.Unmarshal(doc.Coordinates, &cs)
		g.Coordinates = cs
	default:
		return nil, fmt.Errorf("geojson: unsupported type %q", doc.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("geojson: %s coordinates: %w", doc.Type, err)
	}
	return g, nil
}

// ring helpers, operating on XY only; extra ordinates ride along untouched.

// closeRing appends the first vertex when the ring is not closed.
func closeRing(ring []Coordinate) []Coordinate {
	if len(ring) == 0 {
		return ring
	}
	if !ring[0].Equal(ring[len(ring)-1]) {
		ring = append(ring, ring[0].clone())
	}
	return ring
}

func orbRing(ring []Coordinate) orb.Ring {
	out := make(orb.Ring, len(ring))
	for i, c := range ring {
		out[i] = orb.Point{c.X(), c.Y()}
	}
	return out
}

// ringIsClockwise classifies ring winding. A degenerate (zero-area) ring
// counts as clockwise, matching the outer-ring convention of the native
// format.
func ringIsClockwise(ring []Coordinate) bool {
	return orbRing(ring).Orientation() != orb.CCW
}

func reverseRing(ring []Coordinate) []Coordinate {
	out := make([]Coordinate, len(ring))
	for i, c := range ring {
		out[len(ring)-1-i] = c.clone()
	}
	return out
}

func segmentsIntersect(a1, a2, b1, b2 Coordinate) bool {
	uaT := (b2.X()-b1.X())*(a1.Y()-b1.Y()) - (b2.Y()-b1.Y())*(a1.X()-b1.X())
	ubT := (a2.X()-a1.X())*(a1.Y()-b1.Y()) - (a2.Y()-a1.Y())*(a1.X()-b1.X())
	uB := (b2.Y()-b1.Y())*(a2.X()-a1.X()) - (b2.X()-b1.X())*(a2.Y()-a1.Y())
	if uB == 0 {
		return false
	}
	ua := uaT / uB
	ub := ubT / uB
	return ua >= 0 && ua <= 1 && ub >= 0 && ub <= 1
}

func ringsIntersect(a, b []Coordinate) bool {
	for i := 0; i < len(a)-1; i++ {
		for j := 0; j < len(b)-1; j++ {
			if segmentsIntersect(a[i], a[i+1], b[j], b[j+1]) {
				return true
			}
		}
	}
	return false
}

// ringContainsRing holds when the outer ring contains the inner's first
// vertex and their boundaries do not cross.
func ringContainsRing(outer, inner []Coordinate) bool {
	if ringsIntersect(outer, inner) {
		return false
	}
	first := inner[0]
	return planar.RingContains(orbRing(outer), orb.Point{first.X(), first.Y()})
}

// ringsToGeoJSON converts a native ring array to a Polygon or MultiPolygon.
// Clockwise rings open new polygons (reversed to counterclockwise per RFC
// 7946); counterclockwise rings are holes (reversed to clockwise) assigned
// to the polygon that contains them, falling back to boundary intersection,
// and promoted to their own polygon when neither matches. Rings with fewer
// than four vertices after closing are dropped.
func ringsToGeoJSON(rings [][]Coordinate) *GeoJSON {
	var polygons [][][]Coordinate
	var holes [][]Coordinate

	for _, r := range rings {
		ring := closeRing(r)
		if len(ring) < 4 {
			continue
		}
		if ringIsClockwise(ring) {
			polygons = append(polygons, [][]Coordinate{reverseRing(ring)})
		} else {
			holes = append(holes, reverseRing(ring))
		}
	}

	var uncontained [][]Coordinate
	for len(holes) > 0 {
		hole := holes[len(holes)-1]
		holes = holes[:len(holes)-1]

		contained := false
		for x := len(polygons) - 1; x >= 0; x-- {
			if ringContainsRing(polygons[x][0], hole) {
				polygons[x] = append(polygons[x], hole)
				contained = true
				break
			}
		}
		if !contained {
			uncontained = append(uncontained, hole)
		}
	}

	for len(uncontained) > 0 {
		hole := uncontained[len(uncontained)-1]
		uncontained = uncontained[:len(uncontained)-1]

		intersects := false
		for x := len(polygons) - 1; x >= 0; x-- {
			if ringsIntersect(polygons[x][0], hole) {
				polygons[x] = append(polygons[x], hole)
				intersects = true
				break
			}
		}
		if !intersects {
			polygons = append(polygons, [][]Coordinate{reverseRing(hole)})
		}
	}

	if len(polygons) == 1 {
		return &GeoJSON{Type: GeoJSONPolygon, Coordinates: polygons[0]}
	}
	return &GeoJSON{Type: GeoJSONMultiPolygon, Coordinates: polygons}
}

// orientRings converts one GeoJSON polygon to native winding: the outer
// ring clockwise, holes counterclockwise. Short rings are dropped; a short
// outer ring drops the whole polygon.
func orientRings(poly [][]Coordinate) [][]Coordinate {
	if len(poly) == 0 {
		return nil
	}
	var out [][]Coordinate
	outer := closeRing(poly[0])
	if len(outer) < 4 {
		return nil
	}
	if !ringIsClockwise(outer) {
		outer = reverseRing(outer)
	}
	out = append(out, outer)
	for _, p := range poly[1:] {
		hole := closeRing(p)
		if len(hole) < 4 {
			continue
		}
		if ringIsClockwise(hole) {
			hole = reverseRing(hole)
		}
		out = append(out, hole)
	}
	return out
}

// flattenMultiPolygonRings folds a MultiPolygon coordinate array into one
// native ring array, orienting each polygon and emitting its rings in
// reverse order.
func flattenMultiPolygonRings(polys [][][]Coordinate) [][]Coordinate {
	var out [][]Coordinate
	for _, poly := range polys {
		oriented := orientRings(poly)
		for i := len(oriented) - 1; i >= 0; i-- {
			out = append(out, oriented[i])
		}
	}
	return out
}

// ToGeoJSON converts the geometry to its GeoJSON form. Polygons may widen
// to MultiPolygon; an envelope becomes its five-vertex polygon and does not
// round-trip back to an envelope.
func (g *Geometry) ToGeoJSON() (*GeoJSON, error) {
	switch g.esriType {
	case esri.GeometryPoint:
		return &GeoJSON{Type: GeoJSONPoint, Coordinates: g.point.clone()}, nil
	case esri.GeometryMultipoint:
		return &GeoJSON{Type: GeoJSONMultiPoint, Coordinates: cloneLine(g.points)}, nil
	case esri.GeometryPolyline:
		if len(g.parts) == 1 {
			return &GeoJSON{Type: GeoJSONLineString, Coordinates: cloneLine(g.parts[0])}, nil
		}
		if len(g.parts) == 0 {
			return &GeoJSON{Type: GeoJSONLineString, Coordinates: []Coordinate{}}, nil
		}
		return &GeoJSON{Type: GeoJSONMultiLineString, Coordinates: cloneParts(g.parts)}, nil
	case esri.GeometryPolygon:
		return ringsToGeoJSON(cloneParts(g.parts)), nil
	case esri.GeometryEnvelope:
		return g.env.ToGeoJSON(), nil
	}
	return nil, fmt.Errorf("geometry: cannot convert type %q to geojson", g.esriType)
}

// FromGeoJSON converts a GeoJSON document to a native geometry. The spatial
// reference is attached as given; GeoJSON itself carries none.
func FromGeoJSON(doc *GeoJSON, sr esri.SpatialReference) (*Geometry, error) {
	switch doc.Type {
	case GeoJSONPoint:
		c, err := coordOf(doc.Coordinates)
		if err != nil {
			return nil, err
		}
		g := &Geometry{esriType: esri.GeometryPoint, point: c, sr: sr}
		_, g.hasZ = c.Z()
		return g, nil
	case GeoJSONMultiPoint:
		cs, err := lineOf(doc.Coordinates)
		if err != nil {
			return nil, err
		}
		return &Geometry{esriType: esri.GeometryMultipoint, points: cs, sr: sr, hasZ: partsHaveZ([][]Coordinate{cs})}, nil
	case GeoJSONLineString:
		cs, err := lineOf(doc.Coordinates)
		if err != nil {
			return nil, err
		}
		paths := [][]Coordinate{cs}
		return &Geometry{esriType: esri.GeometryPolyline, parts: paths, sr: sr, hasZ: partsHaveZ(paths)}, nil
	case GeoJSONMultiLineString:
		cs, err := partsOf(doc.Coordinates)
		if err != nil {
			return nil, err
		}
		return &Geometry{esriType: esri.GeometryPolyline, parts: cs, sr: sr, hasZ: partsHaveZ(cs)}, nil
	case GeoJSONPolygon:
		cs, err := partsOf(doc.Coordinates)
		if err != nil {
			return nil, err
		}
		rings := orientRings(cs)
		return &Geometry{esriType: esri.GeometryPolygon, parts: rings, sr: sr, hasZ: partsHaveZ(rings)}, nil
	case GeoJSONMultiPolygon:
		cs, err := polysOf(doc.Coordinates)
		if err != nil {
			return nil, err
		}
		rings := flattenMultiPolygonRings(cs)
		return &Geometry{esriType: esri.GeometryPolygon, parts: rings, sr: sr, hasZ: partsHaveZ(rings)}, nil
	}
	return nil, fmt.Errorf("geometry: unsupported geojson type %q", doc.Type)
}

// fromGeoJSONDoc handles a loosely typed GeoJSON document met during
// classification.
func fromGeoJSONDoc(typ string, doc map[string]any, sr esri.SpatialReference) (*Geometry, error) {
	g := &GeoJSON{Type: typ}
	raw := doc["coordinates"]
	var err error
	switch typ {
	case GeoJSONPoint:
		g.Coordinates, err = decodeCoordinate(raw)
	case GeoJSONMultiPoint, GeoJSONLineString:
		g.Coordinates, err = decodeLine(raw)
	case GeoJSONMultiLineString, GeoJSONPolygon:
		g.Coordinates, err = decodeParts(raw)
	case GeoJSONMultiPolygon:
		g.Coordinates, err = decodePolys(raw)
	default:
		return nil, fmt.Errorf("geometry: unrecognized document type %q", typ)
	}
	if err != nil {
		return nil, fmt.Errorf("geometry: %s: %w", typ, err)
	}
	return FromGeoJSON(g, sr)
}

func decodePolys(v any) ([][][]Coordinate, error) {
	switch raw := v.(type) {
	case []any:
		polys := make([][][]Coordinate, 0, len(raw))
		for _, e := range raw {
			p, err := decodeParts(e)
			if err != nil {
				return nil, err
			}
			polys = append(polys, p)
		}
		return polys, nil
	case [][][]Coordinate:
		return raw, nil
	}
	return nil, fmt.Errorf("not a polygon array: %v", v)
}

func coordOf(v any) (Coordinate, error) {
	if c, ok := v.(Coordinate); ok {
		return c, nil
	}
	return decodeCoordinate(v)
}

func lineOf(v any) ([]Coordinate, error) {
	if cs, ok := v.([]Coordinate); ok {
		return cs, nil
	}
	return decodeLine(v)
}

func partsOf(v any) ([][]Coordinate, error) {
	if cs, ok := v.([][]Coordinate); ok {
		return cs, nil
	}
	return decodeParts(v)
}

func polysOf(v any) ([][][]Coordinate, error) {
	if cs, ok := v.([][][]Coordinate); ok {
		return cs, nil
	}
	return decodePolys(v)
}

func cloneLine(line []Coordinate) []Coordinate {
	out := make([]Coordinate, len(line))
	for i, c := range line {
		out[i] = c.clone()
	}
	return out
}

func cloneParts(parts [][]Coordinate) [][]Coordinate {
	out := make([][]Coordinate, len(parts))
	for i, p := range parts {
		out[i] = cloneLine(p)
	}
	return out
}
