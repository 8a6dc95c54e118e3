package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/geodrift/arcrest/pkg/esri"
	"github.com/geodrift/arcrest/pkg/geometry"
	"github.com/geodrift/arcrest/pkg/request"
)

// DefaultGeometryServiceURL is the public geometry service used when no URL
// is supplied.
const DefaultGeometryServiceURL = "https://utility.arcgisonline.com/ArcGIS/rest/services/Geometry/GeometryServer"

// linearUnits maps unit names to their well-known ids.
var linearUnits = map[string]int{
	"meter":          9001,
	"foot":           9002,
	"kilometer":      9036,
	"mile":           9093,
	"nauticalMile":   9030,
	"usNauticalMile": 9012,
}

// LinearUnitWKID resolves a unit name to its well-known id. Numeric input
// passes through unchanged.
func LinearUnitWKID(unit string) (int, bool) {
	if n, err := strconv.Atoi(unit); err == nil {
		return n, true
	}
	for name, wkid := range linearUnits {
		if strings.EqualFold(name, unit) {
			return wkid, true
		}
	}
	return 0, false
}

// GeometryService is a client for the remote geometry operations endpoint.
type GeometryService struct {
	base
}

// NewGeometryService opens a geometry service; an empty URL selects the
// public default.
func NewGeometryService(ctx context.Context, rawURL string, opts ...Option) (*GeometryService, error) {
	if rawURL == "" {
		rawURL = DefaultGeometryServiceURL
	}
	b, err := newBase(rawURL, opts...)
	if err != nil {
		return nil, err
	}
	s := &GeometryService{base: b}
	var doc struct {
		CurrentVersion float64 `json:"currentVersion"`
	}
	if err := s.post(ctx, s.url, nil, &doc); err != nil {
		return nil, err
	}
	s.version = doc.CurrentVersion
	return s, nil
}

// geometriesDoc is the multi-geometry response shape shared by most
// operations.
type geometriesDoc struct {
	GeometryType string           `json:"geometryType"`
	Geometries   []map[string]any `json:"geometries"`
}

func (s *GeometryService) collectionOp(ctx context.Context, op string, params request.Params, outSR int) (*geometry.GeometryCollection, error) {
	var doc geometriesDoc
	if err := s.post(ctx, s.url+"/"+op, params, &doc); err != nil {
		return nil, err
	}
	return decodeGeometries(&doc, outSR)
}

func decodeGeometries(doc *geometriesDoc, outSR int) (*geometry.GeometryCollection, error) {
	if len(doc.Geometries) == 0 {
		return nil, fmt.Errorf("service: geometry operation returned no geometries")
	}
	sr := esri.SpatialReference{WKID: outSR}
	gs := make([]*geometry.Geometry, len(doc.Geometries))
	for i, raw := range doc.Geometries {
		g, err := geometry.New(raw)
		if err != nil {
			return nil, fmt.Errorf("service: decode geometry %d: %w", i, err)
		}
		if g.SpatialReference().IsZero() && outSR != 0 {
			g.SetSpatialReference(sr)
		}
		gs[i] = g
	}
	return geometry.NewCollection(gs, false)
}

func (s *GeometryService) geometryOp(ctx context.Context, op string, params request.Params, outSR int) (*geometry.Geometry, error) {
	var doc struct {
		GeometryType string         `json:"geometryType"`
		Geometry     map[string]any `json:"geometry"`
	}
	if err := s.post(ctx, s.url+"/"+op, params, &doc); err != nil {
		return nil, err
	}
	if doc.Geometry == nil {
		return nil, fmt.Errorf("service: %s returned no geometry", op)
	}
	g, err := geometry.New(doc.Geometry)
	if err != nil {
		return nil, fmt.Errorf("service: decode %s result: %w", op, err)
	}
	if g.SpatialReference().IsZero() && outSR != 0 {
		g.SetSpatialReference(esri.SpatialReference{WKID: outSR})
	}
	return g, nil
}

// Project reprojects the collection from inSR to outSR, optionally through
// a named or well-known-id datum transformation.
func (s *GeometryService) Project(ctx context.Context, gc *geometry.GeometryCollection, inSR, outSR int, transformation string, transformForward bool) (*geometry.GeometryCollection, error) {
	params := request.Params{
		"geometries": gc,
		"inSR":       inSR,
		"outSR":      outSR,
	}
	if transformation != "" {
		params["transformation"] = transformation
		params["transformForward"] = transformForward
	}
	return s.collectionOp(ctx, "project", params, outSR)
}

// BufferOptions tune a buffer call beyond the required inputs.
type BufferOptions struct {
	Unit         string // linear unit name or WKID digits; empty uses the SR unit
	OutSR        int
	BufferSR     int
	UnionResults bool
	Geodesic     bool
}

// Buffer rings each input geometry at the given distances.
func (s *GeometryService) Buffer(ctx context.Context, gc *geometry.GeometryCollection, inSR int, distances []float64, opts BufferOptions) (*geometry.GeometryCollection, error) {
	if len(distances) == 0 {
		return nil, fmt.Errorf("service: buffer needs at least one distance")
	}
	ds := make([]string, len(distances))
	for i, d := range distances {
		ds[i] = strconv.FormatFloat(d, 'f', -1, 64)
	}
	params := request.Params{
		"geometries":   gc,
		"inSR":         inSR,
		"distances":    strings.Join(ds, ","),
		"unionResults": opts.UnionResults,
		"geodesic":     opts.Geodesic,
	}
	if opts.Unit != "" {
		wkid, ok := LinearUnitWKID(opts.Unit)
		if !ok {
			return nil, fmt.Errorf("service: unknown linear unit %q", opts.Unit)
		}
		params["unit"] = wkid
	}
	if opts.OutSR != 0 {
		params["outSR"] = opts.OutSR
	}
	if opts.BufferSR != 0 {
		params["bufferSR"] = opts.BufferSR
	}
	outSR := opts.OutSR
	if outSR == 0 {
		outSR = inSR
	}
	return s.collectionOp(ctx, "buffer", params, outSR)
}

// Simplify makes each geometry topologically consistent.
func (s *GeometryService) Simplify(ctx context.Context, gc *geometry.GeometryCollection, sr int) (*geometry.GeometryCollection, error) {
	return s.collectionOp(ctx, "simplify", request.Params{"geometries": gc, "sr": sr}, sr)
}

// Lengths measures each polyline; the unit defaults to the spatial
// reference's.
func (s *GeometryService) Lengths(ctx context.Context, gc *geometry.GeometryCollection, sr int, lengthUnit string, geodesic bool) ([]float64, error) {
	params := request.Params{"polylines": gc, "sr": sr}
	if lengthUnit != "" {
		wkid, ok := LinearUnitWKID(lengthUnit)
		if !ok {
			return nil, fmt.Errorf("service: unknown linear unit %q", lengthUnit)
		}
		params["lengthUnit"] = wkid
	}
	if geodesic {
		params["calculationType"] = "geodesic"
	}
	var resp struct {
		Lengths []float64 `json:"lengths"`
	}
	if err := s.post(ctx, s.url+"/lengths", params, &resp); err != nil {
		return nil, err
	}
	return resp.Lengths, nil
}

// AreasAndLengths carries the paired area and perimeter measures of a
// polygon collection.
type AreasAndLengths struct {
	Areas   []float64 `json:"areas"`
	Lengths []float64 `json:"lengths"`
}

func (s *GeometryService) AreasAndLengths(ctx context.Context, gc *geometry.GeometryCollection, sr int, areaUnit, lengthUnit string) (*AreasAndLengths, error) {
	params := request.Params{"polygons": gc, "sr": sr}
	if areaUnit != "" {
		params["areaUnit"] = areaUnit
	}
	if lengthUnit != "" {
		if wkid, ok := LinearUnitWKID(lengthUnit); ok {
			params["lengthUnit"] = wkid
		}
	}
	var resp AreasAndLengths
	if err := s.post(ctx, s.url+"/areasAndLengths", params, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RelationPair indexes one satisfied spatial relation between the two
// input collections.
type RelationPair struct {
	Geometry1Index int `json:"geometry1Index"`
	Geometry2Index int `json:"geometry2Index"`
}

// Relation tests each pair across the two collections for the named
// spatial relation (e.g. esriGeometryRelationIntersection).
func (s *GeometryService) Relation(ctx context.Context, a, b *geometry.GeometryCollection, sr int, relation string) ([]RelationPair, error) {
	var resp struct {
		Relations []RelationPair `json:"relations"`
	}
	err := s.post(ctx, s.url+"/relation", request.Params{
		"geometries1": a,
		"geometries2": b,
		"sr":          sr,
		"relation":    relation,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Relations, nil
}

// Union dissolves the collection into a single geometry.
func (s *GeometryService) Union(ctx context.Context, gc *geometry.GeometryCollection, sr int) (*geometry.Geometry, error) {
	return s.geometryOp(ctx, "union", request.Params{"geometries": gc, "sr": sr}, sr)
}

// Difference subtracts the second geometry from each member of the
// collection.
func (s *GeometryService) Difference(ctx context.Context, gc *geometry.GeometryCollection, from *geometry.Geometry, sr int) (*geometry.GeometryCollection, error) {
	return s.collectionOp(ctx, "difference", request.Params{
		"geometries": gc,
		"geometry":   geometryDoc(from),
		"sr":         sr,
	}, sr)
}

// Intersect intersects each member of the collection with the second
// geometry.
func (s *GeometryService) Intersect(ctx context.Context, gc *geometry.GeometryCollection, with *geometry.Geometry, sr int) (*geometry.GeometryCollection, error) {
	return s.collectionOp(ctx, "intersect", request.Params{
		"geometries": gc,
		"geometry":   geometryDoc(with),
		"sr":         sr,
	}, sr)
}

// TrimExtend trims or extends each polyline to the trim line.
func (s *GeometryService) TrimExtend(ctx context.Context, polylines *geometry.GeometryCollection, trimExtendTo *geometry.Geometry, sr, extendHow int) (*geometry.GeometryCollection, error) {
	return s.collectionOp(ctx, "trimExtend", request.Params{
		"polylines":    polylines,
		"trimExtendTo": trimExtendTo,
		"sr":           sr,
		"extendHow":    extendHow,
	}, sr)
}

// Densify adds vertices so no segment exceeds maxSegmentLength.
func (s *GeometryService) Densify(ctx context.Context, gc *geometry.GeometryCollection, sr int, maxSegmentLength float64, geodesic bool) (*geometry.GeometryCollection, error) {
	return s.collectionOp(ctx, "densify", request.Params{
		"geometries":       gc,
		"sr":               sr,
		"maxSegmentLength": maxSegmentLength,
		"geodesic":         geodesic,
	}, sr)
}

// Generalize simplifies each geometry within the deviation tolerance.
func (s *GeometryService) Generalize(ctx context.Context, gc *geometry.GeometryCollection, sr int, maxDeviation float64, deviationUnit string) (*geometry.GeometryCollection, error) {
	params := request.Params{
		"geometries":   gc,
		"sr":           sr,
		"maxDeviation": maxDeviation,
	}
	if deviationUnit != "" {
		if wkid, ok := LinearUnitWKID(deviationUnit); ok {
			params["deviationUnit"] = wkid
		}
	}
	return s.collectionOp(ctx, "generalize", params, sr)
}

// AutoComplete fills polygon gaps against the polyline boundaries.
func (s *GeometryService) AutoComplete(ctx context.Context, polygons, polylines *geometry.GeometryCollection, sr int) (*geometry.GeometryCollection, error) {
	return s.collectionOp(ctx, "autoComplete", request.Params{
		"polygons":  polygons,
		"polylines": polylines,
		"sr":        sr,
	}, sr)
}

// ConvexHull returns the hull of the whole collection as one geometry.
func (s *GeometryService) ConvexHull(ctx context.Context, gc *geometry.GeometryCollection, sr int) (*geometry.Geometry, error) {
	return s.geometryOp(ctx, "convexHull", request.Params{"geometries": gc, "sr": sr}, sr)
}

// Transformation is one datum transformation candidate.
type Transformation struct {
	WKID          int              `json:"wkid,omitempty"`
	LatestWKID    int              `json:"latestWkid,omitempty"`
	Name          string           `json:"name,omitempty"`
	GeoTransforms []Transformation `json:"geoTransforms,omitempty"`
}

// FindTransformations lists applicable datum transformations between two
// spatial references, most applicable first. numOfResults -1 returns all.
func (s *GeometryService) FindTransformations(ctx context.Context, inSR, outSR int, extentOfInterest *geometry.Envelope, numOfResults int) ([]Transformation, error) {
	if numOfResults == 0 {
		numOfResults = 1
	}
	params := request.Params{
		"inSR":         inSR,
		"outSR":        outSR,
		"numOfResults": numOfResults,
	}
	if extentOfInterest != nil {
		params["extentOfInterest"] = extentOfInterest.ToNative()
	}
	var out []Transformation
	if err := s.post(ctx, s.url+"/findTransformations", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func geometryDoc(g *geometry.Geometry) map[string]any {
	doc := map[string]any{
		"geometryType": g.Type(),
		"geometry":     g.ToNative(),
	}
	return doc
}
