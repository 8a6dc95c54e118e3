package geometry

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/geodrift/arcrest/pkg/esri"
)

// ToOrb converts the geometry to an orb value for computational use.
// orb geometries are two-dimensional; Z and M are dropped here, which is
// why the wire conversions go through GeoJSON documents instead.
func (g *Geometry) ToOrb() (orb.Geometry, error) {
	doc, err := g.ToGeoJSON()
	if err != nil {
		return nil, err
	}
	switch doc.Type {
	case GeoJSONPoint:
		c := doc.Coordinates.(Coordinate)
		return orb.Point{c.X(), c.Y()}, nil
	case GeoJSONMultiPoint:
		cs := doc.Coordinates.([]Coordinate)
		mp := make(orb.MultiPoint, len(cs))
		for i, c := range cs {
			mp[i] = orb.Point{c.X(), c.Y()}
		}
		return mp, nil
	case GeoJSONLineString:
		cs := doc.Coordinates.([]Coordinate)
		ls := make(orb.LineString, len(cs))
		for i, c := range cs {
			ls[i] = orb.Point{c.X(), c.Y()}
		}
		return ls, nil
	case GeoJSONMultiLineString:
		parts := doc.Coordinates.([][]Coordinate)
		mls := make(orb.MultiLineString, len(parts))
		for i, p := range parts {
			ls := make(orb.LineString, len(p))
			for j, c := range p {
				ls[j] = orb.Point{c.X(), c.Y()}
			}
			mls[i] = ls
		}
		return mls, nil
	case GeoJSONPolygon:
		return orbPolygon(doc.Coordinates.([][]Coordinate)), nil
	case GeoJSONMultiPolygon:
		polys := doc.Coordinates.([][][]Coordinate)
		mp := make(orb.MultiPolygon, len(polys))
		for i, p := range polys {
			mp[i] = orbPolygon(p)
		}
		return mp, nil
	}
	return nil, fmt.Errorf("geometry: no orb mapping for %q", doc.Type)
}

func orbPolygon(rings [][]Coordinate) orb.Polygon {
	poly := make(orb.Polygon, len(rings))
	for i, r := range rings {
		poly[i] = orbRing(r)
	}
	return poly
}

// FromOrb converts an orb geometry to a native geometry.
func FromOrb(og orb.Geometry, sr esri.SpatialReference) (*Geometry, error) {
	switch v := og.(type) {
	case orb.Point:
		return NewPoint(v[0], v[1], sr), nil
	case orb.MultiPoint:
		return NewMultipoint(coordsFromPoints(v), sr), nil
	case orb.LineString:
		return NewPolyline([][]Coordinate{coordsFromPoints(orb.MultiPoint(v))}, sr), nil
	case orb.MultiLineString:
		paths := make([][]Coordinate, len(v))
		for i, ls := range v {
			paths[i] = coordsFromPoints(orb.MultiPoint(ls))
		}
		return NewPolyline(paths, sr), nil
	case orb.Polygon:
		doc := &GeoJSON{Type: GeoJSONPolygon, Coordinates: partsFromPolygon(v)}
		return FromGeoJSON(doc, sr)
	case orb.MultiPolygon:
		polys := make([][][]Coordinate, len(v))
		for i, p := range v {
			polys[i] = partsFromPolygon(p)
		}
		return FromGeoJSON(&GeoJSON{Type: GeoJSONMultiPolygon, Coordinates: polys}, sr)
	case orb.Ring:
		return FromOrb(orb.Polygon{v}, sr)
	case orb.Bound:
		return NewEnvelopeGeometry(Envelope{
			XMin: v.Min[0], YMin: v.Min[1], XMax: v.Max[0], YMax: v.Max[1], SR: sr,
		}), nil
	}
	return nil, fmt.Errorf("geometry: unsupported orb type %T", og)
}

func coordsFromPoints(pts orb.MultiPoint) []Coordinate {
	out := make([]Coordinate, len(pts))
	for i, p := range pts {
		out[i] = Coordinate{p[0], p[1]}
	}
	return out
}

func partsFromPolygon(p orb.Polygon) [][]Coordinate {
	out := make([][]Coordinate, len(p))
	for i, r := range p {
		out[i] = coordsFromPoints(orb.MultiPoint(r))
	}
	return out
}

// FeatureSetToCollection exports a feature set as a GeoJSON feature
// collection. Geometries lose Z here; the collection is for interchange
// with 2D consumers.
func FeatureSetToCollection(fs *esri.FeatureSet) (*geojson.FeatureCollection, error) {
	fc := geojson.NewFeatureCollection()
	oidField := ""
	if f := fs.OIDField(); f != nil {
		oidField = f.Name
	}
	for i, ft := range fs.Features {
		var og orb.Geometry
		if ft.Geometry != nil {
			g, err := New(ft.Geometry)
			if err != nil {
				return nil, fmt.Errorf("feature %d: %w", i, err)
			}
			if g.sr.IsZero() {
				g.sr = fs.SpatialReference
			}
			og, err = g.ToOrb()
			if err != nil {
				return nil, fmt.Errorf("feature %d: %w", i, err)
			}
		}
		feat := geojson.NewFeature(og)
		feat.Properties = geojson.Properties(ft.Attributes)
		if oidField != "" {
			if oid, ok := ft.OID(oidField); ok {
				feat.ID = oid
			}
		}
		fc.Append(feat)
	}
	return fc, nil
}

// CollectionToFeatureSet imports a GeoJSON feature collection as a feature
// set with the given schema and spatial reference.
func CollectionToFeatureSet(fc *geojson.FeatureCollection, fields []esri.Field, sr esri.SpatialReference) (*esri.FeatureSet, error) {
	fs := &esri.FeatureSet{Fields: fields, SpatialReference: sr, Features: []esri.Feature{}}
	for i, feat := range fc.Features {
		f := esri.Feature{Attributes: map[string]any(feat.Properties)}
		if feat.Geometry != nil {
			g, err := FromOrb(feat.Geometry, sr)
			if err != nil {
				return nil, fmt.Errorf("feature %d: %w", i, err)
			}
			f.Geometry = g.ToNative()
			fs.GeometryType = g.Type()
		}
		fs.Features = append(fs.Features, f)
	}
	return fs, nil
}
