package geometry

import (
	"encoding/json"
	"fmt"

	"github.com/geodrift/arcrest/pkg/esri"
)

// GeometryCollection is an ordered set of geometries sharing one type tag,
// used as the bulk input of geometry service operations.
type GeometryCollection struct {
	geometries   []*Geometry
	geometryType string
	useEnvelopes bool
}

// NewCollection builds a collection. All geometries must share one type;
// with useEnvelopes the collection presents each geometry's bounding
// envelope instead of the geometry itself.
func NewCollection(geometries []*Geometry, useEnvelopes bool) (*GeometryCollection, error) {
	if len(geometries) == 0 {
		return nil, fmt.Errorf("geometry: empty collection")
	}
	gt := geometries[0].Type()
	for i, g := range geometries[1:] {
		if g.Type() != gt {
			return nil, fmt.Errorf("geometry: collection mixes %s and %s (index %d)", gt, g.Type(), i+1)
		}
	}
	if useEnvelopes {
		gt = esri.GeometryEnvelope
	}
	return &GeometryCollection{geometries: geometries, geometryType: gt, useEnvelopes: useEnvelopes}, nil
}

// CollectionFromFeatureSet extracts the geometries of every feature.
func CollectionFromFeatureSet(fs *esri.FeatureSet) (*GeometryCollection, error) {
	var geoms []*Geometry
	for i, ft := range fs.Features {
		if ft.Geometry == nil {
			continue
		}
		g, err := New(ft.Geometry)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		if g.sr.IsZero() {
			g.sr = fs.SpatialReference
		}
		geoms = append(geoms, g)
	}
	return NewCollection(geoms, false)
}

func (gc *GeometryCollection) Count() int { return len(gc.geometries) }

func (gc *GeometryCollection) Type() string { return gc.geometryType }

// At returns the geometry at index i.
func (gc *GeometryCollection) At(i int) *Geometry { return gc.geometries[i] }

// SpatialReference returns the spatial reference of the first geometry.
func (gc *GeometryCollection) SpatialReference() esri.SpatialReference {
	return gc.geometries[0].SpatialReference()
}

// ToNative renders the geometries wire document.
func (gc *GeometryCollection) ToNative() map[string]any {
	docs := make([]map[string]any, len(gc.geometries))
	for i, g := range gc.geometries {
		if gc.useEnvelopes {
			docs[i] = g.Envelope().ToNative()
		} else {
			docs[i] = g.ToNative()
		}
	}
	return map[string]any{
		esri.KeyGeomType: gc.geometryType,
		"geometries":     docs,
	}
}

func (gc *GeometryCollection) MarshalJSON() ([]byte, error) {
	return json.Marshal(gc.ToNative())
}
