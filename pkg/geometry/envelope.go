package geometry

import (
	"strings"

	"github.com/geodrift/arcrest/pkg/esri"
)

// Envelope is an axis-aligned extent.
type Envelope struct {
	XMin, YMin, XMax, YMax float64
	SR                     esri.SpatialReference
}

// String renders the comma-separated form accepted by geometry parameters.
func (e Envelope) String() string {
	return strings.Join([]string{
		formatFloat(e.XMin), formatFloat(e.YMin),
		formatFloat(e.XMax), formatFloat(e.YMax),
	}, ",")
}

// ToNative renders the envelope wire document.
func (e Envelope) ToNative() map[string]any {
	doc := map[string]any{
		esri.KeyXMin: e.XMin,
		esri.KeyYMin: e.YMin,
		esri.KeyXMax: e.XMax,
		esri.KeyYMax: e.YMax,
	}
	if !e.SR.IsZero() {
		doc[esri.KeySpatialRef] = e.SR
	}
	return doc
}

// ToGeoJSON renders the envelope as the closed five-vertex polygon starting
// at the max corner and winding counterclockwise. The conversion is lossy:
// converting the polygon back yields a polygon geometry, not an envelope.
func (e Envelope) ToGeoJSON() *GeoJSON {
	ring := []Coordinate{
		{e.XMax, e.YMax},
		{e.XMin, e.YMax},
		{e.XMin, e.YMin},
		{e.XMax, e.YMin},
		{e.XMax, e.YMax},
	}
	return &GeoJSON{Type: GeoJSONPolygon, Coordinates: [][]Coordinate{ring}}
}

// Contains reports whether the point lies within or on the envelope.
func (e Envelope) Contains(c Coordinate) bool {
	return c.X() >= e.XMin && c.X() <= e.XMax && c.Y() >= e.YMin && c.Y() <= e.YMax
}

// Union expands the envelope to cover another.
func (e Envelope) Union(other Envelope) Envelope {
	return Envelope{
		XMin: min(e.XMin, other.XMin),
		YMin: min(e.YMin, other.YMin),
		XMax: max(e.XMax, other.XMax),
		YMax: max(e.YMax, other.YMax),
		SR:   e.SR,
	}
}
