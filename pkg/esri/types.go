package esri

import (
	"fmt"
	"strings"
	"time"
)

// SpatialReference identifies a coordinate system. Well-known ids are
// preferred; WKT only appears when the server has no id for the system.
type SpatialReference struct {
	WKID       int    `json:"wkid,omitempty"`
	LatestWKID int    `json:"latestWkid,omitempty"`
	WKT        string `json:"wkt,omitempty"`
}

// Code resolves the spatial reference to a single well-known id, preferring
// the current id over the legacy one.
func (sr SpatialReference) Code() int {
	if sr.LatestWKID != 0 {
		return sr.LatestWKID
	}
	return sr.WKID
}

func (sr SpatialReference) IsZero() bool {
	return sr.WKID == 0 && sr.LatestWKID == 0 && sr.WKT == ""
}

// Field describes one attribute column of a layer or feature set.
type Field struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Alias    string `json:"alias,omitempty"`
	Length   int    `json:"length,omitempty"`
	Domain   any    `json:"domain,omitempty"`
	Nullable bool   `json:"nullable,omitempty"`
	Editable bool   `json:"editable,omitempty"`
}

// Feature pairs an attribute map with an optional raw geometry document.
// Geometry stays untyped here; pkg/geometry classifies it structurally.
type Feature struct {
	Attributes map[string]any `json:"attributes"`
	Geometry   map[string]any `json:"geometry,omitempty"`
}

// Get returns an attribute value and whether it was present.
func (f Feature) Get(name string) (any, bool) {
	v, ok := f.Attributes[name]
	return v, ok
}

// OID extracts the object id attribute under the given field name. JSON
// numbers decode as float64; integral values are narrowed.
func (f Feature) OID(field string) (int64, bool) {
	v, ok := f.Attributes[field]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}

// FeatureSet is the query result document: schema plus rows.
type FeatureSet struct {
	DisplayFieldName      string            `json:"displayFieldName,omitempty"`
	FieldAliases          map[string]string `json:"fieldAliases,omitempty"`
	GeometryType          string            `json:"geometryType,omitempty"`
	SpatialReference      SpatialReference  `json:"spatialReference,omitempty"`
	HasZ                  bool              `json:"hasZ,omitempty"`
	HasM                  bool              `json:"hasM,omitempty"`
	Fields                []Field           `json:"fields,omitempty"`
	Features              []Feature         `json:"features"`
	ExceededTransferLimit bool              `json:"exceededTransferLimit,omitempty"`
}

// Count returns the number of rows.
func (fs *FeatureSet) Count() int {
	return len(fs.Features)
}

func (fs *FeatureSet) fieldOfType(t string) *Field {
	for i := range fs.Fields {
		if fs.Fields[i].Type == t {
			return &fs.Fields[i]
		}
	}
	return nil
}

// OIDField returns the object id field, if the schema declares one.
func (fs *FeatureSet) OIDField() *Field {
	return fs.fieldOfType(FieldTypeOID)
}

// GlobalIDField returns the global id field, if the schema declares one.
func (fs *FeatureSet) GlobalIDField() *Field {
	return fs.fieldOfType(FieldTypeGlobalID)
}

// ShapeField returns the geometry field, if the schema declares one.
func (fs *FeatureSet) ShapeField() *Field {
	return fs.fieldOfType(FieldTypeGeometry)
}

// Field looks a field up by name, case-insensitively matching the wire
// behavior of the platform.
func (fs *FeatureSet) Field(name string) *Field {
	for i := range fs.Fields {
		if strings.EqualFold(fs.Fields[i].Name, name) {
			return &fs.Fields[i]
		}
	}
	return nil
}

// Validate enforces the schema invariants: at most one object id field, one
// geometry field and one global id field.
func (fs *FeatureSet) Validate() error {
	counts := map[string]int{}
	for _, f := range fs.Fields {
		switch f.Type {
		case FieldTypeOID, FieldTypeGeometry, FieldTypeGlobalID:
			counts[f.Type]++
			if counts[f.Type] > 1 {
				return fmt.Errorf("feature set declares more than one %s field", f.Type)
			}
		}
	}
	return nil
}

// MillisToTime converts a wire date (milliseconds since the Unix epoch, UTC)
// to a time.Time.
func MillisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// TimeToMillis converts a time.Time to the wire date representation.
func TimeToMillis(t time.Time) int64 {
	return t.UnixMilli()
}
