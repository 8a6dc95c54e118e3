// Package esri holds the wire vocabulary shared by every client component:
// field and geometry type tags, query parameter names, the typed documents
// returned by service endpoints, and the REST error envelope.
package esri

// Field type tags.
const (
	FieldTypeOID          = "esriFieldTypeOID"
	FieldTypeGeometry     = "esriFieldTypeGeometry"
	FieldTypeGlobalID     = "esriFieldTypeGlobalID"
	FieldTypeDate         = "esriFieldTypeDate"
	FieldTypeString       = "esriFieldTypeString"
	FieldTypeSingle       = "esriFieldTypeSingle"
	FieldTypeDouble       = "esriFieldTypeDouble"
	FieldTypeSmallInteger = "esriFieldTypeSmallInteger"
	FieldTypeInteger      = "esriFieldTypeInteger"
	FieldTypeGUID         = "esriFieldTypeGUID"
	FieldTypeRaster       = "esriFieldTypeRaster"
	FieldTypeBlob         = "esriFieldTypeBlob"
)

// Geometry type tags.
const (
	GeometryPolygon    = "esriGeometryPolygon"
	GeometryPolyline   = "esriGeometryPolyline"
	GeometryPoint      = "esriGeometryPoint"
	GeometryMultipoint = "esriGeometryMultipoint"
	GeometryEnvelope   = "esriGeometryEnvelope"
)

// Coordinate container keys on native geometry payloads.
const (
	KeyRings      = "rings"
	KeyCurveRings = "curveRings"
	KeyPaths      = "paths"
	KeyCurvePaths = "curvePaths"
	KeyPoints     = "points"
	KeyX          = "x"
	KeyY          = "y"
	KeyXMin       = "xmin"
	KeyYMin       = "ymin"
	KeyXMax       = "xmax"
	KeyYMax       = "ymax"
	KeySpatialRef = "spatialReference"
	KeyGeometry   = "geometry"
	KeyFeatures   = "features"
	KeyAttributes = "attributes"
	KeyGeomType   = "geometryType"
	KeyWKID       = "wkid"
	KeyLatestWKID = "latestWkid"
	KeyWKT        = "wkt"
)

// Virtual field tokens accepted wherever a field list is built.
const (
	OIDToken   = "OID@"
	ShapeToken = "SHAPE@"
)

// UserAgent identifies the library on every outbound request.
const UserAgent = "arcrest (Go)"

// geometryTypeByKey maps a coordinate container key to its type tag.
var geometryTypeByKey = map[string]string{
	KeyRings:      GeometryPolygon,
	KeyCurveRings: GeometryPolygon,
	KeyPaths:      GeometryPolyline,
	KeyCurvePaths: GeometryPolyline,
	KeyPoints:     GeometryMultipoint,
	KeyX:          GeometryPoint,
	KeyY:          GeometryPoint,
}

// GeometryTypeForKey reports the esri type tag implied by a coordinate
// container key, and whether the key is one.
func GeometryTypeForKey(key string) (string, bool) {
	t, ok := geometryTypeByKey[key]
	return t, ok
}

// GeoJSONTypeFor maps an esri geometry type tag to its GeoJSON counterpart.
// Polygons may widen to MultiPolygon during conversion; this is the base
// mapping only.
func GeoJSONTypeFor(esriType string) string {
	switch esriType {
	case GeometryPoint:
		return "Point"
	case GeometryMultipoint:
		return "MultiPoint"
	case GeometryPolyline:
		return "MultiLineString"
	case GeometryPolygon, GeometryEnvelope:
		return "Polygon"
	}
	return ""
}
