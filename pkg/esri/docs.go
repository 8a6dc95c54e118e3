package esri

import "encoding/json"

// ServiceRef is one entry in a catalog's service listing.
type ServiceRef struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// CatalogInfo is the document served by a server root or folder.
type CatalogInfo struct {
	CurrentVersion float64      `json:"currentVersion"`
	Folders        []string     `json:"folders,omitempty"`
	Services       []ServiceRef `json:"services,omitempty"`
}

// LayerRef is one entry in a service's layer or table listing.
type LayerRef struct {
	ID                int     `json:"id"`
	Name              string  `json:"name"`
	ParentLayerID     int     `json:"parentLayerId,omitempty"`
	DefaultVisibility bool    `json:"defaultVisibility,omitempty"`
	SubLayerIDs       []int   `json:"subLayerIds,omitempty"`
	MinScale          float64 `json:"minScale,omitempty"`
	MaxScale          float64 `json:"maxScale,omitempty"`
	GeometryType      string  `json:"geometryType,omitempty"`
}

// ServiceInfo is the metadata document of a map or feature service.
type ServiceInfo struct {
	CurrentVersion        float64          `json:"currentVersion"`
	ServiceDescription    string           `json:"serviceDescription,omitempty"`
	HasVersionedData      bool             `json:"hasVersionedData,omitempty"`
	MaxRecordCount        int              `json:"maxRecordCount,omitempty"`
	SupportedQueryFormats string           `json:"supportedQueryFormats,omitempty"`
	Capabilities          string           `json:"capabilities,omitempty"`
	Layers                []LayerRef       `json:"layers,omitempty"`
	Tables                []LayerRef       `json:"tables,omitempty"`
	SpatialReference      SpatialReference `json:"spatialReference,omitempty"`
	InitialExtent         *ExtentDoc       `json:"initialExtent,omitempty"`
	FullExtent            *ExtentDoc       `json:"fullExtent,omitempty"`
	Units                 string           `json:"units,omitempty"`
}

// ExtentDoc is the envelope document embedded in service and layer metadata.
type ExtentDoc struct {
	XMin             float64          `json:"xmin"`
	YMin             float64          `json:"ymin"`
	XMax             float64          `json:"xmax"`
	YMax             float64          `json:"ymax"`
	SpatialReference SpatialReference `json:"spatialReference,omitempty"`
}

// queryCapabilities is the advancedQueryCapabilities sub-document.
type queryCapabilities struct {
	SupportsPagination           bool `json:"supportsPagination"`
	SupportsStatistics           bool `json:"supportsStatistics"`
	SupportsOrderBy              bool `json:"supportsOrderBy"`
	SupportsDistinct             bool `json:"supportsDistinct"`
	SupportsReturningQueryExtent bool `json:"supportsReturningQueryExtent"`
}

// LayerInfo is the metadata document of a single layer or table.
type LayerInfo struct {
	ID                    int               `json:"id"`
	Name                  string            `json:"name"`
	Type                  string            `json:"type,omitempty"`
	CurrentVersion        float64           `json:"currentVersion,omitempty"`
	Description           string            `json:"description,omitempty"`
	GeometryType          string            `json:"geometryType,omitempty"`
	ObjectIDFieldName     string            `json:"objectIdField,omitempty"`
	GlobalIDFieldName     string            `json:"globalIdField,omitempty"`
	DisplayField          string            `json:"displayField,omitempty"`
	Fields                []Field           `json:"fields,omitempty"`
	MaxRecordCount        int               `json:"maxRecordCount,omitempty"`
	Capabilities          string            `json:"capabilities,omitempty"`
	HasAttachments        bool              `json:"hasAttachments,omitempty"`
	SupportsPaginationTop bool              `json:"supportsPagination,omitempty"`
	AdvancedQueryCaps     queryCapabilities `json:"advancedQueryCapabilities,omitempty"`
	Extent                *ExtentDoc        `json:"extent,omitempty"`
	SupportedQueryFormats string            `json:"supportedQueryFormats,omitempty"`
	Relationships         []json.RawMessage `json:"relationships,omitempty"`
	IsDataVersioned       bool              `json:"isDataVersioned,omitempty"`
}

// SupportsPagination reports whether the layer accepts resultOffset and
// resultRecordCount. Older servers advertise the flag at the top level,
// newer ones under advancedQueryCapabilities.
func (li *LayerInfo) SupportsPagination() bool {
	return li.SupportsPaginationTop || li.AdvancedQueryCaps.SupportsPagination
}

// OIDField returns the declared object id field name, falling back to the
// field list when the shortcut property is absent.
func (li *LayerInfo) OIDField() string {
	if li.ObjectIDFieldName != "" {
		return li.ObjectIDFieldName
	}
	for _, f := range li.Fields {
		if f.Type == FieldTypeOID {
			return f.Name
		}
	}
	return ""
}

// GlobalIDField returns the declared global id field name, if any.
func (li *LayerInfo) GlobalIDField() string {
	if li.GlobalIDFieldName != "" {
		return li.GlobalIDFieldName
	}
	for _, f := range li.Fields {
		if f.Type == FieldTypeGlobalID {
			return f.Name
		}
	}
	return ""
}

// EditResultError is the per-row error document inside an applyEdits result.
type EditResultError struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
}

// EditResult is the status of one row in an edit operation, in input order.
type EditResult struct {
	ObjectID int64            `json:"objectId"`
	GlobalID string           `json:"globalId,omitempty"`
	Success  bool             `json:"success"`
	Error    *EditResultError `json:"error,omitempty"`
}

// EditResponse is the applyEdits response document.
type EditResponse struct {
	AddResults    []EditResult `json:"addResults,omitempty"`
	UpdateResults []EditResult `json:"updateResults,omitempty"`
	DeleteResults []EditResult `json:"deleteResults,omitempty"`
}

// AttachmentInfo describes one attachment on a feature.
type AttachmentInfo struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// AttachmentResult is the status document of an attachment edit.
type AttachmentResult struct {
	ObjectID int64            `json:"objectId"`
	GlobalID string           `json:"globalId,omitempty"`
	Success  bool             `json:"success"`
	Error    *EditResultError `json:"error,omitempty"`
}

// IDsResponse is the returnIdsOnly query response.
type IDsResponse struct {
	ObjectIDFieldName string  `json:"objectIdFieldName"`
	ObjectIDs         []int64 `json:"objectIds"`
}

// CountResponse is the returnCountOnly query response.
type CountResponse struct {
	Count int `json:"count"`
}
