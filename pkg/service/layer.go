package service

import (
	"context"

	"github.com/geodrift/arcrest/pkg/esri"
)

// defaultMaxRecordCount applies when a layer's metadata does not declare a
// transfer limit.
const defaultMaxRecordCount = 1000

// Layer is a single map service layer or table.
type Layer struct {
	base
	info esri.LayerInfo
}

func NewLayer(ctx context.Context, rawURL string, opts ...Option) (*Layer, error) {
	b, err := newBase(rawURL, opts...)
	if err != nil {
		return nil, err
	}
	l := &Layer{base: b}
	if err := l.Refresh(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// Refresh re-fetches the layer document; cursors opened earlier keep their
// snapshot of the schema.
func (l *Layer) Refresh(ctx context.Context) error {
	var info esri.LayerInfo
	if err := l.post(ctx, l.url, nil, &info); err != nil {
		return err
	}
	l.info = info
	l.version = info.CurrentVersion
	return nil
}

func (l *Layer) Info() esri.LayerInfo { return l.info }

func (l *Layer) Name() string { return l.info.Name }

func (l *Layer) Fields() []esri.Field { return l.info.Fields }

// OIDFieldName returns the layer's object id field name.
func (l *Layer) OIDFieldName() string { return l.info.OIDField() }

// GlobalIDFieldName returns the layer's global id field name, if any.
func (l *Layer) GlobalIDFieldName() string { return l.info.GlobalIDField() }

// ShapeFieldName returns the layer's geometry field name, if any.
func (l *Layer) ShapeFieldName() string {
	for _, f := range l.info.Fields {
		if f.Type == esri.FieldTypeGeometry {
			return f.Name
		}
	}
	return ""
}

func (l *Layer) maxRecordCount() int {
	if l.info.MaxRecordCount > 0 {
		return l.info.MaxRecordCount
	}
	return defaultMaxRecordCount
}

// FixFields expands the OID@ and SHAPE@ tokens into the layer's real field
// names for an outFields list. A nil or single-* input stays *. Tokens the
// layer has no field for drop out of the list.
func (l *Layer) FixFields(fields []string) []string {
	if len(fields) == 0 || (len(fields) == 1 && fields[0] == "*") {
		return []string{"*"}
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		switch f {
		case esri.OIDToken:
			if name := l.OIDFieldName(); name != "" {
				out = append(out, name)
			}
		case esri.ShapeToken:
			if name := l.ShapeFieldName(); name != "" {
				out = append(out, name)
			}
		default:
			out = append(out, f)
		}
	}
	return out
}
