package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/geodrift/arcrest/pkg/esri"
	"github.com/geodrift/arcrest/pkg/geometry"
)

// Cursor walks a feature set positionally and accumulates an edit batch.
// Field order is resolved once at open time: the OID@ and SHAPE@ tokens
// bind to the set's object id and geometry fields, and real field names
// that happen to be those fields are normalized to the tokens. Date fields
// convert between wire milliseconds and time.Time in both directions.
//
// A cursor is single-owner: it must not be shared across goroutines.
type Cursor struct {
	fs     *esri.FeatureSet
	editor *FeatureLayer // nil for a read-only cursor

	order []string
	dates map[string]struct{}

	adds    []esri.Feature
	updates []esri.Feature
	deletes []int64
}

// NewCursor opens a read-only cursor over a feature set.
func NewCursor(fs *esri.FeatureSet, fieldOrder []string) (*Cursor, error) {
	return newCursor(fs, fieldOrder, nil)
}

func newCursor(fs *esri.FeatureSet, fieldOrder []string, editor *FeatureLayer) (*Cursor, error) {
	if fs == nil {
		return nil, fmt.Errorf("service: cursor needs a feature set")
	}
	if err := fs.Validate(); err != nil {
		return nil, fmt.Errorf("service: cursor: %w", err)
	}
	c := &Cursor{fs: fs, editor: editor, dates: map[string]struct{}{}}
	for _, f := range fs.Fields {
		if f.Type == esri.FieldTypeDate {
			c.dates[f.Name] = struct{}{}
		}
	}
	order, err := c.resolveOrder(fieldOrder)
	if err != nil {
		return nil, err
	}
	c.order = order
	return c, nil
}

// Cursor opens a read-only cursor over a fresh query.
func (l *Layer) Cursor(ctx context.Context, fields []string, q QueryOptions) (*Cursor, error) {
	q.OutFields = fields
	fs, err := l.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return newCursor(fs, fields, nil)
}

// Cursor opens an editable cursor over a fresh query; pending edits commit
// back to this layer.
func (l *FeatureLayer) Cursor(ctx context.Context, fields []string, q QueryOptions) (*Cursor, error) {
	q.OutFields = fields
	fs, err := l.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return newCursor(fs, fields, l)
}

func (c *Cursor) resolveOrder(fields []string) ([]string, error) {
	if len(fields) == 0 || (len(fields) == 1 && fields[0] == "*") {
		out := make([]string, len(c.fs.Fields))
		for i, f := range c.fs.Fields {
			out[i] = f.Name
		}
		return c.normalizeOrder(out), nil
	}
	for _, f := range fields {
		name := f
		if strings.Contains(f, "@") {
			name = strings.ToUpper(f)
			if name != esri.OIDToken && name != esri.ShapeToken {
				return nil, fmt.Errorf("service: cursor: unknown field token %q", f)
			}
			if name == esri.OIDToken && c.oidFieldName() == "" {
				return nil, fmt.Errorf("service: cursor: feature set has no object id field")
			}
			if name == esri.ShapeToken && !c.hasGeometry() {
				return nil, fmt.Errorf("service: cursor: feature set has no geometry")
			}
			continue
		}
		if c.fs.Field(name) == nil {
			return nil, fmt.Errorf("service: cursor: unknown field %q", f)
		}
	}
	return c.normalizeOrder(fields), nil
}

// normalizeOrder rewrites the object id and shape field names to their
// tokens, and uppercases token spellings.
func (c *Cursor) normalizeOrder(fields []string) []string {
	oid := c.oidFieldName()
	shape := c.shapeFieldName()
	out := make([]string, len(fields))
	for i, f := range fields {
		switch {
		case strings.Contains(f, "@"):
			out[i] = strings.ToUpper(f)
		case oid != "" && strings.EqualFold(f, oid):
			out[i] = esri.OIDToken
		case shape != "" && strings.EqualFold(f, shape):
			out[i] = esri.ShapeToken
		default:
			out[i] = f
		}
	}
	return out
}

func (c *Cursor) oidFieldName() string {
	if f := c.fs.OIDField(); f != nil {
		return f.Name
	}
	return ""
}

func (c *Cursor) shapeFieldName() string {
	if f := c.fs.ShapeField(); f != nil {
		return f.Name
	}
	return ""
}

func (c *Cursor) globalIDFieldName() string {
	if f := c.fs.GlobalIDField(); f != nil {
		return f.Name
	}
	return ""
}

func (c *Cursor) hasGeometry() bool {
	if c.shapeFieldName() != "" {
		return true
	}
	return len(c.fs.Features) > 0 && c.fs.Features[0].Geometry != nil
}

// FieldNames returns the resolved field order with tokens replaced by the
// underlying field names.
func (c *Cursor) FieldNames() []string {
	out := make([]string, len(c.order))
	for i, f := range c.order {
		switch f {
		case esri.OIDToken:
			out[i] = c.oidFieldName()
		case esri.ShapeToken:
			out[i] = c.shapeFieldName()
		default:
			out[i] = f
		}
	}
	return out
}

func (c *Cursor) Len() int { return len(c.fs.Features) }

func (c *Cursor) FeatureSet() *esri.FeatureSet { return c.fs }

// Row is positional access into a cursor.
type Row struct {
	c *Cursor
	i int
}

func (c *Cursor) Row(i int) Row { return Row{c: c, i: i} }

func (r Row) feature() *esri.Feature { return &r.c.fs.Features[r.i] }

// OID returns the row's object id, when the schema declares one.
func (r Row) OID() (int64, bool) {
	name := r.c.oidFieldName()
	if name == "" {
		return 0, false
	}
	return r.feature().OID(name)
}

// Geometry classifies the row's geometry, inheriting the set's spatial
// reference when the document carries none.
func (r Row) Geometry() (*geometry.Geometry, error) {
	doc := r.feature().Geometry
	if doc == nil {
		return nil, fmt.Errorf("service: row %d has no geometry", r.i)
	}
	g, err := geometry.New(doc)
	if err != nil {
		return nil, err
	}
	if g.SpatialReference().IsZero() {
		g.SetSpatialReference(r.c.fs.SpatialReference)
	}
	return g, nil
}

// Get returns one attribute with date conversion applied.
func (r Row) Get(field string) any {
	v, ok := r.feature().Get(field)
	if !ok {
		return nil
	}
	if _, isDate := r.c.dates[field]; isDate {
		return asTime(v)
	}
	return v
}

// Values returns the row as a tuple aligned with the cursor's field order.
// The OID@ position carries the object id, the SHAPE@ position the typed
// geometry, and date fields arrive as time.Time.
func (r Row) Values() ([]any, error) {
	out := make([]any, len(r.c.order))
	for i, f := range r.c.order {
		switch f {
		case esri.OIDToken:
			oid, _ := r.OID()
			out[i] = oid
		case esri.ShapeToken:
			g, err := r.Geometry()
			if err != nil {
				return nil, err
			}
			out[i] = g
		default:
			out[i] = r.Get(f)
		}
	}
	return out, nil
}

func asTime(v any) any {
	switch n := v.(type) {
	case float64:
		return esri.MillisToTime(int64(n))
	case int64:
		return esri.MillisToTime(n)
	case nil:
		return nil
	}
	return v
}

// Update merges the changed attributes into the row and records an update
// carrying the row's ids plus only those attributes. The global id rides
// along when the schema declares one, so a commit under useGlobalIds keys
// by it. time.Time values in date fields convert back to wire milliseconds.
func (c *Cursor) Update(r Row, attrs map[string]any) error {
	if c.editor == nil {
		return fmt.Errorf("service: cursor is read-only")
	}
	oidField := c.oidFieldName()
	if oidField == "" {
		return fmt.Errorf("service: update needs an object id field")
	}
	oid, ok := r.OID()
	if !ok {
		return fmt.Errorf("service: row %d has no object id", r.i)
	}
	changed := map[string]any{oidField: oid}
	if gidField := c.globalIDFieldName(); gidField != "" {
		if v, ok := r.feature().Get(gidField); ok && v != nil {
			changed[gidField] = v
		}
	}
	for k, v := range attrs {
		v = c.toWire(k, v)
		r.feature().Attributes[k] = v
		changed[k] = v
	}
	c.updates = append(c.updates, esri.Feature{Attributes: changed})
	return nil
}

// Insert appends a pending add. Inserted rows have no object id until the
// batch commits.
func (c *Cursor) Insert(attrs map[string]any, geom *geometry.Geometry) error {
	if c.editor == nil {
		return fmt.Errorf("service: cursor is read-only")
	}
	wire := make(map[string]any, len(attrs))
	for k, v := range attrs {
		wire[k] = c.toWire(k, v)
	}
	f := esri.Feature{Attributes: wire}
	if geom != nil {
		f.Geometry = geom.ToNative()
	}
	c.adds = append(c.adds, f)
	return nil
}

// Delete records the row's object id in the pending deletes.
func (c *Cursor) Delete(r Row) error {
	if c.editor == nil {
		return fmt.Errorf("service: cursor is read-only")
	}
	oid, ok := r.OID()
	if !ok {
		return fmt.Errorf("service: row %d has no object id", r.i)
	}
	c.deletes = append(c.deletes, oid)
	return nil
}

// Pending reports the sizes of the uncommitted batch.
func (c *Cursor) Pending() (adds, updates, deletes int) {
	return len(c.adds), len(c.updates), len(c.deletes)
}

// Discard drops the uncommitted batch.
func (c *Cursor) Discard() {
	c.adds, c.updates, c.deletes = nil, nil, nil
}

// Commit flushes the pending batch in one applyEdits call and clears it.
// A batch-level error leaves the batch intact for a retry.
func (c *Cursor) Commit(ctx context.Context, opts EditOptions) (*EditSummary, error) {
	if c.editor == nil {
		return nil, fmt.Errorf("service: cursor is read-only")
	}
	if len(c.adds) == 0 && len(c.updates) == 0 && len(c.deletes) == 0 {
		return &EditSummary{}, nil
	}
	summary, err := c.editor.ApplyEdits(ctx, c.adds, c.updates, c.deletes, opts)
	if err != nil {
		return nil, err
	}
	c.Discard()
	return summary, nil
}

// With runs fn over the cursor in a scope: commit on success, discard on
// error.
func (c *Cursor) With(ctx context.Context, opts EditOptions, fn func(*Cursor) error) error {
	if err := fn(c); err != nil {
		c.Discard()
		return err
	}
	_, err := c.Commit(ctx, opts)
	return err
}

func (c *Cursor) toWire(field string, v any) any {
	if _, isDate := c.dates[field]; !isDate {
		return v
	}
	switch t := v.(type) {
	case time.Time:
		return esri.TimeToMillis(t)
	case *time.Time:
		if t == nil {
			return nil
		}
		return esri.TimeToMillis(*t)
	}
	return v
}
