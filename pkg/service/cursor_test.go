package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/geodrift/arcrest/pkg/esri"
	"github.com/geodrift/arcrest/pkg/geometry"
)

const cursorSetJSON = `{
	"objectIdFieldName": "OBJECTID",
	"geometryType": "esriGeometryPoint",
	"spatialReference": {"wkid": 4326},
	"fields": [
		{"name": "OBJECTID", "type": "esriFieldTypeOID"},
		{"name": "NAME", "type": "esriFieldTypeString"},
		{"name": "OPENED", "type": "esriFieldTypeDate"},
		{"name": "SHAPE", "type": "esriFieldTypeGeometry"}
	],
	"features": [
		{"attributes": {"OBJECTID": 1, "NAME": "a", "OPENED": 1592224245000}, "geometry": {"x": -93.1, "y": 44.9}},
		{"attributes": {"OBJECTID": 2, "NAME": "b", "OPENED": null}, "geometry": {"x": -93.2, "y": 45.0}},
		{"attributes": {"OBJECTID": 3, "NAME": "c", "OPENED": 1592224246000}, "geometry": {"x": -93.3, "y": 45.1}}
	]
}`

func cursorSet(t *testing.T) *esri.FeatureSet {
	t.Helper()
	var fs esri.FeatureSet
	if err := json.Unmarshal([]byte(cursorSetJSON), &fs); err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	return &fs
}

func TestCursorFieldTokenResolution(t *testing.T) {
	c, err := NewCursor(cursorSet(t), []string{"OID@", "NAME", "OPENED", "SHAPE@"})
	if err != nil {
		t.Fatalf("NewCursor: %v", err)
	}
	want := []string{"OBJECTID", "NAME", "OPENED", "SHAPE"}
	if got := c.FieldNames(); !reflect.DeepEqual(got, want) {
		t.Fatalf("FieldNames = %v, want %v", got, want)
	}

	// real names normalize to tokens too
	c2, err := NewCursor(cursorSet(t), []string{"objectid", "shape"})
	if err != nil {
		t.Fatalf("NewCursor: %v", err)
	}
	if c2.order[0] != esri.OIDToken || c2.order[1] != esri.ShapeToken {
		t.Fatalf("order not normalized: %v", c2.order)
	}

	if _, err := NewCursor(cursorSet(t), []string{"BOGUS@"}); err == nil {
		t.Fatalf("unknown token accepted")
	}
	if _, err := NewCursor(cursorSet(t), []string{"NOPE"}); err == nil {
		t.Fatalf("unknown field accepted")
	}
}

func TestCursorValues(t *testing.T) {
	c, err := NewCursor(cursorSet(t), []string{"OID@", "NAME", "OPENED", "SHAPE@"})
	if err != nil {
		t.Fatalf("NewCursor: %v", err)
	}
	if c.Len() != 3 {
		t.Fatalf("len = %d", c.Len())
	}

	vals, err := c.Row(0).Values()
	if err != nil {
		t.Fatalf("values: %v", err)
	}
	if vals[0].(int64) != 1 {
		t.Fatalf("oid = %v", vals[0])
	}
	if vals[1].(string) != "a" {
		t.Fatalf("name = %v", vals[1])
	}
	opened := vals[2].(time.Time)
	if opened != time.UnixMilli(1592224245000).UTC() {
		t.Fatalf("date not converted: %v", opened)
	}
	g := vals[3].(*geometry.Geometry)
	if g.Type() != esri.GeometryPoint || g.SpatialReference().WKID != 4326 {
		t.Fatalf("geometry %s sr %v", g.Type(), g.SpatialReference())
	}

	// null dates stay nil
	vals1, err := c.Row(1).Values()
	if err != nil {
		t.Fatalf("values: %v", err)
	}
	if vals1[2] != nil {
		t.Fatalf("null date = %v", vals1[2])
	}
}

// two passes over an unchanged cursor yield identical tuples
func TestCursorIterationIdempotent(t *testing.T) {
	c, err := NewCursor(cursorSet(t), []string{"OID@", "NAME", "OPENED"})
	if err != nil {
		t.Fatalf("NewCursor: %v", err)
	}
	var first, second [][]any
	for i := 0; i < c.Len(); i++ {
		v, err := c.Row(i).Values()
		if err != nil {
			t.Fatalf("pass 1 row %d: %v", i, err)
		}
		first = append(first, v)
	}
	for i := 0; i < c.Len(); i++ {
		v, err := c.Row(i).Values()
		if err != nil {
			t.Fatalf("pass 2 row %d: %v", i, err)
		}
		second = append(second, v)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("iteration not idempotent:\n%v\n%v", first, second)
	}
}

func TestReadOnlyCursorRejectsEdits(t *testing.T) {
	c, err := NewCursor(cursorSet(t), nil)
	if err != nil {
		t.Fatalf("NewCursor: %v", err)
	}
	if err := c.Update(c.Row(0), map[string]any{"NAME": "x"}); err == nil {
		t.Fatalf("read-only update accepted")
	}
	if err := c.Delete(c.Row(0)); err == nil {
		t.Fatalf("read-only delete accepted")
	}
	if _, err := c.Commit(context.Background(), EditOptions{}); err == nil {
		t.Fatalf("read-only commit accepted")
	}
}

func newCursorLayerFixture(t *testing.T, applyEdits http.HandlerFunc) *FeatureLayer {
	t.Helper()
	r := chi.NewRouter()
	r.Post(layerPath, func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(batchMeta))
	})
	r.Post(layerPath+"/query", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(cursorSetJSON))
	})
	r.Post(layerPath+"/applyEdits", applyEdits)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	lyr, err := NewFeatureLayer(context.Background(), srv.URL+layerPath, WithClient(testClient()))
	if err != nil {
		t.Fatalf("NewFeatureLayer: %v", err)
	}
	return lyr
}

// an attribute update on one row commits as a single applyEdits request
// carrying only the oid and the changed attribute
func TestCursorUpdateCommit(t *testing.T) {
	var editCalls atomic.Int64
	var gotAdds, gotUpdates, gotDeletes string
	lyr := newCursorLayerFixture(t, func(w http.ResponseWriter, req *http.Request) {
		editCalls.Add(1)
		_ = req.ParseForm()
		gotAdds = req.PostFormValue("adds")
		gotUpdates = req.PostFormValue("updates")
		gotDeletes = req.PostFormValue("deletes")
		w.Write([]byte(`{"updateResults":[{"objectId":1,"success":true}]}`))
	})

	ctx := context.Background()
	c, err := lyr.Cursor(ctx, nil, QueryOptions{})
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	if err := c.Update(c.Row(0), map[string]any{"NAME": "b"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	summary, err := c.Commit(ctx, EditOptions{})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if editCalls.Load() != 1 {
		t.Fatalf("applyEdits issued %d times", editCalls.Load())
	}
	if gotAdds != "" || gotDeletes != "" {
		t.Fatalf("adds/deletes not empty: %q %q", gotAdds, gotDeletes)
	}
	if !strings.Contains(gotUpdates, `"NAME":"b"`) || !strings.Contains(gotUpdates, `"OBJECTID":1`) {
		t.Fatalf("updates payload: %s", gotUpdates)
	}
	if len(summary.Updated) != 1 || summary.Updated[0] != 1 {
		t.Fatalf("summary: %+v", summary)
	}
	// batch cleared after commit
	if a, u, d := c.Pending(); a+u+d != 0 {
		t.Fatalf("batch not cleared: %d %d %d", a, u, d)
	}
	// the in-memory row reflects the change
	if got := c.Row(0).Get("NAME"); got != "b" {
		t.Fatalf("row not mutated: %v", got)
	}
}

// when the schema declares a global id the update doc carries it, so a
// commit under useGlobalIds keys by it
func TestCursorUpdateCarriesGlobalID(t *testing.T) {
	const guid = "{0AC4E960-6E6E-4F1E-9C27-3A6D1B1F2D3C}"
	setJSON := `{
		"objectIdFieldName": "OBJECTID",
		"fields": [
			{"name": "OBJECTID", "type": "esriFieldTypeOID"},
			{"name": "GLOBALID", "type": "esriFieldTypeGlobalID"},
			{"name": "NAME", "type": "esriFieldTypeString"}
		],
		"features": [
			{"attributes": {"OBJECTID": 1, "GLOBALID": "` + guid + `", "NAME": "a"}}
		]
	}`

	var gotUpdates, gotUseGlobalIDs string
	r := chi.NewRouter()
	r.Post(layerPath, func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{"id":0,"name":"Roads","objectIdField":"OBJECTID","globalIdField":"GLOBALID",
			"fields":[{"name":"OBJECTID","type":"esriFieldTypeOID"},
				{"name":"GLOBALID","type":"esriFieldTypeGlobalID"},
				{"name":"NAME","type":"esriFieldTypeString"}]}`))
	})
	r.Post(layerPath+"/query", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(setJSON))
	})
	r.Post(layerPath+"/applyEdits", func(w http.ResponseWriter, req *http.Request) {
		_ = req.ParseForm()
		gotUpdates = req.PostFormValue("updates")
		gotUseGlobalIDs = req.PostFormValue("useGlobalIds")
		w.Write([]byte(`{"updateResults":[{"objectId":1,"success":true}]}`))
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	ctx := context.Background()
	lyr, err := NewFeatureLayer(ctx, srv.URL+layerPath, WithClient(testClient()))
	if err != nil {
		t.Fatalf("NewFeatureLayer: %v", err)
	}
	c, err := lyr.Cursor(ctx, nil, QueryOptions{})
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	if err := c.Update(c.Row(0), map[string]any{"NAME": "b"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := c.Commit(ctx, EditOptions{UseGlobalIDs: true}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if gotUseGlobalIDs != "true" {
		t.Fatalf("useGlobalIds = %q", gotUseGlobalIDs)
	}
	if !strings.Contains(gotUpdates, `"GLOBALID":"`+guid+`"`) {
		t.Fatalf("update doc missing global id: %s", gotUpdates)
	}
}

func TestCursorDateWriteConversion(t *testing.T) {
	var gotUpdates string
	lyr := newCursorLayerFixture(t, func(w http.ResponseWriter, req *http.Request) {
		_ = req.ParseForm()
		gotUpdates = req.PostFormValue("updates")
		w.Write([]byte(`{"updateResults":[{"objectId":1,"success":true}]}`))
	})

	ctx := context.Background()
	c, err := lyr.Cursor(ctx, nil, QueryOptions{})
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	when := time.UnixMilli(1592224245000).UTC()
	if err := c.Update(c.Row(0), map[string]any{"OPENED": when}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := c.Commit(ctx, EditOptions{}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !strings.Contains(gotUpdates, `"OPENED":1592224245000`) {
		t.Fatalf("date not converted to millis: %s", gotUpdates)
	}
}

// With commits on success and discards on error
func TestCursorWithScope(t *testing.T) {
	var editCalls atomic.Int64
	lyr := newCursorLayerFixture(t, func(w http.ResponseWriter, req *http.Request) {
		editCalls.Add(1)
		w.Write([]byte(`{"deleteResults":[{"objectId":3,"success":true}]}`))
	})

	ctx := context.Background()
	c, err := lyr.Cursor(ctx, nil, QueryOptions{})
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}

	wantErr := context.Canceled
	err = c.With(ctx, EditOptions{}, func(c *Cursor) error {
		if err := c.Delete(c.Row(0)); err != nil {
			return err
		}
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("scope error: %v", err)
	}
	if editCalls.Load() != 0 {
		t.Fatalf("discarded batch was committed")
	}
	if a, u, d := c.Pending(); a+u+d != 0 {
		t.Fatalf("batch not discarded: %d %d %d", a, u, d)
	}

	err = c.With(ctx, EditOptions{}, func(c *Cursor) error {
		return c.Delete(c.Row(2))
	})
	if err != nil {
		t.Fatalf("scoped commit: %v", err)
	}
	if editCalls.Load() != 1 {
		t.Fatalf("applyEdits issued %d times, want 1", editCalls.Load())
	}
}
