package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
)

const layerPath = "/arcgis/rest/services/Roads/FeatureServer/0"

// newLayerFixture serves layer metadata and delegates /query to the given
// handler.
func newLayerFixture(t *testing.T, meta string, query http.HandlerFunc) (*httptest.Server, *Layer) {
	t.Helper()
	r := chi.NewRouter()
	r.Post(layerPath, func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(meta))
	})
	r.Post(layerPath+"/query", query)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	lyr, err := NewLayer(context.Background(), srv.URL+layerPath, WithClient(testClient()))
	if err != nil {
		t.Fatalf("NewLayer: %v", err)
	}
	return srv, lyr
}

const pagingMeta = `{"id":0,"name":"Roads","type":"Feature Layer","objectIdField":"OBJECTID","maxRecordCount":2,
	"advancedQueryCapabilities":{"supportsPagination":true},
	"fields":[{"name":"OBJECTID","type":"esriFieldTypeOID"},{"name":"NAME","type":"esriFieldTypeString"}]}`

const batchMeta = `{"id":0,"name":"Roads","type":"Feature Layer","objectIdField":"OBJECTID","maxRecordCount":2,
	"fields":[{"name":"OBJECTID","type":"esriFieldTypeOID"},{"name":"NAME","type":"esriFieldTypeString"}]}`

func featureRows(oids ...int) string {
	rows := make([]string, len(oids))
	for i, oid := range oids {
		rows[i] = fmt.Sprintf(`{"attributes":{"OBJECTID":%d,"NAME":"road %d"}}`, oid, oid)
	}
	return "[" + strings.Join(rows, ",") + "]"
}

// five rows behind a transfer limit of two come back complete and distinct
// through the offset path
func TestQueryOffsetPagination(t *testing.T) {
	all := []int{1, 2, 3, 4, 5}
	var calls atomic.Int64
	_, lyr := newLayerFixture(t, pagingMeta, func(w http.ResponseWriter, req *http.Request) {
		calls.Add(1)
		_ = req.ParseForm()
		offset, _ := strconv.Atoi(req.PostFormValue("resultOffset"))
		count, _ := strconv.Atoi(req.PostFormValue("resultRecordCount"))
		if count != 2 {
			t.Errorf("resultRecordCount = %d, want 2", count)
		}
		end := offset + count
		if end > len(all) {
			end = len(all)
		}
		exceeded := end < len(all)
		fmt.Fprintf(w, `{"objectIdFieldName":"OBJECTID","features":%s,"exceededTransferLimit":%v}`,
			featureRows(all[offset:end]...), exceeded)
	})

	fs, err := lyr.Query(context.Background(), QueryOptions{ExceedTransferLimit: true})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("issued %d requests, want 3", got)
	}
	seen := map[int64]bool{}
	for _, f := range fs.Features {
		oid, ok := f.OID("OBJECTID")
		if !ok {
			t.Fatalf("row without oid: %v", f.Attributes)
		}
		if seen[oid] {
			t.Fatalf("duplicate oid %d", oid)
		}
		seen[oid] = true
	}
	if len(seen) != 5 {
		t.Fatalf("got %d distinct rows, want 5", len(seen))
	}
	if fs.ExceededTransferLimit {
		t.Fatalf("aggregate set still flags transfer limit")
	}
}

// without pagination support the engine fetches the id list and batches by
// ascending oid with the predicate already applied
func TestQueryOIDBatching(t *testing.T) {
	var idCalls, batchCalls atomic.Int64
	_, lyr := newLayerFixture(t, batchMeta, func(w http.ResponseWriter, req *http.Request) {
		_ = req.ParseForm()
		if req.PostFormValue("returnIdsOnly") == "true" {
			idCalls.Add(1)
			if got := req.PostFormValue("where"); got != "NAME LIKE 'M%'" {
				t.Errorf("ids query where = %q", got)
			}
			w.Write([]byte(`{"objectIdFieldName":"OBJECTID","objectIds":[5,3,1,4,2]}`))
			return
		}
		batchCalls.Add(1)
		if got := req.PostFormValue("where"); got != "1=1" {
			t.Errorf("batch where = %q, want 1=1", got)
		}
		var oids []int
		for s := range strings.SplitSeq(req.PostFormValue("objectIds"), ",") {
			n, _ := strconv.Atoi(s)
			oids = append(oids, n)
		}
		fmt.Fprintf(w, `{"objectIdFieldName":"OBJECTID","features":%s}`, featureRows(oids...))
	})

	fs, err := lyr.Query(context.Background(), QueryOptions{Where: "NAME LIKE 'M%'", ExceedTransferLimit: true})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if idCalls.Load() != 1 {
		t.Fatalf("ids query issued %d times", idCalls.Load())
	}
	if batchCalls.Load() != 3 {
		t.Fatalf("issued %d batches, want 3 (chunks of 2 over 5 ids)", batchCalls.Load())
	}
	var got []int64
	for _, f := range fs.Features {
		oid, _ := f.OID("OBJECTID")
		got = append(got, oid)
	}
	for i, want := range []int64{1, 2, 3, 4, 5} {
		if got[i] != want {
			t.Fatalf("oid order %v, want ascending 1..5", got)
		}
	}
}

// a server that reports a transfer limit while returning no rows must not
// loop
func TestQueryPaginationTermination(t *testing.T) {
	var calls atomic.Int64
	_, lyr := newLayerFixture(t, pagingMeta, func(w http.ResponseWriter, req *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"objectIdFieldName":"OBJECTID","features":[],"exceededTransferLimit":true}`))
	})

	_, err := lyr.Query(context.Background(), QueryOptions{ExceedTransferLimit: true})
	if err == nil || !strings.Contains(err.Error(), "no new rows") {
		t.Fatalf("expected protocol error, got %v", err)
	}
	if got := calls.Load(); got > 2 {
		t.Fatalf("issued %d requests before aborting", got)
	}
}

// page errors carry the page index
func TestQueryPageErrorWrapped(t *testing.T) {
	var calls atomic.Int64
	_, lyr := newLayerFixture(t, pagingMeta, func(w http.ResponseWriter, req *http.Request) {
		if calls.Add(1) == 1 {
			w.Write([]byte(`{"objectIdFieldName":"OBJECTID","features":` + featureRows(1, 2) + `,"exceededTransferLimit":true}`))
			return
		}
		w.Write([]byte(`{"error":{"code":500,"message":"boom"}}`))
	})

	fs, err := lyr.Query(context.Background(), QueryOptions{ExceedTransferLimit: true})
	if err == nil || !strings.Contains(err.Error(), "query page 1") {
		t.Fatalf("expected wrapped page error, got %v", err)
	}
	// pages received before the failure stay accessible
	if fs == nil || len(fs.Features) != 2 {
		t.Fatalf("partial pages lost: %+v", fs)
	}
}

func TestCountAndIDs(t *testing.T) {
	_, lyr := newLayerFixture(t, batchMeta, func(w http.ResponseWriter, req *http.Request) {
		_ = req.ParseForm()
		switch {
		case req.PostFormValue("returnCountOnly") == "true":
			w.Write([]byte(`{"count":42}`))
		case req.PostFormValue("returnIdsOnly") == "true":
			if req.PostFormValue("outFields") != "" {
				t.Errorf("ids query carries outFields")
			}
			w.Write([]byte(`{"objectIdFieldName":"OBJECTID","objectIds":[7,9]}`))
		default:
			t.Errorf("unexpected query form: %v", req.PostForm)
		}
	})

	n, err := lyr.Count(context.Background(), "")
	if err != nil || n != 42 {
		t.Fatalf("count = %d, %v", n, err)
	}
	ids, err := lyr.IDs(context.Background(), QueryOptions{})
	if err != nil || len(ids) != 2 || ids[0] != 7 {
		t.Fatalf("ids = %v, %v", ids, err)
	}
}

func TestFixFields(t *testing.T) {
	_, lyr := newLayerFixture(t, `{"id":0,"name":"Roads","objectIdField":"OBJECTID",
		"fields":[{"name":"OBJECTID","type":"esriFieldTypeOID"},{"name":"SHAPE","type":"esriFieldTypeGeometry"},{"name":"NAME","type":"esriFieldTypeString"}]}`,
		func(w http.ResponseWriter, req *http.Request) {})

	got := lyr.FixFields([]string{"OID@", "SHAPE@", "NAME"})
	want := []string{"OBJECTID", "SHAPE", "NAME"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("FixFields = %v, want %v", got, want)
		}
	}
	if all := lyr.FixFields(nil); len(all) != 1 || all[0] != "*" {
		t.Fatalf("nil fields = %v, want [*]", all)
	}
}
