package service

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/geodrift/arcrest/internal/observability"
	"github.com/geodrift/arcrest/pkg/esri"
	"github.com/geodrift/arcrest/pkg/geometry"
	"github.com/geodrift/arcrest/pkg/request"
)

// QueryOptions describes one layer query. The zero value queries every row
// within the server's transfer limit with all fields.
type QueryOptions struct {
	Where     string   // SQL predicate, default 1=1
	OutFields []string // field names; OID@ and SHAPE@ tokens allowed

	// spatial filter
	Geometry   *geometry.Geometry
	SpatialRel string

	OutSR          int
	ReturnGeometry *bool
	OrderByFields  string

	ResultRecordCount int
	ResultOffset      int
	ObjectIDs         []int64

	// ExceedTransferLimit requests every matching row, paging past the
	// server's maxRecordCount.
	ExceedTransferLimit bool

	// Extra passes through parameters with no dedicated field.
	Extra request.Params
}

func (q QueryOptions) params(l *Layer) request.Params {
	p := request.Params{}
	where := q.Where
	if where == "" {
		where = "1=1"
	}
	p["where"] = where
	fields := l.FixFields(q.OutFields)
	p["outFields"] = strings.Join(fields, ",")
	if q.Geometry != nil {
		p["geometry"] = q.Geometry
		rel := q.SpatialRel
		if rel == "" {
			rel = "esriSpatialRelIntersects"
		}
		p["spatialRel"] = rel
	}
	if q.OutSR != 0 {
		p["outSR"] = q.OutSR
	}
	if q.ReturnGeometry != nil {
		p["returnGeometry"] = *q.ReturnGeometry
	}
	if q.OrderByFields != "" {
		p["orderByFields"] = q.OrderByFields
	}
	if q.ResultRecordCount > 0 {
		p["resultRecordCount"] = q.ResultRecordCount
	}
	if q.ResultOffset > 0 {
		p["resultOffset"] = q.ResultOffset
	}
	if len(q.ObjectIDs) > 0 {
		p["objectIds"] = joinIDs(q.ObjectIDs)
	}
	for k, v := range q.Extra {
		p[k] = v
	}
	return p
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

// Query runs the layer query. With ExceedTransferLimit set it retrieves
// every matching row: through resultOffset paging when the layer supports
// pagination, otherwise by batching object ids. On a mid-pagination error
// the pages received so far are returned alongside the error.
func (l *Layer) Query(ctx context.Context, q QueryOptions) (*esri.FeatureSet, error) {
	if !q.ExceedTransferLimit {
		var fs esri.FeatureSet
		if err := l.post(ctx, l.url+"/query", q.params(l), &fs); err != nil {
			return nil, err
		}
		return &fs, nil
	}
	if l.info.SupportsPagination() {
		return l.queryOffset(ctx, q)
	}
	return l.queryByOIDs(ctx, q)
}

// queryOffset pages with resultOffset in steps of the transfer limit. A
// server that keeps reporting exceededTransferLimit while returning no new
// rows is a protocol violation and aborts the query.
func (l *Layer) queryOffset(ctx context.Context, q QueryOptions) (*esri.FeatureSet, error) {
	limit := l.maxRecordCount()
	var out *esri.FeatureSet
	offset := 0
	for page := 0; ; page++ {
		p := q.params(l)
		p["resultOffset"] = offset
		p["resultRecordCount"] = limit

		var fs esri.FeatureSet
		if err := l.post(ctx, l.url+"/query", p, &fs); err != nil {
			return out, fmt.Errorf("service: query page %d: %w", page, err)
		}
		observability.IncQueryPage()

		n := len(fs.Features)
		if out == nil {
			out = &fs
		} else {
			out.Features = append(out.Features, fs.Features...)
		}
		if n == 0 {
			if fs.ExceededTransferLimit {
				return out, fmt.Errorf("service: query page %d: transfer limit reported with no new rows", page)
			}
			break
		}
		if !fs.ExceededTransferLimit && n < limit {
			break
		}
		offset += n
	}
	out.ExceededTransferLimit = false
	l.log.Debug().Str("layer", l.url).Int("rows", len(out.Features)).Msg("paged query complete")
	return out, nil
}

// queryByOIDs retrieves the full id list first, then fetches in ascending
// id batches of the transfer limit. The original predicate is already
// applied by the ids query, so batches run with where=1=1.
func (l *Layer) queryByOIDs(ctx context.Context, q QueryOptions) (*esri.FeatureSet, error) {
	ids, err := l.IDs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("service: object id query: %w", err)
	}
	slices.Sort(ids)

	limit := l.maxRecordCount()
	var out *esri.FeatureSet
	for page := 0; len(ids) > 0; page++ {
		chunk := ids
		if len(chunk) > limit {
			chunk = chunk[:limit]
		}
		ids = ids[len(chunk):]

		cq := q
		cq.Where = "1=1"
		cq.Geometry = nil
		cq.ObjectIDs = chunk

		var fs esri.FeatureSet
		if err := l.post(ctx, l.url+"/query", cq.params(l), &fs); err != nil {
			return out, fmt.Errorf("service: query batch %d: %w", page, err)
		}
		observability.IncQueryPage()

		if out == nil {
			out = &fs
		} else {
			out.Features = append(out.Features, fs.Features...)
		}
	}
	if out == nil {
		out = &esri.FeatureSet{}
	}
	out.ExceededTransferLimit = false
	l.log.Debug().Str("layer", l.url).Int("rows", len(out.Features)).Msg("batched query complete")
	return out, nil
}

// Count returns the number of rows matching the predicate.
func (l *Layer) Count(ctx context.Context, where string) (int, error) {
	if where == "" {
		where = "1=1"
	}
	var resp esri.CountResponse
	err := l.post(ctx, l.url+"/query", request.Params{
		"where":           where,
		"returnCountOnly": true,
	}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// IDs returns the object ids matching the query, ignoring its paging and
// field selection inputs.
func (l *Layer) IDs(ctx context.Context, q QueryOptions) ([]int64, error) {
	p := q.params(l)
	delete(p, "outFields")
	delete(p, "resultOffset")
	delete(p, "resultRecordCount")
	delete(p, "orderByFields")
	p["returnIdsOnly"] = true

	var resp esri.IDsResponse
	if err := l.post(ctx, l.url+"/query", p, &resp); err != nil {
		return nil, err
	}
	return resp.ObjectIDs, nil
}
