package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/geodrift/arcrest/internal/observability"
	"github.com/geodrift/arcrest/pkg/esri"
	"github.com/geodrift/arcrest/pkg/events"
	"github.com/geodrift/arcrest/pkg/geometry"
	"github.com/geodrift/arcrest/pkg/request"
)

// FeatureLayer is an editable layer of a feature service.
type FeatureLayer struct {
	Layer
}

func NewFeatureLayer(ctx context.Context, rawURL string, opts ...Option) (*FeatureLayer, error) {
	b, err := newBase(rawURL, opts...)
	if err != nil {
		return nil, err
	}
	l := &FeatureLayer{}
	l.base = b
	if err := l.Refresh(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// EditOptions adjust an edit batch. RollbackOnFailure defaults to true:
// one bad row rejects the whole batch.
type EditOptions struct {
	RollbackOnFailure *bool
	UseGlobalIDs      bool
	GDBVersion        string
}

func (o EditOptions) rollback() bool {
	if o.RollbackOnFailure == nil {
		return true
	}
	return *o.RollbackOnFailure
}

// RowError is one failed row of an edit batch, positioned by its index in
// the input list.
type RowError struct {
	Kind        string // add, update or delete
	Index       int
	ObjectID    int64
	Code        int
	Description string
}

func (e RowError) Error() string {
	return fmt.Sprintf("%s row %d: code %d: %s", e.Kind, e.Index, e.Code, e.Description)
}

// EditSummary aggregates an edit batch's per-row results.
type EditSummary struct {
	Added   []int64
	Updated []int64
	Deleted []int64
	Errors  []RowError
}

func (s *EditSummary) Failed() int { return len(s.Errors) }

// ApplyEdits submits adds, updates and deletes in one request. Adds never
// carry the object id field; when opts.UseGlobalIDs is set, adds without a
// global id receive a client-generated one. Per-row failures come back in
// the summary positioned by input index.
func (l *FeatureLayer) ApplyEdits(ctx context.Context, adds, updates []esri.Feature, deletes []int64, opts EditOptions) (*EditSummary, error) {
	params := request.Params{
		"rollbackOnFailure": opts.rollback(),
	}
	if len(adds) > 0 {
		params["adds"] = l.prepareAdds(adds, opts.UseGlobalIDs)
	}
	if len(updates) > 0 {
		params["updates"] = featureDocs(updates)
	}
	if len(deletes) > 0 {
		params["deletes"] = joinIDs(deletes)
	}
	if opts.UseGlobalIDs {
		params["useGlobalIds"] = true
	}
	if opts.GDBVersion != "" {
		params["gdbVersion"] = opts.GDBVersion
	}

	var resp esri.EditResponse
	if err := l.post(ctx, l.url+"/applyEdits", params, &resp); err != nil {
		return nil, err
	}
	summary := summarize(&resp)
	observability.IncEditRows("add", len(summary.Added), countKind(summary.Errors, "add"))
	observability.IncEditRows("update", len(summary.Updated), countKind(summary.Errors, "update"))
	observability.IncEditRows("delete", len(summary.Deleted), countKind(summary.Errors, "delete"))
	l.emit(ctx, summary)
	return summary, nil
}

// AddFeatures submits a single adds list.
func (l *FeatureLayer) AddFeatures(ctx context.Context, features []esri.Feature, opts EditOptions) (*EditSummary, error) {
	return l.ApplyEdits(ctx, features, nil, nil, opts)
}

// UpdateFeatures submits a single updates list.
func (l *FeatureLayer) UpdateFeatures(ctx context.Context, features []esri.Feature, opts EditOptions) (*EditSummary, error) {
	return l.ApplyEdits(ctx, nil, features, nil, opts)
}

// DeleteFeatures deletes rows by object id.
func (l *FeatureLayer) DeleteFeatures(ctx context.Context, oids []int64, opts EditOptions) (*EditSummary, error) {
	return l.ApplyEdits(ctx, nil, nil, oids, opts)
}

// DeleteWhere deletes every row matching the predicate via the dedicated
// delete endpoint.
func (l *FeatureLayer) DeleteWhere(ctx context.Context, where string, opts EditOptions) (*EditSummary, error) {
	if strings.TrimSpace(where) == "" {
		return nil, fmt.Errorf("service: delete by predicate requires a where clause")
	}
	return l.deleteMatching(ctx, where, nil, opts)
}

// DeleteIntersecting deletes every row whose geometry intersects the given
// filter geometry.
func (l *FeatureLayer) DeleteIntersecting(ctx context.Context, g *geometry.Geometry, opts EditOptions) (*EditSummary, error) {
	if g == nil {
		return nil, fmt.Errorf("service: delete by geometry requires a filter geometry")
	}
	return l.deleteMatching(ctx, "", g, opts)
}

func (l *FeatureLayer) deleteMatching(ctx context.Context, where string, g *geometry.Geometry, opts EditOptions) (*EditSummary, error) {
	params := request.Params{
		"rollbackOnFailure": opts.rollback(),
	}
	if where != "" {
		params["where"] = where
	}
	if g != nil {
		params["geometry"] = g
		params["spatialRel"] = "esriSpatialRelIntersects"
	}
	if opts.GDBVersion != "" {
		params["gdbVersion"] = opts.GDBVersion
	}
	var resp esri.EditResponse
	if err := l.post(ctx, l.url+"/deleteFeatures", params, &resp); err != nil {
		return nil, err
	}
	summary := summarize(&resp)
	observability.IncEditRows("delete", len(summary.Deleted), countKind(summary.Errors, "delete"))
	l.emit(ctx, summary)
	return summary, nil
}

func (l *FeatureLayer) emit(ctx context.Context, s *EditSummary) {
	ev := events.EditEvent{
		LayerURL:  l.url,
		Adds:      len(s.Added),
		Updates:   len(s.Updated),
		Deletes:   len(s.Deleted),
		Failures:  len(s.Errors),
		ObjectIDs: append(append(append([]int64{}, s.Added...), s.Updated...), s.Deleted...),
		TS:        time.Now().UTC(),
	}
	if err := l.sink.Publish(ctx, ev); err != nil {
		l.log.Warn().Err(err).Str("layer", l.url).Msg("edit event dropped")
	}
}

// prepareAdds copies the add features without the object id field and,
// when asked, fills in missing global ids.
func (l *FeatureLayer) prepareAdds(adds []esri.Feature, useGlobalIDs bool) []map[string]any {
	oidField := l.OIDFieldName()
	gidField := l.GlobalIDFieldName()
	docs := make([]map[string]any, len(adds))
	for i, f := range adds {
		attrs := make(map[string]any, len(f.Attributes))
		for k, v := range f.Attributes {
			if oidField != "" && strings.EqualFold(k, oidField) {
				continue
			}
			attrs[k] = v
		}
		if useGlobalIDs && gidField != "" {
			if _, ok := attrs[gidField]; !ok {
				attrs[gidField] = "{" + strings.ToUpper(uuid.NewString()) + "}"
			}
		}
		doc := map[string]any{"attributes": attrs}
		if f.Geometry != nil {
			doc["geometry"] = f.Geometry
		}
		docs[i] = doc
	}
	return docs
}

func featureDocs(features []esri.Feature) []map[string]any {
	docs := make([]map[string]any, len(features))
	for i, f := range features {
		doc := map[string]any{"attributes": f.Attributes}
		if f.Geometry != nil {
			doc["geometry"] = f.Geometry
		}
		docs[i] = doc
	}
	return docs
}

func summarize(resp *esri.EditResponse) *EditSummary {
	s := &EditSummary{}
	collect := func(kind string, results []esri.EditResult, into *[]int64) {
		for i, r := range results {
			if r.Success {
				*into = append(*into, r.ObjectID)
				continue
			}
			re := RowError{Kind: kind, Index: i, ObjectID: r.ObjectID}
			if r.Error != nil {
				re.Code = r.Error.Code
				re.Description = r.Error.Description
			}
			s.Errors = append(s.Errors, re)
		}
	}
	collect("add", resp.AddResults, &s.Added)
	collect("update", resp.UpdateResults, &s.Updated)
	collect("delete", resp.DeleteResults, &s.Deleted)
	return s
}

func countKind(errs []RowError, kind string) int {
	n := 0
	for _, e := range errs {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Attachments lists the attachments of a feature.
func (l *FeatureLayer) Attachments(ctx context.Context, oid int64) ([]esri.AttachmentInfo, error) {
	var resp struct {
		AttachmentInfos []esri.AttachmentInfo `json:"attachmentInfos"`
	}
	u := l.url + "/" + strconv.FormatInt(oid, 10) + "/attachments"
	if err := l.post(ctx, u, nil, &resp); err != nil {
		return nil, err
	}
	return resp.AttachmentInfos, nil
}

// AddAttachment uploads a file as a new attachment of the feature and
// returns the assigned attachment id.
func (l *FeatureLayer) AddAttachment(ctx context.Context, oid int64, upload request.Upload, gdbVersion string) (*esri.AttachmentResult, error) {
	if !l.info.HasAttachments {
		return nil, fmt.Errorf("service: layer %s does not support attachments", l.url)
	}
	if upload.FieldName == "" {
		upload.FieldName = "attachment"
	}
	params := request.Params{}
	if gdbVersion != "" {
		params["gdbVersion"] = gdbVersion
	}
	var resp struct {
		Result esri.AttachmentResult `json:"addAttachmentResult"`
	}
	u := l.url + "/" + strconv.FormatInt(oid, 10) + "/addAttachment"
	if err := l.client.PostMultipart(ctx, u, params, upload, &resp, l.opts...); err != nil {
		return nil, err
	}
	if !resp.Result.Success && resp.Result.Error != nil {
		return &resp.Result, fmt.Errorf("service: add attachment: code %d: %s", resp.Result.Error.Code, resp.Result.Error.Description)
	}
	return &resp.Result, nil
}

// UpdateAttachment replaces an existing attachment's content.
func (l *FeatureLayer) UpdateAttachment(ctx context.Context, oid, attachmentID int64, upload request.Upload) (*esri.AttachmentResult, error) {
	if upload.FieldName == "" {
		upload.FieldName = "attachment"
	}
	params := request.Params{"attachmentId": attachmentID}
	var resp struct {
		Result esri.AttachmentResult `json:"updateAttachmentResult"`
	}
	u := l.url + "/" + strconv.FormatInt(oid, 10) + "/updateAttachment"
	if err := l.client.PostMultipart(ctx, u, params, upload, &resp, l.opts...); err != nil {
		return nil, err
	}
	if !resp.Result.Success && resp.Result.Error != nil {
		return &resp.Result, fmt.Errorf("service: update attachment: code %d: %s", resp.Result.Error.Code, resp.Result.Error.Description)
	}
	return &resp.Result, nil
}

// DeleteAttachments removes attachments by id.
func (l *FeatureLayer) DeleteAttachments(ctx context.Context, oid int64, attachmentIDs []int64) ([]esri.AttachmentResult, error) {
	var resp struct {
		Results []esri.AttachmentResult `json:"deleteAttachmentResults"`
	}
	u := l.url + "/" + strconv.FormatInt(oid, 10) + "/deleteAttachments"
	params := request.Params{"attachmentIds": joinIDs(attachmentIDs)}
	if err := l.post(ctx, u, params, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}
