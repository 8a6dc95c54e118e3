package service

import (
	"context"
	"fmt"
	"strconv"

	"github.com/geodrift/arcrest/pkg/esri"
)

// MapService is a map service endpoint: typed metadata plus layer lookup by
// id or by name with wildcard support.
type MapService struct {
	base
	info esri.ServiceInfo
}

func NewMapService(ctx context.Context, rawURL string, opts ...Option) (*MapService, error) {
	b, err := newBase(rawURL, opts...)
	if err != nil {
		return nil, err
	}
	s := &MapService{base: b}
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Refresh re-fetches service metadata. Layers already opened keep their own
// documents until they refresh.
func (s *MapService) Refresh(ctx context.Context) error {
	var info esri.ServiceInfo
	if err := s.post(ctx, s.url, nil, &info); err != nil {
		return err
	}
	s.info = info
	s.version = info.CurrentVersion
	return nil
}

func (s *MapService) Info() esri.ServiceInfo { return s.info }

func (s *MapService) SpatialReference() esri.SpatialReference {
	if !s.info.SpatialReference.IsZero() {
		return s.info.SpatialReference
	}
	if s.info.FullExtent != nil {
		return s.info.FullExtent.SpatialReference
	}
	return esri.SpatialReference{}
}

// LayerURL resolves a layer name, or *-wildcard, against the service's
// layer and table listings.
func (s *MapService) LayerURL(nameOrWildcard string) (string, bool) {
	for _, refs := range [][]esri.LayerRef{s.info.Layers, s.info.Tables} {
		for _, ref := range refs {
			if matchName(nameOrWildcard, ref.Name) {
				return s.url + "/" + strconv.Itoa(ref.ID), true
			}
		}
	}
	return "", false
}

// Layer opens a layer by id.
func (s *MapService) Layer(ctx context.Context, id int) (*Layer, error) {
	return s.openLayer(ctx, s.url+"/"+strconv.Itoa(id))
}

// LayerByName opens a layer by name or wildcard.
func (s *MapService) LayerByName(ctx context.Context, nameOrWildcard string) (*Layer, error) {
	u, ok := s.LayerURL(nameOrWildcard)
	if !ok {
		return nil, fmt.Errorf("service: no layer matches %q in %s", nameOrWildcard, s.url)
	}
	return s.openLayer(ctx, u)
}

func (s *MapService) openLayer(ctx context.Context, url string) (*Layer, error) {
	l := &Layer{base: s.base}
	l.url = url
	if err := l.Refresh(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// FeatureService is a feature service endpoint; its layers are editable.
type FeatureService struct {
	MapService
}

func NewFeatureService(ctx context.Context, rawURL string, opts ...Option) (*FeatureService, error) {
	b, err := newBase(rawURL, opts...)
	if err != nil {
		return nil, err
	}
	s := &FeatureService{}
	s.base = b
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Layer opens an editable layer by id.
func (s *FeatureService) Layer(ctx context.Context, id int) (*FeatureLayer, error) {
	return s.openFeatureLayer(ctx, s.url+"/"+strconv.Itoa(id))
}

// LayerByName opens an editable layer by name or wildcard.
func (s *FeatureService) LayerByName(ctx context.Context, nameOrWildcard string) (*FeatureLayer, error) {
	u, ok := s.LayerURL(nameOrWildcard)
	if !ok {
		return nil, fmt.Errorf("service: no layer matches %q in %s", nameOrWildcard, s.url)
	}
	return s.openFeatureLayer(ctx, u)
}

func (s *FeatureService) openFeatureLayer(ctx context.Context, url string) (*FeatureLayer, error) {
	fl := &FeatureLayer{}
	fl.base = s.base
	fl.url = url
	if err := fl.Refresh(ctx); err != nil {
		return nil, err
	}
	return fl, nil
}
