package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/geodrift/arcrest/pkg/esri"
)

// ArcServer is the catalog root of a REST services directory.
type ArcServer struct {
	base
	info esri.CatalogInfo
}

func NewArcServer(ctx context.Context, rawURL string, opts ...Option) (*ArcServer, error) {
	b, err := newBase(rawURL, opts...)
	if err != nil {
		return nil, err
	}
	s := &ArcServer{base: b}
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Refresh re-fetches the catalog document.
func (s *ArcServer) Refresh(ctx context.Context) error {
	var info esri.CatalogInfo
	if err := s.post(ctx, s.url, nil, &info); err != nil {
		return err
	}
	s.info = info
	s.version = info.CurrentVersion
	return nil
}

func (s *ArcServer) Info() esri.CatalogInfo { return s.info }

func (s *ArcServer) Folders() []string { return s.info.Folders }

func (s *ArcServer) Services() []esri.ServiceRef { return s.info.Services }

// Folder opens a named subfolder of the catalog.
func (s *ArcServer) Folder(ctx context.Context, name string) (*Folder, error) {
	f := &Folder{base: s.base, name: name}
	f.url = s.url + "/" + name
	var info esri.CatalogInfo
	if err := f.post(ctx, f.url, nil, &info); err != nil {
		return nil, err
	}
	f.info = info
	f.version = info.CurrentVersion
	return f, nil
}

// ServiceURL resolves a service name, or a *-wildcard over qualified names,
// to its full endpoint URL. The root listing is searched first, then every
// folder.
func (s *ArcServer) ServiceURL(ctx context.Context, nameOrWildcard string) (string, error) {
	if u, ok := findService(s.url, s.info.Services, nameOrWildcard); ok {
		return u, nil
	}
	for _, folder := range s.info.Folders {
		f, err := s.Folder(ctx, folder)
		if err != nil {
			return "", err
		}
		if u, ok := findService(s.url, f.info.Services, nameOrWildcard); ok {
			return u, nil
		}
	}
	return "", fmt.Errorf("service: no service matches %q under %s", nameOrWildcard, s.url)
}

// findService matches against both the bare and the folder-qualified name.
// Listed names may already carry their folder prefix.
func findService(root string, services []esri.ServiceRef, pattern string) (string, bool) {
	for _, ref := range services {
		bare := ref.Name
		if i := strings.LastIndex(bare, "/"); i >= 0 {
			bare = bare[i+1:]
		}
		qualified := ref.Name + "/" + ref.Type
		if matchName(pattern, ref.Name) || matchName(pattern, bare) || matchName(pattern, qualified) {
			return root + "/" + ref.Name + "/" + ref.Type, true
		}
	}
	return "", false
}

// MapService resolves a name or wildcard and opens the map service.
func (s *ArcServer) MapService(ctx context.Context, nameOrWildcard string) (*MapService, error) {
	u, err := s.ServiceURL(ctx, nameOrWildcard)
	if err != nil {
		return nil, err
	}
	ms := &MapService{}
	ms.base = s.base
	ms.url = u
	if err := ms.Refresh(ctx); err != nil {
		return nil, err
	}
	return ms, nil
}

// FeatureService resolves a name or wildcard and opens the feature service.
func (s *ArcServer) FeatureService(ctx context.Context, nameOrWildcard string) (*FeatureService, error) {
	u, err := s.ServiceURL(ctx, nameOrWildcard)
	if err != nil {
		return nil, err
	}
	fs := &FeatureService{}
	fs.base = s.base
	fs.url = u
	if err := fs.Refresh(ctx); err != nil {
		return nil, err
	}
	return fs, nil
}

// Folder is a subdirectory of the catalog.
type Folder struct {
	base
	name string
	info esri.CatalogInfo
}

func (f *Folder) Name() string { return f.name }

func (f *Folder) Services() []esri.ServiceRef { return f.info.Services }
