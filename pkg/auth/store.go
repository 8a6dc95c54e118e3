package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// TokenStore persists tokens keyed by normalized domain. Stores never see
// credentials; they hold only replaceable tokens.
type TokenStore interface {
	Get(ctx context.Context, domain string) (Token, bool, error)
	Put(ctx context.Context, domain string, tok Token) error
	Delete(ctx context.Context, domain string) error
}

// storeKey builds the store key for a domain: a sanitized readable prefix
// plus a hash of the exact domain, so near-identical domains never collide.
func storeKey(domain string) string {
	sum := xxhash.Sum64String(domain)
	return fmt.Sprintf("arcrest:token:%s:%016x", sanitizeDomain(domain), sum)
}

func sanitizeDomain(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := r
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_':
		case r >= 'A' && r <= 'Z':
			out = r + ('a' - 'A')
		default:
			out = '-'
		}
		if out == '-' && prev == '-' {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	const maxLen = 120
	key := b.String()
	if len(key) > maxLen {
		key = key[:maxLen]
	}
	return key
}

// MemoryStore is the default in-process store: a bounded LRU so abandoned
// domains age out.
type MemoryStore struct {
	mu    sync.Mutex
	cache *lru.Cache[string, Token]
}

const defaultMemoryStoreSize = 128

func NewMemoryStore(size int) (*MemoryStore, error) {
	if size <= 0 {
		size = defaultMemoryStoreSize
	}
	c, err := lru.New[string, Token](size)
	if err != nil {
		return nil, fmt.Errorf("token store: %w", err)
	}
	return &MemoryStore{cache: c}, nil
}

func (s *MemoryStore) Get(_ context.Context, domain string) (Token, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.cache.Get(storeKey(domain))
	return tok, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, domain string, tok Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Add(storeKey(domain), tok)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(storeKey(domain))
	return nil
}
