// Package requests tracks friend and group requests waiting for the owner's
// decision, and parses the owner's approve/reject commands.
package requests

import (
	"sort"
	"sync"
	"time"
)

const DefaultTTL = 24 * time.Hour

type Kind string

const (
	KindFriend Kind = "friend"
	KindGroup  Kind = "group"
)

// Request is a social request awaiting a decision. Flag is the gateway's
// opaque handle and is needed to answer it.
type Request struct {
	Flag      string    `json:"flag"`
	Kind      Kind      `json:"kind"`
	SubType   string    `json:"sub_type,omitempty"`
	UserID    int64     `json:"user_id"`
	GroupID   int64     `json:"group_id,omitempty"`
	Comment   string    `json:"comment,omitempty"`
	Account   string    `json:"account,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is safe for concurrent use. Every read path drops entries older than
// the TTL first, so callers never see expired requests.
type Store struct {
	mu    sync.Mutex
	items map[string]Request
	ttl   time.Duration
	now   func() time.Time
}

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		items: make(map[string]Request),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Add records req, replacing any entry with the same flag.
func (s *Store) Add(req Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = s.now()
	}
	s.items[req.Flag] = req
}

func (s *Store) Get(flag string) (Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()
	req, ok := s.items[flag]
	return req, ok
}

// Claim removes and returns the request so only one resolver can act on it.
func (s *Store) Claim(flag string) (Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()
	req, ok := s.items[flag]
	if ok {
		delete(s.items, flag)
	}
	return req, ok
}

// Restore puts back a claimed request whose resolution failed. It does not
// overwrite a newer entry for the same flag and drops already-expired ones.
func (s *Store) Restore(req Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired(req) {
		return
	}
	if _, exists := s.items[req.Flag]; exists {
		return
	}
	s.items[req.Flag] = req
}

func (s *Store) Remove(flag string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[flag]
	delete(s.items, flag)
	return ok
}

// List returns live requests, oldest first.
func (s *Store) List() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()
	out := make([]Request, 0, len(s.items))
	for _, req := range s.items {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Flag < out[j].Flag
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()
	return len(s.items)
}

// Purge drops expired entries and returns how many were removed.
func (s *Store) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purgeLocked()
}

func (s *Store) purgeLocked() int {
	removed := 0
	for flag, req := range s.items {
		if s.expired(req) {
			delete(s.items, flag)
			removed++
		}
	}
	return removed
}

func (s *Store) expired(req Request) bool {
	return s.now().Sub(req.CreatedAt) > s.ttl
}
