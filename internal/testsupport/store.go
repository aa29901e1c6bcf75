package testsupport

import (
	"context"
	"errors"
	"sync"

	"vitalsreport/internal/cachestore"
	"vitalsreport/internal/report"
)

// ErrInjected is returned by FaultyStore operations set to fail.
var ErrInjected = errors.New("injected store failure")

// FaultyStore wraps a Store and fails selected operations.
type FaultyStore struct {
	cachestore.Store

	mu      sync.Mutex
	failGet bool
	failPut bool
	clears  int
	puts    int
}

func NewFaultyStore(inner cachestore.Store) *FaultyStore {
	return &FaultyStore{Store: inner}
}

// FailGet makes payload reads fail.
func (s *FaultyStore) FailGet(fail bool) {
	s.mu.Lock()
	s.failGet = fail
	s.mu.Unlock()
}

// FailPut makes writes fail.
func (s *FaultyStore) FailPut(fail bool) {
	s.mu.Lock()
	s.failPut = fail
	s.mu.Unlock()
}

func (s *FaultyStore) Get(ctx context.Context, view, shape string, keys []cachestore.Key) ([]report.Row, error) {
	s.mu.Lock()
	fail := s.failGet
	s.mu.Unlock()
	if fail {
		return nil, errors.Join(report.ErrCacheRead, ErrInjected)
	}
	return s.Store.Get(ctx, view, shape, keys)
}

func (s *FaultyStore) Put(ctx context.Context, view, shape string, entries []cachestore.Entry) error {
	s.mu.Lock()
	s.puts++
	fail := s.failPut
	s.mu.Unlock()
	if fail {
		return errors.Join(report.ErrCacheWrite, ErrInjected)
	}
	return s.Store.Put(ctx, view, shape, entries)
}

func (s *FaultyStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.clears++
	s.mu.Unlock()
	return s.Store.Clear(ctx)
}

// Clears returns how many times Clear was called.
func (s *FaultyStore) Clears() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clears
}

// Puts returns how many times Put was called.
func (s *FaultyStore) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}
