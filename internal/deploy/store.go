package deploy

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Store keeps deployments in memory for the lifetime of the process.
type Store struct {
	mu          sync.RWMutex
	deployments map[string]*Deployment
	order       []string
	opts        options
}

func NewStore(opts ...Option) *Store {
	return &Store{
		deployments: make(map[string]*Deployment),
		opts:        buildOptions(opts),
	}
}

func (s *Store) Create(botID string, config map[string]any) (*Deployment, error) {
	d := New(botID, config)

	s.mu.Lock()
	for {
		if _, taken := s.deployments[d.ID]; !taken {
			break
		}
		d.ID = uuid.NewString()
	}
	s.deployments[d.ID] = d
	s.order = append(s.order, d.ID)
	snapshot := d.Clone()
	s.mu.Unlock()

	return snapshot, nil
}

func (s *Store) Get(id string) (*Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deployments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return d.Clone(), nil
}

func (s *Store) AppendLog(id, message string) {
	s.mu.Lock()
	d, ok := s.deployments[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	u := d.appendLog(message)
	s.mu.Unlock()

	s.opts.notify(u)
}

func (s *Store) SetStatus(id string, status Status) {
	s.mu.Lock()
	d, ok := s.deployments[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	u, changed := d.setStatus(status)
	s.mu.Unlock()

	if changed {
		s.opts.notify(u)
	}
}

func (s *Store) Finish(id string, status Status, message string) bool {
	s.mu.Lock()
	d, ok := s.deployments[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	updates, changed := d.finish(status, message)
	s.mu.Unlock()

	s.opts.notify(updates...)
	return changed
}

// List returns snapshots of all deployments, oldest first.
func (s *Store) List() ([]*Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Deployment, 0, len(s.order))
	for _, id := range s.order {
		result = append(result, s.deployments[id].Clone())
	}
	return result, nil
}
