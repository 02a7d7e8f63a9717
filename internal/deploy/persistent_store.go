package deploy

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/botdeployer/deployer/internal/db"
)

const keyPrefix = "deployments/"

const InterruptedLog = "Deployment interrupted by service restart"

// PersistentStore keeps deployments in badger so they survive restarts.
// Mutations are serialized through mu to keep read-modify-write cycles
// from conflicting inside badger.
type PersistentStore struct {
	dbStore *db.Store
	mu      sync.Mutex
	opts    options
}

func NewPersistentStore(dbStore *db.Store, opts ...Option) *PersistentStore {
	return &PersistentStore{dbStore: dbStore, opts: buildOptions(opts)}
}

func deploymentKey(id string) string {
	return keyPrefix + id
}

func (s *PersistentStore) Create(botID string, config map[string]any) (*Deployment, error) {
	d := New(botID, config)

	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal deployment: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.dbStore.Set(deploymentKey(d.ID), data); err != nil {
		return nil, fmt.Errorf("store deployment: %w", err)
	}

	return d, nil
}

func (s *PersistentStore) Get(id string) (*Deployment, error) {
	data, err := s.dbStore.Get(deploymentKey(id))
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get deployment: %w", err)
	}

	return decode(data)
}

func (s *PersistentStore) AppendLog(id, message string) {
	updates, changed, err := s.mutate(id, func(d *Deployment) ([]Update, bool) {
		return []Update{d.appendLog(message)}, true
	})
	s.publish(id, "append log", updates, changed, err)
}

func (s *PersistentStore) SetStatus(id string, status Status) {
	updates, changed, err := s.mutate(id, func(d *Deployment) ([]Update, bool) {
		u, ok := d.setStatus(status)
		return []Update{u}, ok
	})
	s.publish(id, "set status", updates, changed, err)
}

// Finish writes the terminal status and closing line in one badger transaction.
func (s *PersistentStore) Finish(id string, status Status, message string) bool {
	updates, changed, err := s.mutate(id, func(d *Deployment) ([]Update, bool) {
		return d.finish(status, message)
	})
	s.publish(id, "finish", updates, changed, err)
	return err == nil && changed
}

func (s *PersistentStore) List() ([]*Deployment, error) {
	var deployments []*Deployment
	err := s.dbStore.Scan(keyPrefix, func(key string, value []byte) error {
		d, err := decode(value)
		if err != nil {
			s.opts.logger.Warn("skipping unreadable deployment", "key", key, "error", err)
			return nil
		}
		deployments = append(deployments, d)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}

	sort.SliceStable(deployments, func(i, j int) bool {
		return deployments[i].CreatedAt.Before(deployments[j].CreatedAt)
	})
	return deployments, nil
}

// Recover marks deployments that were still initializing when the previous
// process stopped as failed. Their lifecycle runs did not survive the restart.
func (s *PersistentStore) Recover() (int, error) {
	deployments, err := s.List()
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, d := range deployments {
		if d.Status.Terminal() {
			continue
		}
		if s.Finish(d.ID, StatusFailed, InterruptedLog) {
			recovered++
		}
	}
	return recovered, nil
}

func (s *PersistentStore) mutate(id string, fn func(*Deployment) ([]Update, bool)) ([]Update, bool, error) {
	var (
		updates []Update
		changed bool
	)

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.dbStore.Update(deploymentKey(id), func(current []byte) ([]byte, error) {
		d, err := decode(current)
		if err != nil {
			return nil, err
		}
		updates, changed = fn(d)
		if !changed {
			return nil, nil
		}
		return json.Marshal(d)
	})
	return updates, changed, err
}

func (s *PersistentStore) publish(id, op string, updates []Update, changed bool, err error) {
	if errors.Is(err, db.ErrNotFound) {
		return
	}
	if err != nil {
		s.opts.logger.Error("deployment update failed", "op", op, "deployment_id", id, "error", err)
		return
	}
	if changed {
		s.opts.notify(updates...)
	}
}

func decode(data []byte) (*Deployment, error) {
	var d Deployment
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("unmarshal deployment: %w", err)
	}
	if d.Config == nil {
		d.Config = map[string]any{}
	}
	return &d, nil
}
