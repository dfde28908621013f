package hypothesis

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ivbacktest/core/internal/logger"
)

// storeVersion is the on-disk schema version written to every save.
const storeVersion = 1

// fileData is the JSON shape persisted to disk.
type fileData struct {
	Version    int               `json:"version"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Hypotheses []json.RawMessage `json:"hypotheses"`
	Batches    []json.RawMessage `json:"batches"`
}

// Store is the single writer for a hypothesis JSON file: every save
// takes the internal lock and rewrites the file atomically (write to
// temp, then rename), so readers observe either the prior or the new
// state, never a partial one.
type Store struct {
	mu         sync.Mutex
	path       string
	hyps       map[string]*Hypothesis
	order      []string
	batches    map[string]*Batch
	batchOrder []string
}

// NewStore opens (or initialises) a hypothesis store at path. A missing
// file is not an error; the store starts empty.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path:    path,
		hyps:    make(map[string]*Hypothesis),
		batches: make(map[string]*Batch),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading hypothesis store %s: %w", s.path, err)
	}

	var fd fileData
	if err := json.Unmarshal(b, &fd); err != nil {
		return fmt.Errorf("parsing hypothesis store %s: %w", s.path, err)
	}

	for _, raw := range fd.Hypotheses {
		var h Hypothesis
		if err := json.Unmarshal(raw, &h); err != nil {
			logger.Errorf("hypothesis store: skipping malformed hypothesis record: %v", err)
			continue
		}
		s.hyps[h.ID] = &h
		s.order = append(s.order, h.ID)
	}
	for _, raw := range fd.Batches {
		var batch Batch
		if err := json.Unmarshal(raw, &batch); err != nil {
			logger.Errorf("hypothesis store: skipping malformed batch record: %v", err)
			continue
		}
		s.batches[batch.ID] = &batch
		s.batchOrder = append(s.batchOrder, batch.ID)
	}
	return nil
}

// PutHypothesis inserts or replaces h and persists the store.
func (s *Store) PutHypothesis(h *Hypothesis) {
	s.mu.Lock()
	if _, exists := s.hyps[h.ID]; !exists {
		s.order = append(s.order, h.ID)
	}
	s.hyps[h.ID] = h
	s.mu.Unlock()

	if err := s.save(); err != nil {
		logger.Errorf("hypothesis store: save failed: %v", err)
	}
}

// GetHypothesis returns the hypothesis with id, if present.
func (s *Store) GetHypothesis(id string) (*Hypothesis, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hyps[id]
	return h, ok
}

// ListHypotheses returns every hypothesis in insertion order.
func (s *Store) ListHypotheses() []*Hypothesis {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Hypothesis, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.hyps[id])
	}
	return out
}

// ListCompleted returns every COMPLETED hypothesis in insertion order.
func (s *Store) ListCompleted() []*Hypothesis {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Hypothesis
	for _, id := range s.order {
		if h := s.hyps[id]; h.Status == StatusCompleted {
			out = append(out, h)
		}
	}
	return out
}

// LastN returns the n most recently inserted hypotheses, oldest first.
func (s *Store) LastN(n int) []*Hypothesis {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := len(s.order) - n
	if start < 0 {
		start = 0
	}
	out := make([]*Hypothesis, 0, len(s.order)-start)
	for _, id := range s.order[start:] {
		out = append(out, s.hyps[id])
	}
	return out
}

// BatchHypotheses returns the hypotheses recorded in batch id, in the
// batch's own order. Ids no longer present in the store are skipped.
func (s *Store) BatchHypotheses(batchID string) []*Hypothesis {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[batchID]
	if !ok {
		return nil
	}
	var out []*Hypothesis
	for _, id := range batch.HypothesisIDs {
		if h, ok := s.hyps[id]; ok {
			out = append(out, h)
		}
	}
	return out
}

// PutBatch inserts or replaces batch and persists the store.
func (s *Store) PutBatch(batch *Batch) {
	s.mu.Lock()
	if _, exists := s.batches[batch.ID]; !exists {
		s.batchOrder = append(s.batchOrder, batch.ID)
	}
	s.batches[batch.ID] = batch
	s.mu.Unlock()

	if err := s.save(); err != nil {
		logger.Errorf("hypothesis store: save failed: %v", err)
	}
}

// GetBatch returns the batch with id, if present.
func (s *Store) GetBatch(id string) (*Batch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	return b, ok
}

// save rewrites the store file atomically. Callers must not hold s.mu.
func (s *Store) save() error {
	s.mu.Lock()
	fd := fileData{Version: storeVersion, UpdatedAt: time.Now()}
	for _, id := range s.order {
		raw, err := json.Marshal(s.hyps[id])
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("marshal hypothesis %s: %w", id, err)
		}
		fd.Hypotheses = append(fd.Hypotheses, raw)
	}
	for _, id := range s.batchOrder {
		raw, err := json.Marshal(s.batches[id])
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("marshal batch %s: %w", id, err)
		}
		fd.Batches = append(fd.Batches, raw)
	}
	path := s.path
	s.mu.Unlock()

	b, err := json.MarshalIndent(fd, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating store directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".hypothesis-store-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
