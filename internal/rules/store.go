// Package rules holds the authoritative automation rule catalog and the
// engine that evaluates it against incoming readings. Store and Engine share
// one mutex: an evaluation pass and a management operation never interleave,
// so per-condition timestamps are never torn.
package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"iot-systemv1/internal/model"
)

// Store is the in-memory rule map plus its on-disk JSON snapshot. Every
// successful mutation rewrites the snapshot in full before returning, so an
// acknowledged mutation survives a restart.
type Store struct {
	mu    sync.Mutex
	path  string
	rules map[string]*model.Rule

	now func() time.Time
}

// NewStore creates a Store persisting to path. No disk access happens until
// Load or the first mutation.
func NewStore(path string) *Store {
	return &Store{
		path:  path,
		rules: make(map[string]*model.Rule),
		now:   time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Load reads the snapshot file. A missing file is created empty; an empty or
// unreadable file leaves the store empty. Load never fails startup; the
// fault is logged and the engine comes up with no rules.
func (s *Store) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("[rules] %s not found, creating empty snapshot", s.path)
		if werr := s.saveLocked(); werr != nil {
			log.Printf("[rules] create snapshot: %v", werr)
		}
		return
	}
	if err != nil {
		log.Printf("[rules] read %s: %v, starting with empty rule set", s.path, err)
		return
	}
	if len(data) == 0 {
		log.Printf("[rules] %s is empty, starting with empty rule set", s.path)
		return
	}

	var loaded map[string]*model.Rule
	if err := json.Unmarshal(data, &loaded); err != nil {
		log.Printf("[rules] parse %s: %v, starting with empty rule set", s.path, err)
		return
	}

	now := s.now()
	for id, r := range loaded {
		if r == nil || id == "" {
			continue
		}
		r.ID = id
		r.ResetState(now)
		s.rules[id] = r
	}
	log.Printf("[rules] loaded %d rules from %s", len(s.rules), s.path)
}

// Create inserts a rule with freshly initialized condition state. An existing
// id is overwritten wholesale; see DESIGN.md.
func (s *Store) Create(r *model.Rule) error {
	if r == nil || r.ID == "" {
		return fmt.Errorf("rule missing id_regra")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r.ResetState(s.now())
	s.rules[r.ID] = r
	if err := s.saveLocked(); err != nil {
		return err
	}
	log.Printf("[rules] created rule %s (%d total)", r.ID, len(s.rules))
	return nil
}

// Update merges the incoming rule into an existing one (provided condition
// and action lists replace their counterparts) and resets condition state.
// An unknown id falls through to create.
func (s *Store) Update(r *model.Rule) error {
	if r == nil || r.ID == "" {
		return fmt.Errorf("rule missing id_regra")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.rules[r.ID]
	if !ok {
		r.ResetState(s.now())
		s.rules[r.ID] = r
		if err := s.saveLocked(); err != nil {
			return err
		}
		log.Printf("[rules] rule %s not found on update, created", r.ID)
		return nil
	}

	if r.Condition != nil {
		existing.Condition = r.Condition
	}
	if r.Then != nil {
		existing.Then = r.Then
	}
	if r.Else != nil {
		existing.Else = r.Else
	}
	existing.ResetState(s.now())

	if err := s.saveLocked(); err != nil {
		return err
	}
	log.Printf("[rules] updated rule %s", r.ID)
	return nil
}

// Delete removes a rule. Deleting an unknown id is a no-op (idempotent at the
// acknowledgment level) and does not rewrite the snapshot.
func (s *Store) Delete(id string) error {
	if id == "" {
		return fmt.Errorf("rule missing id_regra")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[id]; !ok {
		log.Printf("[rules] rule %s not found for delete", id)
		return nil
	}
	delete(s.rules, id)
	if err := s.saveLocked(); err != nil {
		return err
	}
	log.Printf("[rules] deleted rule %s (%d remain)", id, len(s.rules))
	return nil
}

// List returns deep copies of all rules, sorted by id. Safe to serialize;
// engine-private fields are excluded by their json tags.
func (s *Store) List() []*model.Rule {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of rules.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rules)
}

// saveLocked writes the full snapshot. Called with s.mu held, so a snapshot
// is always ordered after the mutation that produced it. The write goes
// through a temp file + rename so a crash mid-write never leaves a torn file.
func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.rules, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}
