package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// snowflake is a Discord id persisted as a JSON number. The runtime works with
// string ids throughout; state files written by other tooling may carry string
// ids, so both shapes decode.
type snowflake string

func (s snowflake) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseUint(string(s), 10, 64); err != nil {
		return json.Marshal(string(s))
	}
	return []byte(s), nil
}

func (s *snowflake) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		*s = snowflake(value)
		return nil
	}
	*s = snowflake(data)
	return nil
}

type persistentState struct {
	AuthorizedUsers []snowflake `json:"authorized_users"`
	MasterUsers     []snowflake `json:"master_users"`
	ValidKeys       []string    `json:"valid_keys"`
	DeletedMessages []string    `json:"deleted_messages"`
}

// StateFile owns the durable authorization and deleted-message state. All
// access goes through its methods; the backing file is touched by nothing
// else.
type StateFile struct {
	mu         sync.Mutex
	path       string
	deletedCap int
	dirty      bool

	authorized map[string]struct{}
	master     map[string]struct{}
	validKeys  map[string]struct{}
	deleted    []string
}

func NewStateFile(path string, deletedCap int) *StateFile {
	if deletedCap <= 0 {
		deletedCap = 500
	}
	return &StateFile{
		path:       path,
		deletedCap: deletedCap,
		authorized: make(map[string]struct{}),
		master:     make(map[string]struct{}),
		validKeys:  make(map[string]struct{}),
		deleted:    nil,
	}
}

// Load reads the backing file. A missing file is a clean start. A malformed
// file degrades to empty state and returns the parse error for logging; it
// never prevents startup.
func (s *StateFile) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read state file: %w", err)
	}

	var state persistentState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("decode state file: %w", err)
	}

	for _, id := range state.AuthorizedUsers {
		s.authorized[string(id)] = struct{}{}
	}
	for _, id := range state.MasterUsers {
		s.authorized[string(id)] = struct{}{}
		s.master[string(id)] = struct{}{}
	}
	for _, key := range state.ValidKeys {
		s.validKeys[key] = struct{}{}
	}
	s.deleted = append(s.deleted, state.DeletedMessages...)
	if len(s.deleted) > s.deletedCap {
		s.deleted = s.deleted[len(s.deleted)-s.deletedCap:]
	}
	return nil
}

// Save writes the full state through a temp file and rename so a crash mid
// write never leaves a truncated file behind. On failure the state is marked
// dirty again so the periodic flusher retries the write.
func (s *StateFile) Save() error {
	s.mu.Lock()
	state := s.snapshotLocked()
	s.dirty = false
	s.mu.Unlock()

	if err := s.write(state); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *StateFile) write(state persistentState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".keywarden-state-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

func (s *StateFile) snapshotLocked() persistentState {
	state := persistentState{
		AuthorizedUsers: make([]snowflake, 0, len(s.authorized)),
		MasterUsers:     make([]snowflake, 0, len(s.master)),
		ValidKeys:       make([]string, 0, len(s.validKeys)),
		DeletedMessages: append([]string(nil), s.deleted...),
	}
	for id := range s.authorized {
		state.AuthorizedUsers = append(state.AuthorizedUsers, snowflake(id))
	}
	for id := range s.master {
		state.MasterUsers = append(state.MasterUsers, snowflake(id))
	}
	for key := range s.validKeys {
		state.ValidKeys = append(state.ValidKeys, key)
	}
	sort.Slice(state.AuthorizedUsers, func(i, j int) bool { return state.AuthorizedUsers[i] < state.AuthorizedUsers[j] })
	sort.Slice(state.MasterUsers, func(i, j int) bool { return state.MasterUsers[i] < state.MasterUsers[j] })
	sort.Strings(state.ValidKeys)
	return state
}

// RunFlusher periodically writes dirty state as a safety net behind the
// explicit per-mutation saves. Blocks until ctx is cancelled.
func (s *StateFile) RunFlusher(ctx context.Context, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := s.SaveIfDirty(); err != nil {
				logger.Error("final state flush failed", zap.Error(err))
			}
			return
		case <-ticker.C:
			if err := s.SaveIfDirty(); err != nil {
				logger.Error("periodic state flush failed", zap.Error(err))
			}
		}
	}
}

func (s *StateFile) SaveIfDirty() error {
	s.mu.Lock()
	dirty := s.dirty
	s.mu.Unlock()
	if !dirty {
		return nil
	}
	return s.Save()
}

func (s *StateFile) Authorize(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorized[userID] = struct{}{}
	s.dirty = true
}

// GrantMaster adds the user to both sets, preserving master as a subset of
// authorized.
func (s *StateFile) GrantMaster(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorized[userID] = struct{}{}
	s.master[userID] = struct{}{}
	s.dirty = true
}

func (s *StateFile) IsAuthorized(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.authorized[userID]
	return ok
}

func (s *StateFile) IsMaster(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.master[userID]
	return ok
}

func (s *StateFile) MasterUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]string, 0, len(s.master))
	for id := range s.master {
		users = append(users, id)
	}
	sort.Strings(users)
	return users
}

func (s *StateFile) AddKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validKeys[key] = struct{}{}
	s.dirty = true
}

func (s *StateFile) HasKey(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.validKeys[key]
	return ok
}

// ConsumeKey removes the key if pending. The check and removal happen under
// one lock, so a key redeems at most once no matter how requests interleave.
func (s *StateFile) ConsumeKey(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.validKeys[key]; !ok {
		return false
	}
	delete(s.validKeys, key)
	s.dirty = true
	return true
}

func (s *StateFile) PendingKeyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.validKeys)
}

// AppendDeletedMessage records one formatted deleted-message line, evicting
// the oldest entry once the ring is full.
func (s *StateFile) AppendDeletedMessage(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, line)
	if len(s.deleted) > s.deletedCap {
		s.deleted = s.deleted[len(s.deleted)-s.deletedCap:]
	}
	s.dirty = true
}

// DeletedMessages returns up to limit entries, most recent last. limit <= 0
// returns everything.
func (s *StateFile) DeletedMessages(limit int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.deleted
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return append([]string(nil), entries...)
}
