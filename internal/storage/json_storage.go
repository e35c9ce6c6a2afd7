package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"presence-agent/internal/core/domain"
)

// JSONStorage keeps everything in one JSON file rewritten on each change.
type JSONStorage struct {
	FilePath string
	mu       sync.RWMutex
	Data     StorageData
}

type StorageData struct {
	Memories     map[string]domain.LocalMemory `json:"memories"`
	Rooms        map[string]bool               `json:"rooms"`
	Participants map[string][]string           `json:"participants"`
	Accounts     map[string]domain.Connection  `json:"accounts"`
	KV           map[string]string             `json:"kv"`
}

func NewJSONStorage(filePath string) (*JSONStorage, error) {
	s := &JSONStorage{
		FilePath: filePath,
		Data: StorageData{
			Memories:     make(map[string]domain.LocalMemory),
			Rooms:        make(map[string]bool),
			Participants: make(map[string][]string),
			Accounts:     make(map[string]domain.Connection),
			KV:           make(map[string]string),
		},
	}
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	if err := s.loadFromFile(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return s, nil
}

var _ Backend = (*JSONStorage)(nil)

func (s *JSONStorage) loadFromFile() error {
	file, err := os.ReadFile(s.FilePath)
	if err != nil {
		return err
	}
	return json.Unmarshal(file, &s.Data)
}

// saveToFile writes through a temp file so a crash never leaves a torn file.
func (s *JSONStorage) saveToFile() error {
	data, err := json.MarshalIndent(s.Data, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.FilePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.FilePath)
}

func (s *JSONStorage) Close() error { return nil }

func (s *JSONStorage) GetMemory(ctx context.Context, id string) (domain.LocalMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.Data.Memories[id]
	if !ok {
		return domain.LocalMemory{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *JSONStorage) CreateMemory(ctx context.Context, m domain.LocalMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Data.Memories[m.ID]; ok {
		return nil
	}
	s.Data.Memories[m.ID] = m
	if err := s.saveToFile(); err != nil {
		delete(s.Data.Memories, m.ID)
		return err
	}
	return nil
}

func (s *JSONStorage) RecentMemories(ctx context.Context, roomID string, limit int) ([]domain.LocalMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.LocalMemory
	for _, m := range s.Data.Memories {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *JSONStorage) EnsureRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Data.Rooms[roomID] {
		return nil
	}
	s.Data.Rooms[roomID] = true
	if err := s.saveToFile(); err != nil {
		delete(s.Data.Rooms, roomID)
		return err
	}
	return nil
}

func (s *JSONStorage) EnsureParticipant(ctx context.Context, userID, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	undo := s.snapshotRoom(roomID)
	if !s.addParticipant(userID, roomID) {
		return nil
	}
	if err := s.saveToFile(); err != nil {
		undo()
		return err
	}
	return nil
}

func (s *JSONStorage) EnsureConnection(ctx context.Context, c domain.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, hadAccount := s.Data.Accounts[c.UserID]
	undo := s.snapshotRoom(c.RoomID)
	s.Data.Accounts[c.UserID] = c
	s.addParticipant(c.UserID, c.RoomID)
	if err := s.saveToFile(); err != nil {
		undo()
		if hadAccount {
			s.Data.Accounts[c.UserID] = prev
		} else {
			delete(s.Data.Accounts, c.UserID)
		}
		return err
	}
	return nil
}

// snapshotRoom returns a func restoring roomID's membership to its current state.
func (s *JSONStorage) snapshotRoom(roomID string) func() {
	hadRoom := s.Data.Rooms[roomID]
	members, hadMembers := s.Data.Participants[roomID]
	n := len(members)
	return func() {
		if !hadRoom {
			delete(s.Data.Rooms, roomID)
		}
		if hadMembers {
			s.Data.Participants[roomID] = members[:n]
		} else {
			delete(s.Data.Participants, roomID)
		}
	}
}

func (s *JSONStorage) addParticipant(userID, roomID string) bool {
	s.Data.Rooms[roomID] = true
	for _, id := range s.Data.Participants[roomID] {
		if id == userID {
			return false
		}
	}
	s.Data.Participants[roomID] = append(s.Data.Participants[roomID], userID)
	return true
}

func (s *JSONStorage) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.Data.KV[key]
	return v, ok, nil
}

func (s *JSONStorage) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.Data.KV[key]
	s.Data.KV[key] = value
	if err := s.saveToFile(); err != nil {
		if had {
			s.Data.KV[key] = prev
		} else {
			delete(s.Data.KV, key)
		}
		return err
	}
	return nil
}
