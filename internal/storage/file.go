package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"giftbot/internal/participant"
	logx "giftbot/pkg/logx"
)

// fileStore is the memory driver persisted to disk.
//
// Files:
//   - <prefix>.snapshot.json (participants, rewritten after each mutation)
//   - <prefix>.audit.jsonl   (append-only JSON Lines)
type fileStore struct {
	*Memory
	log logx.Logger

	snapshotPath string

	auditMu   sync.Mutex
	auditFile *os.File
}

type fileRecord struct {
	ID           int64     `json:"id"`
	TelegramID   int64     `json:"telegram_id"`
	FullName     string    `json:"full_name"`
	Birthday     string    `json:"birthday,omitempty"`
	Wish         string    `json:"wish,omitempty"`
	IsAdmin      bool      `json:"is_admin"`
	WardID       int64     `json:"ward_id,omitempty"`
	GiverID      int64     `json:"giver_id,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

type fileSnapshot struct {
	NextID int64        `json:"next_id"`
	Users  []fileRecord `json:"users"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{Memory: NewMemory(), log: log, snapshotPath: prefix + ".snapshot.json"}
	if err := s.load(); err != nil {
		return nil, err
	}
	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.auditFile = af
	s.Memory.onChange = s.save
	log.Info("file store opened", logx.String("snapshot", s.snapshotPath), logx.Int("participants", len(s.Memory.byID)))
	return s, nil
}

func (s *fileStore) load() error {
	b, err := os.ReadFile(s.snapshotPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var snap fileSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return fmt.Errorf("decode %s: %w", s.snapshotPath, err)
	}
	for _, r := range snap.Users {
		var bday participant.Date
		if r.Birthday != "" {
			if bday, err = participant.ParseStorageDate(r.Birthday); err != nil {
				return fmt.Errorf("user %d: %w", r.ID, err)
			}
		}
		s.Memory.byID[r.ID] = participant.Participant{
			ID: r.ID, ExternalID: r.TelegramID, Name: r.FullName, Birthday: bday, Wish: r.Wish,
			IsAdmin: r.IsAdmin, WardID: r.WardID, GiverID: r.GiverID, RegisteredAt: r.RegisteredAt,
		}
		if r.ID >= s.Memory.nextID {
			s.Memory.nextID = r.ID + 1
		}
	}
	if snap.NextID > s.Memory.nextID {
		s.Memory.nextID = snap.NextID
	}
	return nil
}

// save runs under Memory.mu.
func (s *fileStore) save() error {
	snap := fileSnapshot{NextID: s.Memory.nextID, Users: make([]fileRecord, 0, len(s.Memory.byID))}
	for _, p := range s.Memory.byID {
		snap.Users = append(snap.Users, fileRecord{
			ID: p.ID, TelegramID: p.ExternalID, FullName: p.Name, Birthday: p.Birthday.StorageString(),
			Wish: p.Wish, IsAdmin: p.IsAdmin, WardID: p.WardID, GiverID: p.GiverID, RegisteredAt: p.RegisteredAt,
		})
	}
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.snapshotPath)
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	s.auditMu.Lock()
	defer s.auditMu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) Close() error {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}
