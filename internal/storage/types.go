package storage

import (
	"context"
	"errors"
	"time"

	"giftbot/internal/participant"
)

var (
	ErrNotFound      = errors.New("participant not found")
	ErrAlreadyExists = errors.New("participant already registered")
	ErrSelfPairing   = errors.New("participant cannot be their own ward")
)

// Config configures storage.
type Config struct {
	Driver      string
	Path        string        // sqlite database file, or file driver snapshot
	DSN         string        // postgres connection string
	BusyTimeout time.Duration // sqlite only
	MinConns    int32         // postgres only
	MaxConns    int32         // postgres only
}

// AuditEntry records one admin action.
type AuditEntry struct {
	At      time.Time `json:"at"`
	ActorID int64     `json:"actor_id"`
	Action  string    `json:"action"`
	Target  string    `json:"target"`
	OK      bool      `json:"ok"`
	Error   string    `json:"error,omitempty"`
}

// Store is the participant persistence API.
//
// Lookups return (value, ok, err); ok is false with a nil err when the record
// does not exist. Mutations of a missing record return ErrNotFound.
type Store interface {
	GetByID(ctx context.Context, id int64) (participant.Participant, bool, error)
	GetByExternalID(ctx context.Context, externalID int64) (participant.Participant, bool, error)
	// FindByName matches the trimmed name exactly.
	FindByName(ctx context.Context, name string) ([]participant.Participant, error)
	ListAll(ctx context.Context) ([]participant.Participant, error)
	// ListWithGiver returns participants that currently have a giver.
	ListWithGiver(ctx context.Context) ([]participant.Participant, error)

	Create(ctx context.Context, p participant.Participant) (participant.Participant, error)
	Update(ctx context.Context, id int64, patch participant.Patch) (participant.Participant, error)
	// Delete removes the participant and clears edges pointing at it.
	Delete(ctx context.Context, id int64) error

	// SetPairingEdge writes giver.ward = ward and ward.giver = giver, and
	// detaches whatever previously pointed at either side.
	SetPairingEdge(ctx context.Context, giverID, wardID int64) error
	// ApplyPairing replaces every edge with the giver->ward map.
	ApplyPairing(ctx context.Context, ward map[int64]int64) error
	// ClearEdges detaches id from its ward and its giver.
	ClearEdges(ctx context.Context, id int64) error
	ClearAllEdges(ctx context.Context) error

	AppendAudit(ctx context.Context, e AuditEntry) error
	Ping(ctx context.Context) error
	Close() error
}

// checkPairing validates an ApplyPairing map against the known ids.
func checkPairing(ward map[int64]int64, exists func(int64) bool) error {
	for g, w := range ward {
		if g == w {
			return ErrSelfPairing
		}
		if !exists(g) || !exists(w) {
			return ErrNotFound
		}
	}
	return nil
}
