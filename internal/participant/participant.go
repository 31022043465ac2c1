// Package participant holds the gift pool's core record types.
package participant

import (
	"strings"
	"time"
)

// Participant is one member of the gift pool.
//
// WardID and GiverID use 0 for "none". A pairing edge is always written as a
// symmetric pair: if A.WardID == B.ID then B.GiverID == A.ID.
type Participant struct {
	ID           int64
	ExternalID   int64 // telegram user id
	Name         string
	Birthday     Date
	Wish         string
	IsAdmin      bool
	WardID       int64
	GiverID      int64
	RegisteredAt time.Time
}

func (p Participant) HasWard() bool  { return p.WardID != 0 }
func (p Participant) HasGiver() bool { return p.GiverID != 0 }

// DisplayName returns the trimmed name or a placeholder for unnamed records.
func (p Participant) DisplayName() string {
	if n := strings.TrimSpace(p.Name); n != "" {
		return n
	}
	return "—"
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Name     *string
	Birthday *Date
	Wish     *string
	IsAdmin  *bool
}

func (p Patch) IsEmpty() bool {
	return p.Name == nil && p.Birthday == nil && p.Wish == nil && p.IsAdmin == nil
}

// Apply returns a copy of in with the patch fields set.
func (p Patch) Apply(in Participant) Participant {
	if p.Name != nil {
		in.Name = strings.TrimSpace(*p.Name)
	}
	if p.Birthday != nil {
		in.Birthday = *p.Birthday
	}
	if p.Wish != nil {
		in.Wish = strings.TrimSpace(*p.Wish)
	}
	if p.IsAdmin != nil {
		in.IsAdmin = *p.IsAdmin
	}
	return in
}
