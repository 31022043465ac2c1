package reminder

import (
	"fmt"
	"sort"
	"time"
	_ "time/tzdata"

	"giftbot/internal/participant"
)

// Job is one pending reminder for a giver about their ward.
type Job struct {
	GiverID int64     `json:"giver_id"`
	WardID  int64     `json:"ward_id"`
	Offset  int       `json:"offset_days"`
	At      time.Time `json:"at"`
}

// Config controls when reminders fire.
type Config struct {
	Location *time.Location
	Hour     int
	Minute   int
	// Offsets are days before the birthday, largest first.
	Offsets []int

	// RefreshSpec is the cron expression for the daily rebuild, evaluated
	// in Location.
	RefreshSpec string
	FireTimeout time.Duration
}

var DefaultOffsets = []int{21, 14, 7, 3, 1}

// normalized fills defaults and orders offsets largest first without
// duplicates.
func (c Config) normalized() Config {
	if c.Location == nil {
		c.Location = time.UTC
	}
	if len(c.Offsets) == 0 {
		c.Offsets = DefaultOffsets
	}
	seen := map[int]bool{}
	offs := make([]int, 0, len(c.Offsets))
	for _, o := range c.Offsets {
		if o < 0 || seen[o] {
			continue
		}
		seen[o] = true
		offs = append(offs, o)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(offs)))
	c.Offsets = offs
	if c.RefreshSpec == "" {
		c.RefreshSpec = "5 0 * * *"
	}
	if c.FireTimeout <= 0 {
		c.FireTimeout = 30 * time.Second
	}
	return c
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q (want HH:MM)", s)
	}
	return t.Hour(), t.Minute(), nil
}

// NextOccurrence returns the ward's next birthday on or after the calendar
// day of asOf in loc. It reports false when the birthday is unknown or its
// month/day does not exist in the candidate year.
func NextOccurrence(bday participant.Date, asOf time.Time, loc *time.Location) (participant.Date, bool) {
	today := participant.DateOf(asOf.In(loc))
	next, ok := bday.InYear(today.Year)
	if !ok {
		return participant.Date{}, false
	}
	if next.Before(today) {
		return bday.InYear(today.Year + 1)
	}
	return next, true
}

// Plan derives every reminder strictly after asOf for participants that
// have a giver. It does no I/O.
func Plan(asOf time.Time, wards []participant.Participant, cfg Config) []Job {
	cfg = cfg.normalized()
	var out []Job
	for _, w := range wards {
		if w.GiverID == 0 || w.Birthday.IsZero() {
			continue
		}
		next, ok := NextOccurrence(w.Birthday, asOf, cfg.Location)
		if !ok {
			continue
		}
		for _, off := range cfg.Offsets {
			at := next.At(cfg.Location, cfg.Hour, cfg.Minute, off)
			if !at.After(asOf) {
				continue
			}
			out = append(out, Job{GiverID: w.GiverID, WardID: w.ID, Offset: off, At: at})
		}
	}
	sortJobs(out)
	return out
}

func sortJobs(jobs []Job) {
	sort.Slice(jobs, func(i, j int) bool {
		a, b := jobs[i], jobs[j]
		if !a.At.Equal(b.At) {
			return a.At.Before(b.At)
		}
		if a.GiverID != b.GiverID {
			return a.GiverID < b.GiverID
		}
		if a.WardID != b.WardID {
			return a.WardID < b.WardID
		}
		return a.Offset > b.Offset
	})
}
