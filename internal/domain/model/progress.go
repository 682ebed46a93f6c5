package model

import (
	"errors"
	"strings"
	"time"
)

// LessonCompletion is a lesson-completed event for one user.
type LessonCompletion struct {
	UserID      string    `json:"user_id"      db:"user_id"`
	LessonID    string    `json:"lesson_id"    db:"lesson_id"`
	ModuleID    string    `json:"module_id"    db:"module_id"`
	XP          int       `json:"xp"           db:"xp"`
	CompletedAt time.Time `json:"completed_at" db:"completed_at"`
}

// Validate validates a LessonCompletion.
func (c *LessonCompletion) Validate() error {
	c.UserID = strings.TrimSpace(c.UserID)
	c.LessonID = strings.TrimSpace(c.LessonID)
	c.ModuleID = strings.TrimSpace(c.ModuleID)
	if c.UserID == "" {
		return errors.New("user_id is required")
	}
	if c.LessonID == "" {
		return errors.New("lesson_id is required")
	}
	if c.ModuleID == "" {
		return errors.New("module_id is required")
	}
	if c.XP < 0 {
		return errors.New("xp must be >= 0")
	}
	if c.CompletedAt.IsZero() {
		return errors.New("completed_at is required")
	}
	return nil
}

// ModuleProgress counts completed lessons of one module for a user.
type ModuleProgress struct {
	ModuleID         string `json:"module_id"         db:"module_id"`
	LessonsCompleted int    `json:"lessons_completed" db:"lessons_completed"`
}

// Streak is the streak portion of a profile.
type Streak struct {
	Current        int
	Longest        int
	LastActivityOn *time.Time
}

// CivilDate truncates t to its UTC calendar day.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Advance applies activity on the given day. Activity on the same day as the last
// activity, or on an earlier day, leaves the streak unchanged; the next day extends
// it; any later gap restarts it at one.
func (s Streak) Advance(at time.Time) Streak {
	day := CivilDate(at)
	next := s

	switch {
	case s.LastActivityOn == nil || s.Current == 0:
		next.Current = 1
	default:
		last := CivilDate(*s.LastActivityOn)
		switch {
		case !day.After(last):
			return s
		case day.Equal(last.AddDate(0, 0, 1)):
			next.Current = s.Current + 1
		default:
			next.Current = 1
		}
	}

	if next.Current > next.Longest {
		next.Longest = next.Current
	}
	next.LastActivityOn = &day
	return next
}
