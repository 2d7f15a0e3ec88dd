package models

import (
	"fmt"
	"time"
)

const (
	DueDateLayout = "2006-01-02"
	DueTimeLayout = "15:04"
)

// Task is a unit of milestone work owned by a team, optionally assigned to
// one of its members.
type Task struct {
	ID          uint        `gorm:"primaryKey" json:"id"`
	TeamID      uint        `gorm:"index;not null" json:"team_id"`
	AssigneeID  *uint       `gorm:"index" json:"assignee_id"`
	Category    string      `gorm:"size:50;index;not null" json:"category"`
	Title       string      `gorm:"size:300;not null" json:"title"`
	Status      TaskStatus  `gorm:"size:20;index;default:todo" json:"status"`
	Revision    int         `gorm:"not null;default:0" json:"revision"`
	DueDate     *string     `gorm:"size:10" json:"due_date"`
	DueTime     *string     `gorm:"size:5" json:"due_time"`
	TaskManager TaskManager `gorm:"size:20;not null" json:"task_manager"`
	CompletedAt *time.Time  `json:"completed_at"`
	CreatedBy   uint        `json:"created_by"`
	Version     uint        `gorm:"not null;default:1" json:"version"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

func (Task) TableName() string { return "tasks" }

// DueAt resolves the stored date and time in loc. A date without a time is
// due at the end of that day.
func (t *Task) DueAt(loc *time.Location) (time.Time, bool) {
	if t.DueDate == nil || *t.DueDate == "" {
		return time.Time{}, false
	}
	day, err := time.ParseInLocation(DueDateLayout, *t.DueDate, loc)
	if err != nil {
		return time.Time{}, false
	}
	if t.DueTime == nil || *t.DueTime == "" {
		return day.Add(24*time.Hour - time.Second), true
	}
	clock, err := time.Parse(DueTimeLayout, *t.DueTime)
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, loc), true
}

// Overdue reports whether the sweep should move the task to missed.
func (t *Task) Overdue(now time.Time, loc *time.Location) bool {
	if t.Status.Terminal() {
		return false
	}
	due, ok := t.DueAt(loc)
	return ok && now.After(due)
}

// HasFullSchedule is true once both the due date and the due time are set.
func (t *Task) HasFullSchedule() bool {
	return t.DueDate != nil && *t.DueDate != "" && t.DueTime != nil && *t.DueTime != ""
}

func (t *Task) RevisionLabel() string { return RevisionLabel(t.Revision) }

// RevisionLabel renders a revision counter: "No Revision", "1st Revision", ...
func RevisionLabel(n int) string {
	if n <= 0 {
		return "No Revision"
	}
	if n > 10 {
		n = 10
	}
	return fmt.Sprintf("%d%s Revision", n, ordinalSuffix(n))
}

func ordinalSuffix(n int) string {
	if n%100 >= 11 && n%100 <= 13 {
		return "th"
	}
	switch n % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	}
	return "th"
}
