package models

import "fmt"

// Role is the single role a user holds at any time.
type Role string

const (
	RoleMember         Role = "member"
	RoleProjectManager Role = "project_manager"
	RoleAdviser        Role = "adviser"
	RoleInstructor     Role = "instructor"
)

var roles = []Role{RoleMember, RoleProjectManager, RoleAdviser, RoleInstructor}

// ParseRole accepts only the canonical role names. Synonyms such as "pm" or
// "manager" are rejected.
func ParseRole(s string) (Role, error) {
	for _, r := range roles {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

func (r *Role) UnmarshalText(b []byte) error {
	v, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// TaskStatus is a position in the task lifecycle.
type TaskStatus string

const (
	StatusToDo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in_progress"
	StatusToReview   TaskStatus = "to_review"
	StatusCompleted  TaskStatus = "completed"
	StatusMissed     TaskStatus = "missed"
)

var statuses = []TaskStatus{StatusToDo, StatusInProgress, StatusToReview, StatusCompleted, StatusMissed}

func ParseTaskStatus(s string) (TaskStatus, error) {
	for _, st := range statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown task status %q", s)
}

func (s TaskStatus) Valid() bool {
	_, err := ParseTaskStatus(string(s))
	return err == nil
}

// Terminal reports whether the sweep and direct status writes leave the task alone.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusMissed
}

func (s *TaskStatus) UnmarshalText(b []byte) error {
	v, err := ParseTaskStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// TaskManager names the side that owns a task's schedule.
type TaskManager string

const (
	ManagedByProjectManager TaskManager = "project_manager"
	ManagedByAdviser        TaskManager = "adviser"
)

func ParseTaskManager(s string) (TaskManager, error) {
	switch TaskManager(s) {
	case ManagedByProjectManager, ManagedByAdviser:
		return TaskManager(s), nil
	}
	return "", fmt.Errorf("unknown task manager %q", s)
}

func (m TaskManager) Valid() bool {
	_, err := ParseTaskManager(string(m))
	return err == nil
}

func (m *TaskManager) UnmarshalText(b []byte) error {
	v, err := ParseTaskManager(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Verdict is the adviser's decision on a milestone record.
type Verdict string

const (
	VerdictPending     Verdict = "pending"
	VerdictApproved    Verdict = "approved"
	VerdictRevise      Verdict = "revise"
	VerdictDisapproved Verdict = "disapproved"
)

func ParseVerdict(s string) (Verdict, error) {
	switch Verdict(s) {
	case VerdictPending, VerdictApproved, VerdictRevise, VerdictDisapproved:
		return Verdict(s), nil
	}
	return "", fmt.Errorf("unknown verdict %q", s)
}

func (v Verdict) Valid() bool {
	_, err := ParseVerdict(string(v))
	return err == nil
}

func (v *Verdict) UnmarshalText(b []byte) error {
	p, err := ParseVerdict(string(b))
	if err != nil {
		return err
	}
	*v = p
	return nil
}
