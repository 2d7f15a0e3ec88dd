package services

import "github.com/huangang/capstrack/internal/models"

// PendingEdit is a client-side change not yet confirmed by the server.
// BaseVersion is the task version the client saw when it made the edit.
type PendingEdit struct {
	TaskID      uint               `json:"task_id" binding:"required"`
	BaseVersion uint               `json:"base_version" binding:"required"`
	Status      *models.TaskStatus `json:"status"`
	DueDate     *string            `json:"due_date"`
	DueTime     *string            `json:"due_time"`
	Title       *string            `json:"title"`
}

// Reconcile overlays pending edits on the last known server state and returns
// what a client should display. An edit applies only while its base version
// is still the server's version; edits against a newer server state, or
// against tasks the server no longer has, are dropped. The inputs are not
// modified.
func Reconcile(server []models.Task, pending []PendingEdit) []models.Task {
	display := make([]models.Task, len(server))
	copy(display, server)

	index := make(map[uint]int, len(display))
	for i, t := range display {
		index[t.ID] = i
	}

	for _, edit := range pending {
		i, ok := index[edit.TaskID]
		if !ok || display[i].Version != edit.BaseVersion {
			continue
		}
		t := &display[i]
		if edit.Status != nil {
			t.Status = *edit.Status
		}
		if edit.DueDate != nil {
			v := *edit.DueDate
			t.DueDate = &v
		}
		if edit.DueTime != nil {
			v := *edit.DueTime
			t.DueTime = &v
		}
		if edit.Title != nil {
			t.Title = *edit.Title
		}
	}
	return display
}

// StaleEdits returns the pending edits Reconcile would drop.
func StaleEdits(server []models.Task, pending []PendingEdit) []PendingEdit {
	versions := make(map[uint]uint, len(server))
	for _, t := range server {
		versions[t.ID] = t.Version
	}
	var stale []PendingEdit
	for _, edit := range pending {
		if v, ok := versions[edit.TaskID]; !ok || v != edit.BaseVersion {
			stale = append(stale, edit)
		}
	}
	return stale
}
