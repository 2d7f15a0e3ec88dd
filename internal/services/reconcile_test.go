package services

import (
	"testing"

	"github.com/huangang/capstrack/internal/models"
)

func TestReconcile_AppliesCurrentEdits(t *testing.T) {
	server := []models.Task{
		{ID: 1, Title: "Chapter 1", Status: models.StatusToDo, Version: 3},
		{ID: 2, Title: "Chapter 2", Status: models.StatusToDo, Version: 1},
	}
	inProgress := models.StatusInProgress
	date := "2026-04-01"

	display := Reconcile(server, []PendingEdit{
		{TaskID: 1, BaseVersion: 3, Status: &inProgress},
		{TaskID: 2, BaseVersion: 1, DueDate: &date},
	})

	if display[0].Status != models.StatusInProgress {
		t.Errorf("task 1 status = %q, expected in_progress", display[0].Status)
	}
	if display[1].DueDate == nil || *display[1].DueDate != date {
		t.Errorf("task 2 due date = %v, expected %s", display[1].DueDate, date)
	}
	if server[0].Status != models.StatusToDo || server[1].DueDate != nil {
		t.Error("Reconcile must not modify the server snapshot")
	}
}

func TestReconcile_DropsStaleEdits(t *testing.T) {
	server := []models.Task{{ID: 1, Title: "Chapter 1", Status: models.StatusMissed, Version: 5}}
	toReview := models.StatusToReview
	title := "Renamed"

	pending := []PendingEdit{
		{TaskID: 1, BaseVersion: 4, Status: &toReview},
		{TaskID: 9, BaseVersion: 1, Title: &title},
	}
	display := Reconcile(server, pending)

	if display[0].Status != models.StatusMissed {
		t.Errorf("stale edit applied: status = %q", display[0].Status)
	}
	if len(display) != 1 {
		t.Errorf("edits for unknown tasks must not add rows, got %d", len(display))
	}
	if stale := StaleEdits(server, pending); len(stale) != 2 {
		t.Errorf("StaleEdits = %d, expected 2", len(stale))
	}
}

func TestReconcile_LaterEditWins(t *testing.T) {
	server := []models.Task{{ID: 1, Title: "Draft", Version: 2}}
	a, b := "First", "Second"

	display := Reconcile(server, []PendingEdit{
		{TaskID: 1, BaseVersion: 2, Title: &a},
		{TaskID: 1, BaseVersion: 2, Title: &b},
	})
	if display[0].Title != "Second" {
		t.Errorf("Title = %q, expected Second", display[0].Title)
	}
}
