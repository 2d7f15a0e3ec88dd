package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/huangang/capstrack/internal/models"
)

type taskFixture struct {
	svc        *TaskService
	milestones *MilestoneService
	team       *models.Team
	manager    Actor
	member     Actor
	adviser    Actor
	instructor Actor
	outsider   Actor
	now        time.Time
	queue      *recordingQueue
}

func newTaskFixture(t *testing.T) *taskFixture {
	t.Helper()
	db := setupTestDB(t)
	cfg := testConfig()
	ctx := context.Background()

	mgr := createUser(t, db, "ana", "Reyes", models.RoleMember)
	mem := createUser(t, db, "ben", "Cruz", models.RoleMember)
	adv := createUser(t, db, "dr_lim", "Lim", models.RoleAdviser)
	inst := createUser(t, db, "prof", "Tan", models.RoleInstructor)
	out := createUser(t, db, "zed", "Uy", models.RoleMember)

	roster := NewRosterService(db, &cfg.Roster)
	team, err := roster.CreateTeam(ctx, &CreateTeamRequest{ManagerID: mgr.ID, MemberIDs: []uint{mem.ID}, AdviserID: &adv.ID}, inst.ID)
	if err != nil {
		t.Fatalf("CreateTeam() error = %v", err)
	}

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	svc := NewTaskService(db, cfg)
	svc.now = fixedClock(now)
	queue := &recordingQueue{}
	svc.SetTaskQueue(queue)

	return &taskFixture{
		svc:        svc,
		milestones: NewMilestoneService(db, &cfg.Roster),
		team:       team,
		manager:    Actor{UserID: mgr.ID, Role: models.RoleProjectManager},
		member:     Actor{UserID: mem.ID, Role: models.RoleMember},
		adviser:    Actor{UserID: adv.ID, Role: models.RoleAdviser},
		instructor: Actor{UserID: inst.ID, Role: models.RoleInstructor},
		outsider:   Actor{UserID: out.ID, Role: models.RoleMember},
		now:        now,
		queue:      queue,
	}
}

func ptr(s string) *string { return &s }

func (f *taskFixture) createPMTask(t *testing.T, date, clock string) *models.Task {
	t.Helper()
	req := &CreateTaskRequest{
		TeamID:      &f.team.ID,
		Category:    "title_defense",
		Title:       "Draft chapter 1",
		TaskManager: models.ManagedByProjectManager,
	}
	if date != "" {
		req.DueDate = ptr(date)
	}
	if clock != "" {
		req.DueTime = ptr(clock)
	}
	task, err := f.svc.Create(context.Background(), req, f.manager)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return task
}

func (f *taskFixture) setStatus(t *testing.T, id uint, status models.TaskStatus, actor Actor) *models.Task {
	t.Helper()
	task, err := f.svc.ChangeStatus(context.Background(), id, &ChangeStatusRequest{Status: status}, actor)
	if err != nil {
		t.Fatalf("ChangeStatus(%s) error = %v", status, err)
	}
	return task
}

func TestCreate_InitialState(t *testing.T) {
	f := newTaskFixture(t)
	task := f.createPMTask(t, "2026-03-20", "17:00")

	if task.Status != models.StatusToDo {
		t.Errorf("Status = %q, expected todo", task.Status)
	}
	if task.Revision != 0 || task.RevisionLabel() != "No Revision" {
		t.Errorf("Revision = %d (%s), expected 0 (No Revision)", task.Revision, task.RevisionLabel())
	}
	if task.Version != 1 {
		t.Errorf("Version = %d, expected 1", task.Version)
	}
	if len(f.queue.jobs) != 1 || f.queue.jobs[0].Type != TaskTypeTaskCreated || f.queue.jobs[0].TaskID != task.ID {
		t.Errorf("queued jobs = %+v", f.queue.jobs)
	}
}

func TestCreate_Validation(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  *CreateTaskRequest
	}{
		{"no owner", &CreateTaskRequest{Category: "title_defense", Title: "x", TaskManager: models.ManagedByProjectManager}},
		{"blank title", &CreateTaskRequest{TeamID: &f.team.ID, Category: "title_defense", Title: "  ", TaskManager: models.ManagedByProjectManager}},
		{"unknown manager", &CreateTaskRequest{TeamID: &f.team.ID, Category: "title_defense", Title: "x", TaskManager: "pm"}},
		{"unknown category", &CreateTaskRequest{TeamID: &f.team.ID, Category: "thesis", Title: "x", TaskManager: models.ManagedByProjectManager}},
		{"bad date", &CreateTaskRequest{TeamID: &f.team.ID, Category: "title_defense", Title: "x", TaskManager: models.ManagedByProjectManager, DueDate: ptr("03/20/2026")}},
		{"bad time", &CreateTaskRequest{TeamID: &f.team.ID, Category: "title_defense", Title: "x", TaskManager: models.ManagedByProjectManager, DueDate: ptr("2026-03-20"), DueTime: ptr("5pm")}},
		{"time without date", &CreateTaskRequest{TeamID: &f.team.ID, Category: "title_defense", Title: "x", TaskManager: models.ManagedByProjectManager, DueTime: ptr("17:00")}},
		{"past due", &CreateTaskRequest{TeamID: &f.team.ID, Category: "title_defense", Title: "x", TaskManager: models.ManagedByProjectManager, DueDate: ptr("2026-03-09")}},
		{"adviser task with date", &CreateTaskRequest{TeamID: &f.team.ID, Category: "title_defense", Title: "x", TaskManager: models.ManagedByAdviser, DueDate: ptr("2026-03-20")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actor := f.manager
			if tt.req.TaskManager == models.ManagedByAdviser {
				actor = f.adviser
			}
			if _, err := f.svc.Create(ctx, tt.req, actor); !errors.Is(err, ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCreate_Permission(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	pmTask := &CreateTaskRequest{TeamID: &f.team.ID, Category: "title_defense", Title: "x", TaskManager: models.ManagedByProjectManager}
	for _, actor := range []Actor{f.member, f.adviser, f.instructor, f.outsider} {
		if _, err := f.svc.Create(ctx, pmTask, actor); !errors.Is(err, ErrPermission) {
			t.Errorf("actor %d creating PM task: expected permission error, got %v", actor.UserID, err)
		}
	}

	advTask := &CreateTaskRequest{TeamID: &f.team.ID, Category: "title_defense", Title: "Consultation", TaskManager: models.ManagedByAdviser}
	if _, err := f.svc.Create(ctx, advTask, f.manager); !errors.Is(err, ErrPermission) {
		t.Errorf("manager creating adviser task: expected permission error, got %v", err)
	}
	task, err := f.svc.Create(ctx, advTask, f.adviser)
	if err != nil {
		t.Fatalf("adviser Create() error = %v", err)
	}
	if task.DueDate != nil || task.DueTime != nil {
		t.Error("adviser task should start unscheduled")
	}
}

func TestCreate_AssigneeResolvesTeam(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	task, err := f.svc.Create(ctx, &CreateTaskRequest{
		AssigneeID:  &f.member.UserID,
		Category:    "title_defense",
		Title:       "Survey",
		TaskManager: models.ManagedByProjectManager,
	}, f.manager)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if task.TeamID != f.team.ID {
		t.Errorf("TeamID = %d, expected %d", task.TeamID, f.team.ID)
	}

	_, err = f.svc.Create(ctx, &CreateTaskRequest{
		AssigneeID:  &f.outsider.UserID,
		Category:    "title_defense",
		Title:       "Survey",
		TaskManager: models.ManagedByProjectManager,
	}, f.manager)
	if !errors.Is(err, ErrValidation) {
		t.Errorf("assignee without team: expected validation error, got %v", err)
	}
}

func TestMilestoneGate(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	req := &CreateTaskRequest{TeamID: &f.team.ID, Category: "manuscript", Title: "Chapter 2", TaskManager: models.ManagedByProjectManager}

	if _, err := f.svc.Create(ctx, req, f.manager); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("closed gate: expected precondition error, got %v", err)
	}

	if _, err := f.milestones.RecordVerdict(ctx, f.team.ID, "title_defense", &RecordVerdictRequest{Verdict: models.VerdictApproved}, f.adviser); err != nil {
		t.Fatalf("RecordVerdict() error = %v", err)
	}
	if err := f.milestones.GateOpen(ctx, f.team.ID, "manuscript"); !errors.Is(err, ErrPrecondition) {
		t.Errorf("approval without title should keep the gate closed, got %v", err)
	}

	if _, err := f.milestones.RecordVerdict(ctx, f.team.ID, "title_defense", &RecordVerdictRequest{Verdict: models.VerdictApproved, Title: ptr("Smart Campus Parking")}, f.adviser); err != nil {
		t.Fatalf("RecordVerdict() error = %v", err)
	}
	if _, err := f.svc.Create(ctx, req, f.manager); err != nil {
		t.Errorf("open gate: Create() error = %v", err)
	}

	if err := f.milestones.GateOpen(ctx, f.team.ID, "final_defense"); !errors.Is(err, ErrPrecondition) {
		t.Errorf("final_defense should still be locked, got %v", err)
	}
}

func TestEditDueDateTime_RevisionBumpFromReview(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	task := f.createPMTask(t, "2026-03-20", "17:00")

	reviewed := f.setStatus(t, task.ID, models.StatusToReview, f.member)

	edited, err := f.svc.EditDueDateTime(ctx, task.ID, &EditDueRequest{DueDate: "2026-03-25", DueTime: ptr("17:00"), Version: reviewed.Version}, f.manager)
	if err != nil {
		t.Fatalf("EditDueDateTime() error = %v", err)
	}
	if edited.Revision != 1 || edited.RevisionLabel() != "1st Revision" {
		t.Errorf("Revision = %d (%s), expected 1 (1st Revision)", edited.Revision, edited.RevisionLabel())
	}
	if edited.Status != models.StatusToDo {
		t.Errorf("Status = %q, expected todo", edited.Status)
	}
	if *edited.DueDate != "2026-03-25" {
		t.Errorf("DueDate = %q", *edited.DueDate)
	}
}

func TestEditDueDateTime_NoBumpOutsideReview(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	task := f.createPMTask(t, "2026-03-20", "")
	f.setStatus(t, task.ID, models.StatusInProgress, f.member)

	edited, err := f.svc.EditDueDateTime(ctx, task.ID, &EditDueRequest{DueDate: "2026-03-22", DueTime: ptr("08:00")}, f.manager)
	if err != nil {
		t.Fatalf("EditDueDateTime() error = %v", err)
	}
	if edited.Revision != 0 || edited.Status != models.StatusInProgress {
		t.Errorf("got revision %d status %q, expected 0 in_progress", edited.Revision, edited.Status)
	}

	f.setStatus(t, task.ID, models.StatusToReview, f.member)
	same, err := f.svc.EditDueDateTime(ctx, task.ID, &EditDueRequest{DueDate: "2026-03-22", DueTime: ptr("08:00")}, f.manager)
	if err != nil {
		t.Fatalf("EditDueDateTime() unchanged error = %v", err)
	}
	if same.Revision != 0 || same.Status != models.StatusToReview {
		t.Errorf("unchanged schedule should not bump, got revision %d status %q", same.Revision, same.Status)
	}
}

func TestEditDueDateTime_Guards(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	task := f.createPMTask(t, "2026-03-20", "")

	if _, err := f.svc.EditDueDateTime(ctx, task.ID, &EditDueRequest{DueDate: "2026-03-22"}, f.member); !errors.Is(err, ErrPermission) {
		t.Errorf("member rescheduling: expected permission error, got %v", err)
	}
	if _, err := f.svc.EditDueDateTime(ctx, task.ID, &EditDueRequest{DueDate: "2026-03-01"}, f.manager); !errors.Is(err, ErrValidation) {
		t.Errorf("past date: expected validation error, got %v", err)
	}
	if _, err := f.svc.EditDueDateTime(ctx, task.ID, &EditDueRequest{DueDate: "2026-03-22", Version: 7}, f.manager); !errors.Is(err, ErrConflict) {
		t.Errorf("stale version: expected conflict, got %v", err)
	}
	if _, err := f.svc.EditDueDateTime(ctx, 4242, &EditDueRequest{DueDate: "2026-03-22"}, f.manager); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown task: expected not found, got %v", err)
	}
}

func TestEditDueDateTime_RevisionLimit(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	task := f.createPMTask(t, "2026-03-12", "12:00")

	for i := 1; i <= 10; i++ {
		f.setStatus(t, task.ID, models.StatusToReview, f.member)
		date := time.Date(2026, 3, 12+i, 0, 0, 0, 0, time.UTC).Format(models.DueDateLayout)
		edited, err := f.svc.EditDueDateTime(ctx, task.ID, &EditDueRequest{DueDate: date, DueTime: ptr("12:00")}, f.manager)
		if err != nil {
			t.Fatalf("revision %d: EditDueDateTime() error = %v", i, err)
		}
		if edited.Revision != i {
			t.Fatalf("Revision = %d, expected %d", edited.Revision, i)
		}
	}

	before := reloadTask(t, f.svc.db, task.ID)
	if before.RevisionLabel() != "10th Revision" {
		t.Errorf("label = %q, expected 10th Revision", before.RevisionLabel())
	}

	_, err := f.svc.EditDueDateTime(ctx, task.ID, &EditDueRequest{DueDate: "2026-04-30", DueTime: ptr("12:00")}, f.manager)
	if !errors.Is(err, ErrRevisionLimit) {
		t.Fatalf("expected revision limit error, got %v", err)
	}

	after := reloadTask(t, f.svc.db, task.ID)
	if after.Revision != 10 || *after.DueDate != *before.DueDate || after.Version != before.Version || after.Status != before.Status {
		t.Errorf("task changed after revision limit: before %+v after %+v", before, after)
	}
}

func TestEditDueDateTime_ReopensMissedTask(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	task := f.createPMTask(t, "2026-03-11", "10:00")
	f.setStatus(t, task.ID, models.StatusInProgress, f.member)

	f.svc.now = fixedClock(f.now.Add(48 * time.Hour))
	edited, err := f.svc.EditDueDateTime(ctx, task.ID, &EditDueRequest{DueDate: "2026-03-15", DueTime: ptr("10:00")}, f.manager)
	if err != nil {
		t.Fatalf("EditDueDateTime() error = %v", err)
	}
	if edited.Status != models.StatusToDo || edited.Revision != 1 {
		t.Errorf("got status %q revision %d, expected todo 1", edited.Status, edited.Revision)
	}
}

func TestEditDueDateTime_CompletedTaskRefused(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	task := f.createPMTask(t, "2026-03-20", "17:00")
	f.setStatus(t, task.ID, models.StatusCompleted, f.member)
	before := reloadTask(t, f.svc.db, task.ID)

	_, err := f.svc.EditDueDateTime(ctx, task.ID, &EditDueRequest{DueDate: "2026-03-25", DueTime: ptr("17:00")}, f.manager)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("rescheduling a completed task: expected conflict, got %v", err)
	}

	after := reloadTask(t, f.svc.db, task.ID)
	if after.Status != models.StatusCompleted || *after.DueDate != "2026-03-20" || after.Revision != 0 || after.Version != before.Version {
		t.Errorf("completed task changed: before %+v after %+v", before, after)
	}
}

func TestExpirySweep_MarksOverdueAndIsIdempotent(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	task := f.createPMTask(t, "2026-03-10", "12:00")
	f.setStatus(t, task.ID, models.StatusInProgress, f.member)

	f.svc.now = fixedClock(time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC))
	stale := *reloadTask(t, f.svc.db, task.ID)

	batch := []models.Task{stale}
	swept, err := f.svc.ExpirySweep(ctx, batch)
	if err != nil {
		t.Fatalf("ExpirySweep() error = %v", err)
	}
	if swept != 1 || batch[0].Status != models.StatusMissed {
		t.Fatalf("first sweep: swept=%d status=%q", swept, batch[0].Status)
	}
	afterFirst := reloadTask(t, f.svc.db, task.ID)

	swept, _ = f.svc.ExpirySweep(ctx, batch)
	if swept != 0 || batch[0].Status != models.StatusMissed {
		t.Errorf("second sweep: swept=%d status=%q", swept, batch[0].Status)
	}

	staleBatch := []models.Task{stale}
	swept, _ = f.svc.ExpirySweep(ctx, staleBatch)
	if swept != 0 || staleBatch[0].Status != models.StatusMissed {
		t.Errorf("sweep from stale snapshot: swept=%d status=%q", swept, staleBatch[0].Status)
	}

	afterAll := reloadTask(t, f.svc.db, task.ID)
	if afterAll.Version != afterFirst.Version || afterAll.Status != models.StatusMissed {
		t.Errorf("repeated sweeps must not write again: version %d -> %d", afterFirst.Version, afterAll.Version)
	}
}

func TestExpirySweep_StaleSnapshotKeepsReschedule(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	task := f.createPMTask(t, "2026-03-10", "12:00")
	f.setStatus(t, task.ID, models.StatusToReview, f.member)

	f.svc.now = fixedClock(time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC))
	snapshot := []models.Task{*reloadTask(t, f.svc.db, task.ID)}

	edited, err := f.svc.EditDueDateTime(ctx, task.ID, &EditDueRequest{DueDate: "2026-03-20", DueTime: ptr("17:00")}, f.manager)
	if err != nil {
		t.Fatalf("EditDueDateTime() error = %v", err)
	}
	if edited.Status != models.StatusToDo || edited.Revision != 1 {
		t.Fatalf("after reschedule: status %q revision %d, expected todo 1", edited.Status, edited.Revision)
	}

	swept, err := f.svc.ExpirySweep(ctx, snapshot)
	if err != nil {
		t.Fatalf("ExpirySweep() error = %v", err)
	}
	if swept != 0 {
		t.Errorf("swept = %d, expected the stale row to be skipped", swept)
	}

	stored := reloadTask(t, f.svc.db, task.ID)
	if stored.Status != models.StatusToDo || *stored.DueDate != "2026-03-20" || stored.Revision != 1 || stored.Version != edited.Version {
		t.Errorf("stored task = status %q due %s revision %d version %d, expected the reschedule to stand",
			stored.Status, *stored.DueDate, stored.Revision, stored.Version)
	}
	if snapshot[0].Status != models.StatusToDo || snapshot[0].Version != edited.Version {
		t.Errorf("snapshot not refreshed: status %q version %d", snapshot[0].Status, snapshot[0].Version)
	}
}

func TestExpirySweep_LeavesCompletedAndFutureTasks(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	done := f.createPMTask(t, "2026-03-10", "12:00")
	f.setStatus(t, done.ID, models.StatusCompleted, f.member)
	future := f.createPMTask(t, "2026-04-01", "")
	undated := f.createPMTask(t, "", "")

	f.svc.now = fixedClock(time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC))
	tasks, err := f.svc.ListTasks(ctx, &TaskListRequest{TeamID: &f.team.ID})
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	want := map[uint]models.TaskStatus{done.ID: models.StatusCompleted, future.ID: models.StatusToDo, undated.ID: models.StatusToDo}
	for _, task := range tasks {
		if task.Status != want[task.ID] {
			t.Errorf("task %d status = %q, expected %q", task.ID, task.Status, want[task.ID])
		}
	}
}

func TestListTasks_SweepsOnRead(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	task := f.createPMTask(t, "2026-03-10", "18:00")

	f.svc.now = fixedClock(time.Date(2026, 3, 10, 18, 1, 0, 0, time.UTC))
	missed, err := f.svc.ListTasks(ctx, &TaskListRequest{TeamID: &f.team.ID, Status: "missed"})
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	if len(missed) != 1 || missed[0].ID != task.ID {
		t.Fatalf("missed tasks = %+v", missed)
	}
	if got := reloadTask(t, f.svc.db, task.ID).Status; got != models.StatusMissed {
		t.Errorf("stored status = %q, expected the sweep to persist missed", got)
	}

	if _, err := f.svc.ListTasks(ctx, &TaskListRequest{Status: "late"}); !errors.Is(err, ErrValidation) {
		t.Errorf("unknown status filter: expected validation error, got %v", err)
	}
}

func TestSweepOverdue(t *testing.T) {
	f := newTaskFixture(t)
	a := f.createPMTask(t, "2026-03-11", "")
	b := f.createPMTask(t, "2026-03-12", "09:00")
	c := f.createPMTask(t, "2026-03-30", "")

	f.svc.now = fixedClock(time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC))
	swept, err := f.svc.SweepOverdue(context.Background())
	if err != nil {
		t.Fatalf("SweepOverdue() error = %v", err)
	}
	if swept != 2 {
		t.Errorf("swept = %d, expected 2", swept)
	}
	for id, want := range map[uint]models.TaskStatus{a.ID: models.StatusMissed, b.ID: models.StatusMissed, c.ID: models.StatusToDo} {
		if got := reloadTask(t, f.svc.db, id).Status; got != want {
			t.Errorf("task %d status = %q, expected %q", id, got, want)
		}
	}
}

func TestChangeStatus_ForwardPathAndCompletion(t *testing.T) {
	f := newTaskFixture(t)
	task := f.createPMTask(t, "2026-03-20", "")

	f.setStatus(t, task.ID, models.StatusInProgress, f.member)
	f.setStatus(t, task.ID, models.StatusToReview, f.manager)
	done := f.setStatus(t, task.ID, models.StatusCompleted, f.member)

	if done.CompletedAt == nil || !done.CompletedAt.Equal(f.now) {
		t.Errorf("CompletedAt = %v, expected %v", done.CompletedAt, f.now)
	}

	_, err := f.svc.ChangeStatus(context.Background(), task.ID, &ChangeStatusRequest{Status: models.StatusToDo}, f.member)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("moving a completed task: expected conflict, got %v", err)
	}
}

func TestChangeStatus_Rejections(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	task := f.createPMTask(t, "2026-03-20", "")

	if _, err := f.svc.ChangeStatus(ctx, task.ID, &ChangeStatusRequest{Status: models.StatusMissed}, f.manager); !errors.Is(err, ErrPermission) {
		t.Errorf("setting missed directly: expected permission error, got %v", err)
	}
	if _, err := f.svc.ChangeStatus(ctx, task.ID, &ChangeStatusRequest{Status: "done"}, f.manager); !errors.Is(err, ErrValidation) {
		t.Errorf("unknown status: expected validation error, got %v", err)
	}
	for _, actor := range []Actor{f.instructor, f.outsider, f.adviser} {
		if _, err := f.svc.ChangeStatus(ctx, task.ID, &ChangeStatusRequest{Status: models.StatusInProgress}, actor); !errors.Is(err, ErrPermission) {
			t.Errorf("actor %d: expected permission error, got %v", actor.UserID, err)
		}
	}
	if _, err := f.svc.ChangeStatus(ctx, task.ID, &ChangeStatusRequest{Status: models.StatusInProgress, Version: 99}, f.member); !errors.Is(err, ErrConflict) {
		t.Errorf("stale version: expected conflict, got %v", err)
	}
}

func TestChangeStatus_OverdueTaskIsSweptFirst(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	task := f.createPMTask(t, "2026-03-10", "12:00")
	f.setStatus(t, task.ID, models.StatusInProgress, f.member)

	f.svc.now = fixedClock(time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC))
	_, err := f.svc.ChangeStatus(ctx, task.ID, &ChangeStatusRequest{Status: models.StatusToReview}, f.member)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict for overdue task, got %v", err)
	}
	if got := reloadTask(t, f.svc.db, task.ID).Status; got != models.StatusMissed {
		t.Errorf("status = %q, expected missed", got)
	}
}

func TestChangeStatus_AdviserTask(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	task, err := f.svc.Create(ctx, &CreateTaskRequest{
		TeamID:      &f.team.ID,
		Category:    "title_defense",
		Title:       "Consultation",
		TaskManager: models.ManagedByAdviser,
	}, f.adviser)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	_, err = f.svc.ChangeStatus(ctx, task.ID, &ChangeStatusRequest{Status: models.StatusInProgress}, f.member)
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("unscheduled adviser task: expected precondition error, got %v", err)
	}

	if _, err := f.svc.EditDueDateTime(ctx, task.ID, &EditDueRequest{DueDate: "2026-03-18"}, f.adviser); err != nil {
		t.Fatalf("adviser EditDueDateTime() error = %v", err)
	}
	_, err = f.svc.ChangeStatus(ctx, task.ID, &ChangeStatusRequest{Status: models.StatusInProgress}, f.member)
	if !errors.Is(err, ErrPrecondition) {
		t.Errorf("date without time: expected precondition error, got %v", err)
	}

	if _, err := f.svc.EditDueDateTime(ctx, task.ID, &EditDueRequest{DueDate: "2026-03-18", DueTime: ptr("14:00")}, f.manager); !errors.Is(err, ErrPermission) {
		t.Errorf("manager scheduling adviser task: expected permission error, got %v", err)
	}
	if _, err := f.svc.EditDueDateTime(ctx, task.ID, &EditDueRequest{DueDate: "2026-03-18", DueTime: ptr("14:00")}, f.adviser); err != nil {
		t.Fatalf("adviser EditDueDateTime() error = %v", err)
	}

	f.setStatus(t, task.ID, models.StatusToReview, f.member)
	if _, err := f.svc.ChangeStatus(ctx, task.ID, &ChangeStatusRequest{Status: models.StatusCompleted}, f.member); !errors.Is(err, ErrPermission) {
		t.Errorf("team completing adviser task: expected permission error, got %v", err)
	}
	done := f.setStatus(t, task.ID, models.StatusCompleted, f.adviser)
	if done.CompletedAt == nil {
		t.Error("completion should be stamped")
	}
}

func TestAllowedTargets(t *testing.T) {
	f := newTaskFixture(t)

	if got := AllowedTargets(models.ManagedByProjectManager, f.team, f.member); len(got) != 4 {
		t.Errorf("team side on PM task: %v", got)
	}
	if got := AllowedTargets(models.ManagedByAdviser, f.team, f.member); containsStatus(got, models.StatusCompleted) {
		t.Errorf("team side on adviser task must not complete: %v", got)
	}
	if got := AllowedTargets(models.ManagedByAdviser, f.team, f.adviser); !containsStatus(got, models.StatusCompleted) {
		t.Errorf("adviser side should complete adviser tasks: %v", got)
	}
	if got := AllowedTargets(models.ManagedByProjectManager, f.team, f.instructor); len(got) != 0 {
		t.Errorf("instructor should be read-only: %v", got)
	}
	for _, manager := range []models.TaskManager{models.ManagedByProjectManager, models.ManagedByAdviser} {
		for _, actor := range []Actor{f.manager, f.member, f.adviser} {
			if containsStatus(AllowedTargets(manager, f.team, actor), models.StatusMissed) {
				t.Errorf("missed must never be a direct target (%s, actor %d)", manager, actor.UserID)
			}
		}
	}
}
