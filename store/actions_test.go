package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/alkimya/orchestrator-core/scheduler"
)

func TestDueActionsFiltersByStatusAndTime(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()
	nextRun := now.Add(-time.Minute)

	rows := sqlmock.NewRows([]string{
		"id", "agent_id", "kind", "config_json", "schedule_kind", "cron_expression",
		"interval_s", "run_at", "event_name", "status", "next_run_at", "timeout_s",
		"max_retries", "retry_delay_s", "allow_concurrent", "execution_count", "last_run_status",
	}).AddRow(int64(1), "agent-1", "run_task", []byte(`{"goal":"g"}`), "interval", nil,
		int64(60), nil, nil, "active", nextRun, 30, 3, 5, false, int64(2), "completed")

	mock.ExpectQuery("SELECT").WithArgs("active", now).WillReturnRows(rows)

	due, err := db.DueActions(context.Background(), now)
	if err != nil {
		t.Fatalf("DueActions() error = %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("len(due) = %d, want 1", len(due))
	}
	if due[0].Kind != scheduler.ActionRunTask || due[0].AgentID != "agent-1" {
		t.Errorf("DueActions()[0] = %+v, unexpected fields", due[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRecentActionRunReportsExistence(t *testing.T) {
	db, mock := newMockDB(t)
	since := time.Now().Add(-time.Minute)

	rows := sqlmock.NewRows([]string{"exists"}).AddRow(true)
	mock.ExpectQuery("SELECT EXISTS").WithArgs(int64(42), since, "completed", "running", "pending").WillReturnRows(rows)

	exists, err := db.RecentActionRun(context.Background(), 42, since)
	if err != nil {
		t.Fatalf("RecentActionRun() error = %v", err)
	}
	if !exists {
		t.Error("RecentActionRun() = false, want true")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSaveActionUpserts(t *testing.T) {
	db, mock := newMockDB(t)
	next := time.Now().Add(time.Hour)
	action := &scheduler.ScheduledAction{
		ID: 1, Kind: scheduler.ActionRunTask, Config: map[string]interface{}{"goal": "g"},
		ScheduleKind: scheduler.ScheduleInterval, IntervalSeconds: 60,
		Status: scheduler.ActionStatusActive, NextRunAt: &next,
	}

	mock.ExpectExec("INSERT INTO scheduled_actions").
		WithArgs(int64(1), nil, scheduler.ActionRunTask, sqlmock.AnyArg(), scheduler.ScheduleInterval, nil,
			int64(60), nil, nil, scheduler.ActionStatusActive, next, 0, 0, 0, false, int64(0), nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := db.SaveAction(context.Background(), action); err != nil {
		t.Fatalf("SaveAction() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSaveActionRunUpserts(t *testing.T) {
	db, mock := newMockDB(t)
	triggeredAt := time.Now()
	run := &scheduler.ScheduledActionRun{
		ID: "run-1", ActionID: 1, TriggeredAt: triggeredAt,
		TriggeredBy: scheduler.TriggeredByScheduler, Status: scheduler.ActionRunCompleted,
	}

	mock.ExpectExec("INSERT INTO scheduled_action_runs").
		WithArgs("run-1", int64(1), triggeredAt, scheduler.TriggeredByScheduler, scheduler.ActionRunCompleted,
			nil, nil, "", 0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := db.SaveActionRun(context.Background(), run); err != nil {
		t.Fatalf("SaveActionRun() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
