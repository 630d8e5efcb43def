package inmemory

import (
	"context"
	"testing"

	"github.com/dvloznov/stripe-reconciler/internal/jobs"
)

func seedJob(id, accountID string, jobType jobs.JobType, status jobs.JobStatus) *jobs.ReconcileJob {
	return &jobs.ReconcileJob{
		JobID:     id,
		Type:      jobType,
		AccountID: accountID,
		Year:      2026,
		Month:     3,
		Status:    status,
	}
}

func TestStore_SaveAndGetReturnsCopies(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	job := seedJob("j1", "acct_1", jobs.JobTypeGenerateStatement, jobs.JobStatusPending)
	if err := store.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	// Mutating the original must not leak into the store.
	job.Status = jobs.JobStatusFailed

	got, err := store.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != jobs.JobStatusPending {
		t.Errorf("stored status = %s, want pending", got.Status)
	}

	// Mutating the returned copy must not leak either.
	got.AccountID = "acct_other"
	again, _ := store.GetJob(ctx, "j1")
	if again.AccountID != "acct_1" {
		t.Errorf("stored account = %s, want acct_1", again.AccountID)
	}
}

func TestStore_SaveRequiresID(t *testing.T) {
	store := NewStore()
	if err := store.SaveJob(context.Background(), &jobs.ReconcileJob{}); err == nil {
		t.Error("expected error for job without ID")
	}
}

func TestStore_GetMissing(t *testing.T) {
	store := NewStore()
	if _, err := store.GetJob(context.Background(), "nope"); err == nil {
		t.Error("expected error for unknown job ID")
	}
}

func TestStore_ListJobsFilters(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	seed := []*jobs.ReconcileJob{
		seedJob("j1", "acct_1", jobs.JobTypeGenerateStatement, jobs.JobStatusCompleted),
		seedJob("j2", "acct_1", jobs.JobTypeSimulatePayouts, jobs.JobStatusPending),
		seedJob("j3", "acct_2", jobs.JobTypeGenerateStatement, jobs.JobStatusPending),
	}
	for _, j := range seed {
		if err := store.SaveJob(ctx, j); err != nil {
			t.Fatalf("SaveJob %s: %v", j.JobID, err)
		}
	}

	tests := []struct {
		name   string
		filter jobs.JobFilter
		want   int
	}{
		{"no filter", jobs.JobFilter{}, 3},
		{"by account", jobs.JobFilter{AccountID: "acct_1"}, 2},
		{"by type", jobs.JobFilter{Type: jobs.JobTypeSimulatePayouts}, 1},
		{"by status", jobs.JobFilter{Status: jobs.JobStatusPending}, 2},
		{"account and status", jobs.JobFilter{AccountID: "acct_1", Status: jobs.JobStatusCompleted}, 1},
		{"no match", jobs.JobFilter{AccountID: "acct_3"}, 0},
		{"limit", jobs.JobFilter{Limit: 2}, 2},
		{"offset past end", jobs.JobFilter{Offset: 5}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListJobs(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListJobs: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d jobs, want %d", len(got), tt.want)
			}
		})
	}
}

func TestStore_UpdateJobStatus(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if err := store.SaveJob(ctx, seedJob("j1", "acct_1", jobs.JobTypeGenerateStatement, jobs.JobStatusPending)); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	if err := store.UpdateJobStatus(ctx, "j1", jobs.JobStatusFailed, "boom"); err != nil {
		t.Fatalf("UpdateJobStatus: %v", err)
	}

	got, _ := store.GetJob(ctx, "j1")
	if got.Status != jobs.JobStatusFailed || got.Error != "boom" {
		t.Errorf("job = %s/%q, want failed/boom", got.Status, got.Error)
	}

	if err := store.UpdateJobStatus(ctx, "missing", jobs.JobStatusFailed, ""); err == nil {
		t.Error("expected error for unknown job ID")
	}
}
