package db

import (
	"strings"
	"testing"
	"time"
)

func TestBuildEligibleConstraint_IsStrict(t *testing.T) {
	clause := buildEligibleConstraint()

	mustContain := []string{
		"o.status = 'published'",
		"o.application_deadline IS NULL OR o.application_deadline > $1",
		"o.current_volunteers < o.max_volunteers",
	}

	for _, token := range mustContain {
		if !strings.Contains(clause, token) {
			t.Fatalf("eligible clause missing token %q: %s", token, clause)
		}
	}

	if strings.Contains(clause, "<= o.max_volunteers") {
		t.Fatalf("eligible clause must exclude full opportunities: %s", clause)
	}
}

func TestBuildCandidateQuery_ExcludesLiveApplications(t *testing.T) {
	sql := buildCandidateQuery()

	for _, token := range []string{
		"lower(btrim(i)) = $1",
		"lower(btrim(sk)) = ANY($2)",
		"a.opportunity_id = $3",
		"a.status <> 'withdrawn'",
		"NOT EXISTS",
		"LEFT JOIN volunteer_preferences",
	} {
		if !strings.Contains(sql, token) {
			t.Fatalf("candidate query missing %q:\n%s", token, sql)
		}
	}
}

func TestMigrationNames_Ordered(t *testing.T) {
	names, err := migrationNames()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"0001_init.sql", "0002_jobs.sql"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, names)
		}
	}
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{attempts: 0, want: 5 * time.Second},
		{attempts: 1, want: 5 * time.Second},
		{attempts: 2, want: 10 * time.Second},
		{attempts: 4, want: 40 * time.Second},
		{attempts: 20, want: 10 * time.Minute},
	}
	for _, tt := range tests {
		if got := RetryDelay(tt.attempts); got != tt.want {
			t.Fatalf("attempts=%d: expected %s, got %s", tt.attempts, tt.want, got)
		}
	}
}

func TestLowerAll(t *testing.T) {
	got := lowerAll([]string{" Teaching", "", "DESIGN "})
	if len(got) != 2 || got[0] != "teaching" || got[1] != "design" {
		t.Fatalf("unexpected result: %v", got)
	}
}

func TestQueueSQL_RespectsMaxAttempts(t *testing.T) {
	if !strings.Contains(claimSQL, "attempts < max_attempts") {
		t.Fatalf("claim must skip exhausted jobs:\n%s", claimSQL)
	}
	if !strings.Contains(claimSQL, "FOR UPDATE SKIP LOCKED") {
		t.Fatalf("claim must skip locked rows:\n%s", claimSQL)
	}

	for _, token := range []string{
		"WHEN attempts >= max_attempts THEN 'failed' ELSE 'queued'",
		"status = 'running'",
		"locked_at = NULL",
	} {
		if !strings.Contains(requeueStaleSQL, token) {
			t.Fatalf("stale requeue missing %q:\n%s", token, requeueStaleSQL)
		}
	}
}
