package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/kalambet/strokeinsight/internal/dataset"
	"github.com/kalambet/strokeinsight/internal/prediction"
)

func testRun(id string, ts time.Time, labels ...string) Run {
	results := make([]prediction.Result, len(labels))
	for i, l := range labels {
		results[i] = prediction.Result{
			Index:      i + 1,
			Prediction: l,
			Features:   dataset.Row{"Age": float64(60 + i), "BMI": nil},
		}
	}
	return Run{ID: id, Timestamp: ts, FileName: "patients.xlsx", Username: "clinician", Results: results}
}

func TestAppendAndListRuns(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

	for i := range 3 {
		r := testRun(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Second), "Stroke", "No Stroke")
		if err := s.AppendRun(r); err != nil {
			t.Fatalf("AppendRun %d: %v", i, err)
		}
		runs, err := s.ListRuns()
		if err != nil {
			t.Fatalf("ListRuns: %v", err)
		}
		if len(runs) != i+1 {
			t.Fatalf("after %d appends ListRuns returned %d runs", i+1, len(runs))
		}
	}

	runs, err := s.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	for i, r := range runs {
		if want := fmt.Sprintf("run-%d", i); r.ID != want {
			t.Errorf("runs[%d].ID = %q, want %q", i, r.ID, want)
		}
	}

	got := runs[0]
	if !got.Timestamp.Equal(base) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, base)
	}
	if got.FileName != "patients.xlsx" || got.Username != "clinician" {
		t.Errorf("metadata = %q/%q", got.FileName, got.Username)
	}
	if len(got.Results) != 2 || got.Results[1].Prediction != "No Stroke" || got.Results[1].Index != 2 {
		t.Errorf("Results = %+v", got.Results)
	}
	if got.Results[0].Features["Age"] != 60.0 {
		t.Errorf("feature Age = %v, want 60", got.Results[0].Features["Age"])
	}
	if v, ok := got.Results[0].Features["BMI"]; !ok || v != nil {
		t.Errorf("feature BMI = %v (present %v), want nil", v, ok)
	}
}

func TestListRuns_Empty(t *testing.T) {
	s := openTestStore(t)
	runs, err := s.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("ListRuns on empty store = %d runs", len(runs))
	}
}

func TestGetRunByTimestamp(t *testing.T) {
	s := openTestStore(t)
	ts := time.Date(2025, 5, 1, 9, 30, 15, 123000000, time.UTC)
	if err := s.AppendRun(testRun("r1", ts, "Stroke")); err != nil {
		t.Fatalf("AppendRun: %v", err)
	}

	for _, key := range []string{ts.Format(time.RFC3339Nano), ts.Format(TimestampLayout), "2025-05-01T11:30:15.123+02:00"} {
		got, err := s.GetRunByTimestamp(key)
		if err != nil {
			t.Fatalf("GetRunByTimestamp(%q): %v", key, err)
		}
		if got.ID != "r1" {
			t.Errorf("GetRunByTimestamp(%q).ID = %q", key, got.ID)
		}
	}

	if _, err := s.GetRunByTimestamp(ts.Add(time.Second).Format(time.RFC3339)); err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetRunByTimestamp("yesterday"); err == nil || err == ErrNotFound {
		t.Errorf("malformed timestamp error = %v", err)
	}
}

func TestRunsAreAppendOnly(t *testing.T) {
	s := openTestStore(t)
	if err := s.AppendRun(testRun("r1", time.Now(), "Stroke")); err != nil {
		t.Fatalf("AppendRun: %v", err)
	}

	if _, err := s.db.Exec("UPDATE runs SET username = 'mallory'"); err == nil {
		t.Error("UPDATE on runs succeeded")
	}
	if _, err := s.db.Exec("DELETE FROM runs"); err == nil {
		t.Error("DELETE on runs succeeded")
	}
	if err := s.AppendRun(testRun("r1", time.Now(), "Stroke")); err == nil {
		t.Error("duplicate id accepted")
	}

	n, err := s.CountRuns()
	if err != nil {
		t.Fatalf("CountRuns: %v", err)
	}
	if n != 1 {
		t.Errorf("CountRuns = %d, want 1", n)
	}
}

func TestRunKeyAndPredictions(t *testing.T) {
	r := testRun("r", time.Date(2025, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600)), "Stroke", "No Stroke")
	if got, want := r.Key(), "2025-01-02T02:04:05.000000000Z"; got != want {
		t.Errorf("Key = %q, want %q", got, want)
	}
	labels := r.Predictions()
	if len(labels) != 2 || labels[0] != "Stroke" || labels[1] != "No Stroke" {
		t.Errorf("Predictions = %v", labels)
	}
}
