package storage

import (
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}

	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

// TestIndexesExist verifies that the jobs indexes are created by the migration.
func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_jobs_status_updated", "idx_jobs_vector_index"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s not found", idx)
		}
	}
}

func TestKVRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Get("searchData"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing key: err = %v, want ErrNotFound", err)
	}

	if err := s.Set("searchData", `{"query":"a"}`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set("searchData", `{"query":"b"}`); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}

	got, err := s.Get("searchData")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != `{"query":"b"}` {
		t.Errorf("Get = %q, want overwritten value", got)
	}

	if err := s.Remove("searchData"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.Remove("searchData"); err != nil {
		t.Fatalf("Remove missing key: %v", err)
	}
	if _, err := s.Get("searchData"); !errors.Is(err, ErrNotFound) {
		t.Errorf("after Remove: err = %v, want ErrNotFound", err)
	}
}

func TestKeysByPrefix(t *testing.T) {
	s := openTestStore(t)

	for _, k := range []string{"chat:b", "chat:a", "chatHistory", "pdf:a", "note:a"} {
		if err := s.Set(k, "x"); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}

	keys, err := s.Keys("chat:")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "chat:a" || keys[1] != "chat:b" {
		t.Errorf("Keys(chat:) = %v, want [chat:a chat:b]", keys)
	}

	// LIKE wildcards in the prefix must be literal.
	if err := s.Set("a_b", "x"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("axb", "x"); err != nil {
		t.Fatal(err)
	}
	keys, err = s.Keys("a_")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "a_b" {
		t.Errorf("Keys(a_) = %v, want [a_b]", keys)
	}
}

func TestJSONHelpers(t *testing.T) {
	s := openTestStore(t)

	type entry struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	in := []entry{{ID: "1", Title: "Attention"}, {ID: "2", Title: "BERT"}}
	if err := s.SetJSON("notesIndex", in); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}

	var out []entry
	if err := s.GetJSON("notesIndex", &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if len(out) != 2 || out[1].Title != "BERT" {
		t.Errorf("GetJSON = %+v", out)
	}

	if err := s.Set("broken", "{not json"); err != nil {
		t.Fatal(err)
	}
	if err := s.GetJSON("broken", &out); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("GetJSON on malformed value: err = %v, want decode error", err)
	}
}

func TestSaveAndGetJob(t *testing.T) {
	s := openTestStore(t)

	job := Job{ID: "job-1", Kind: JobKindNotes, VectorIndex: "2401.00001"}
	if err := s.SaveJob(job); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	got, err := s.GetJob("job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != "running" {
		t.Errorf("Status = %q, want running", got.Status)
	}
	if got.Kind != JobKindNotes || got.VectorIndex != "2401.00001" {
		t.Errorf("job = %+v", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}
	if got.Terminal() {
		t.Error("running job reported terminal")
	}

	if _, err := s.GetJob("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetJob missing: err = %v, want ErrNotFound", err)
	}
}

func TestUpdateJobStatus(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveJob(Job{ID: "job-1", Kind: JobKindNotes, VectorIndex: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateJobStatus("job-1", "error", "model crashed"); err != nil {
		t.Fatalf("UpdateJobStatus: %v", err)
	}

	got, err := s.GetJob("job-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "error" || got.LastError != "model crashed" {
		t.Errorf("job = %+v", got)
	}
	if !got.Terminal() {
		t.Error("errored job should be terminal")
	}

	if err := s.UpdateJobStatus("missing", "done", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateJobStatus missing: err = %v, want ErrNotFound", err)
	}
}

func TestLatestJobAndList(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().Add(-time.Hour)
	jobs := []Job{
		{ID: "n1", Kind: JobKindNotes, VectorIndex: "p1", CreatedAt: base},
		{ID: "n2", Kind: JobKindNotes, VectorIndex: "p1", CreatedAt: base.Add(time.Minute)},
		{ID: "c1", Kind: JobKindChat, VectorIndex: "p1", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, j := range jobs {
		if err := s.SaveJob(j); err != nil {
			t.Fatalf("SaveJob %s: %v", j.ID, err)
		}
	}
	if err := s.UpdateJobStatus("n1", "done", ""); err != nil {
		t.Fatal(err)
	}

	latest, err := s.LatestJob(JobKindNotes, "p1")
	if err != nil {
		t.Fatalf("LatestJob: %v", err)
	}
	if latest.ID != "n2" {
		t.Errorf("LatestJob = %s, want n2", latest.ID)
	}
	if _, err := s.LatestJob(JobKindChat, "p2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LatestJob missing: err = %v", err)
	}

	all, err := s.ListJobs(10, false)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(all) != 3 || all[0].ID != "c1" {
		t.Errorf("ListJobs = %+v, want 3 newest first", all)
	}

	active, err := s.ListJobs(10, true)
	if err != nil {
		t.Fatalf("ListJobs active: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("active jobs = %d, want 2", len(active))
	}
}

func TestDeleteFinishedJobsBefore(t *testing.T) {
	s := openTestStore(t)

	for _, id := range []string{"done-1", "running-1"} {
		if err := s.SaveJob(Job{ID: id, Kind: JobKindNotes, VectorIndex: "x"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.UpdateJobStatus("done-1", "done", ""); err != nil {
		t.Fatal(err)
	}

	n, err := s.DeleteFinishedJobsBefore(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("DeleteFinishedJobsBefore: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	if _, err := s.GetJob("running-1"); err != nil {
		t.Errorf("running job removed: %v", err)
	}

	n, err = s.DeleteFinishedJobsBefore(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("deleted = %d, want 0", n)
	}
}

func TestNotFoundJobStaysActive(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveJob(Job{ID: "j1", Kind: JobKindNotes, VectorIndex: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateJobStatus("j1", "not_found", ""); err != nil {
		t.Fatal(err)
	}

	j, err := s.GetJob("j1")
	if err != nil {
		t.Fatal(err)
	}
	if j.Terminal() {
		t.Error("not_found job reported terminal")
	}

	active, err := s.ListJobs(10, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].ID != "j1" {
		t.Errorf("active = %+v, want j1", active)
	}

	n, err := s.DeleteFinishedJobsBefore(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("deleted = %d, want 0", n)
	}
}
