package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgallion1/examseg/internal/docxtest"
	"github.com/dgallion1/examseg/internal/extract"
	"github.com/dgallion1/examseg/internal/imagestore"
	"github.com/dgallion1/examseg/internal/pathstore"
)

// fakePathstore is an in-memory stand-in for the pathstore KV API.
type fakePathstore struct {
	mu    sync.Mutex
	nodes map[string]any
	// fail returns a status code to reply with instead of storing, or 0.
	fail func(key string) int
}

func newFakePathstore(t *testing.T) (*fakePathstore, *httptest.Server) {
	t.Helper()
	f := &fakePathstore{nodes: make(map[string]any)}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakePathstore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/kv/")
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		if f.fail != nil {
			if code := f.fail(key); code != 0 {
				http.Error(w, "injected", code)
				return
			}
		}
		var req pathstore.NodeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.nodes[key] = req.Value
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		if prefix, ok := strings.CutSuffix(key, "/*"); ok {
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			var nodes []pathstore.ListChildrenResponse
			for _, k := range f.sortedKeys() {
				if strings.HasPrefix(k, prefix+"/") {
					nodes = append(nodes, pathstore.ListChildrenResponse{Key: strings.ReplaceAll(k, "/", "."), Value: f.nodes[k]})
				}
				if limit > 0 && len(nodes) == limit {
					break
				}
			}
			json.NewEncoder(w).Encode(map[string]any{"nodes": nodes})
			return
		}
		v, ok := f.nodes[key]
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(pathstore.NodeResponse{Key: key, Value: v})
	case http.MethodDelete:
		delete(f.nodes, key)
		if r.URL.Query().Get("children") == "true" {
			for k := range f.nodes {
				if strings.HasPrefix(k, key+"/") {
					delete(f.nodes, k)
				}
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (f *fakePathstore) sortedKeys() []string {
	keys := make([]string, 0, len(f.nodes))
	for k := range f.nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (f *fakePathstore) keys(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, k := range f.sortedKeys() {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}

func examBytes(t *testing.T) []byte {
	t.Helper()
	return docxtest.New().
		Text("一、常识判断").
		Picture("材料", "rId1").
		Text("1").
		Text("题干").
		Text("2").
		Picture("A、选项", "rId2").
		Media("rId1", "media/image1.png", docxtest.PNG(t, 3, 3, 10)).
		Media("rId2", "media/image2.png", docxtest.PNG(t, 3, 3, 20)).
		Bytes(t)
}

func newTestWorker(t *testing.T, exporter *Exporter) (*Worker, string, *extract.ExtractionStats) {
	t.Helper()
	dir := t.TempDir()
	stats := extract.NewExtractionStats(time.Hour)
	engine := extract.NewEngine(imagestore.NewDirStore(dir), extract.Baselines{}, nil)
	return NewWorker(engine, exporter, stats, nil), dir, stats
}

func newTestExporter(srv *httptest.Server) *Exporter {
	e := NewExporter(pathstore.NewClient(srv.URL, "key"), "exams", 4, nil)
	e.backoff = func(int) time.Duration { return 0 }
	return e
}

func TestWorker_ProcessWithoutExport(t *testing.T) {
	w, dir, stats := newTestWorker(t, nil)
	job := NewJob("exam.docx", examBytes(t))
	w.Process(context.Background(), job)

	snap := job.Snapshot()
	if snap.Status != StatusCompleted || snap.Phase != "done" {
		t.Fatalf("expected completed job, got %s/%s errors=%v", snap.Status, snap.Phase, snap.Progress.Errors)
	}
	if snap.Result == nil || snap.Result.TotalQuestions != 2 {
		t.Fatalf("expected 2 questions, got %+v", snap.Result)
	}
	if snap.Progress.QuestionsProcessed != 2 || snap.Progress.ImagesSaved != 2 {
		t.Fatalf("unexpected progress %+v", snap.Progress)
	}
	for _, img := range snap.Images {
		if _, err := os.Stat(filepath.Join(dir, img.Filename)); err != nil {
			t.Errorf("expected %s on disk: %v", img.Filename, err)
		}
	}
	rec, ok := job.Question(2)
	if !ok || len(rec.Images) != 1 || rec.Images[0].Role != extract.RoleOption {
		t.Fatalf("expected question 2 with one option image, got %+v", rec)
	}
	if rec.Images[0].OwningQuestionID != rec.ID {
		t.Fatalf("expected image owned by %s, got %s", rec.ID, rec.Images[0].OwningQuestionID)
	}
	if job.FileData() != nil {
		t.Fatal("expected file data to be released")
	}
	if s := stats.Snapshot(); s.Count != 1 || s.Questions != 2 || s.Images != 2 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestWorker_UnreadableDocument(t *testing.T) {
	w, _, _ := newTestWorker(t, nil)
	job := NewJob("broken.docx", []byte("not a zip"))
	w.Process(context.Background(), job)

	snap := job.Snapshot()
	if snap.Status != StatusFailed {
		t.Fatalf("expected failed job, got %s", snap.Status)
	}
	if snap.Result == nil || snap.Result.Success || len(snap.Result.Questions) != 0 {
		t.Fatalf("expected unsuccessful result without questions, got %+v", snap.Result)
	}
	if len(snap.Progress.Errors) != 1 {
		t.Fatalf("expected 1 error, got %v", snap.Progress.Errors)
	}
}

func TestWorker_ProcessWithExport(t *testing.T) {
	ps, srv := newFakePathstore(t)
	w, _, _ := newTestWorker(t, newTestExporter(srv))
	data := examBytes(t)

	job := NewJob("exam.docx", data)
	w.Process(context.Background(), job)

	snap := job.Snapshot()
	if snap.Status != StatusCompleted || snap.Progress.RecordsExported != 2 {
		t.Fatalf("expected completed export of 2 records, got %s %+v", snap.Status, snap.Progress)
	}
	docPrefix := "exams/documents/" + job.DocID
	if got := ps.keys(docPrefix + "/questions/"); len(got) != 2 {
		t.Fatalf("expected 2 question nodes, got %v", got)
	}
	if got := ps.keys(docPrefix + "/meta"); len(got) != 1 {
		t.Fatalf("expected meta node, got %v", got)
	}
	if got := ps.keys("exams/by_hash/" + job.ContentHash + "/"); len(got) != 1 {
		t.Fatalf("expected hash index node, got %v", got)
	}

	again := NewJob("exam-copy.docx", data)
	w.Process(context.Background(), again)
	if s := again.Snapshot(); s.Status != StatusCompleted || s.Phase != "already_exported" {
		t.Fatalf("expected duplicate export to be skipped, got %s/%s", s.Status, s.Phase)
	}
}

func TestWorker_ExportRetriesAndPartialFailure(t *testing.T) {
	ps, srv := newFakePathstore(t)
	var failedOnce, rejected bool
	ps.fail = func(key string) int {
		switch {
		case strings.HasSuffix(key, "/meta") && !failedOnce:
			failedOnce = true
			return http.StatusServiceUnavailable
		case strings.Contains(key, "/questions/") && !rejected:
			rejected = true
			return http.StatusBadRequest
		}
		return 0
	}
	w, _, _ := newTestWorker(t, newTestExporter(srv))
	job := NewJob("exam.docx", examBytes(t))
	w.Process(context.Background(), job)

	snap := job.Snapshot()
	if snap.Status != StatusPartial {
		t.Fatalf("expected partial job, got %s", snap.Status)
	}
	if snap.Progress.RecordsExported != 1 {
		t.Fatalf("expected 1 exported record, got %d", snap.Progress.RecordsExported)
	}
	if got := ps.keys("exams/documents/" + job.DocID + "/meta"); len(got) != 1 {
		t.Fatal("expected meta to be written after a retry")
	}
}

func TestExporter_ListAndDelete(t *testing.T) {
	ps, srv := newFakePathstore(t)
	exp := newTestExporter(srv)
	w, _, _ := newTestWorker(t, exp)
	job := NewJob("exam.docx", examBytes(t))
	w.Process(context.Background(), job)

	docs, err := exp.ListDocuments(context.Background())
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 1 || !strings.HasSuffix(docs[0].Key, job.DocID+".meta") {
		t.Fatalf("unexpected documents %+v", docs)
	}

	if err := exp.DeleteDocument(context.Background(), job.DocID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if left := ps.keys("exams/"); len(left) != 0 {
		t.Fatalf("expected all nodes removed, got %v", left)
	}
}

func TestWithRetry(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), func(int) time.Duration { return 0 }, func() error {
		calls++
		return &pathstore.RetryableError{StatusCode: 503}
	})
	if err == nil || calls != MaxRetries {
		t.Fatalf("expected %d attempts and an error, got %d, %v", MaxRetries, calls, err)
	}
	if !IsRetryable(err) {
		t.Fatalf("expected the last retryable error, got %v", err)
	}

	calls = 0
	err = withRetry(context.Background(), func(int) time.Duration { return 0 }, func() error {
		calls++
		return context.DeadlineExceeded
	})
	if calls != 1 || err != context.DeadlineExceeded {
		t.Fatalf("expected no retry for a permanent error, got %d, %v", calls, err)
	}
}

func TestBackoff_Bounds(t *testing.T) {
	for attempt := range 8 {
		d := Backoff(attempt)
		base := time.Duration(1<<uint(attempt)) * time.Second
		if base > 30*time.Second {
			base = 30 * time.Second
		}
		if d < base || d >= base+base/2 {
			t.Errorf("attempt %d: expected [%s, %s), got %s", attempt, base, base+base/2, d)
		}
	}
}
