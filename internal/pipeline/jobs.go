package pipeline

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgallion1/examseg/internal/extract"
)

// JobStatus represents the state of an extraction job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusExtracting JobStatus = "extracting"
	StatusImages     JobStatus = "images"
	StatusExporting  JobStatus = "exporting"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusPartial    JobStatus = "partial"
)

// Job tracks the state of a single document extraction.
type Job struct {
	mu sync.Mutex

	ID    string `json:"job_id"`
	DocID string `json:"doc_id"`

	Status   JobStatus `json:"status"`
	Phase    string    `json:"phase"`
	Filename string    `json:"filename"`

	Progress Progress `json:"progress"`

	ContentHash string    `json:"content_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Internal: not serialized.
	fileData    []byte
	result      *extract.Result
	questionIDs []string
	images      [][]extract.ImageExtract
	errors      []string
}

// Progress tracks processing progress.
type Progress struct {
	TotalQuestions     int      `json:"total_questions"`
	QuestionsProcessed int      `json:"questions_processed"`
	ImagesSaved        int      `json:"images_saved"`
	RecordsExported    int      `json:"records_exported"`
	Errors             []string `json:"errors"`
}

// NewJob returns a queued job for the uploaded document data.
func NewJob(filename string, data []byte) *Job {
	now := time.Now()
	hash := ContentHashHex(data)
	return &Job{
		ID:          uuid.NewString(),
		DocID:       hash[:16],
		Status:      StatusQueued,
		Phase:       "queued",
		Filename:    filename,
		ContentHash: hash,
		CreatedAt:   now,
		UpdatedAt:   now,
		fileData:    data,
	}
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Cleanup removes expired jobs.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		if now.Sub(job.updatedAt()) > s.ttl {
			delete(s.jobs, id)
		}
	}
}

func (j *Job) updatedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.UpdatedAt
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// SetResult stores the extraction result and sizes the per-question slots.
func (j *Job) SetResult(res extract.Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.result = &res
	j.questionIDs = make([]string, len(res.Questions))
	j.images = make([][]extract.ImageExtract, len(res.Questions))
	j.Progress.TotalQuestions = len(res.Questions)
	j.UpdatedAt = time.Now()
}

// AddQuestionImages records the owning id and saved images of question i.
func (j *Job) AddQuestionImages(i int, id string, imgs []extract.ImageExtract) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if i < 0 || i >= len(j.images) {
		return
	}
	j.questionIDs[i] = id
	j.images[i] = imgs
	j.Progress.QuestionsProcessed++
	j.Progress.ImagesSaved += len(imgs)
	j.UpdatedAt = time.Now()
}

// AddExported records exported record counts.
func (j *Job) AddExported(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.RecordsExported += n
	j.UpdatedAt = time.Now()
}

// SetFileData sets the raw file bytes for processing.
func (j *Job) SetFileData(data []byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fileData = data
}

// FileData returns the raw file bytes.
func (j *Job) FileData() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fileData
}

// Result returns the extraction result once available.
func (j *Job) Result() (extract.Result, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.result == nil {
		return extract.Result{}, false
	}
	return *j.result, true
}

// QuestionRecord is one extracted question with its saved images.
type QuestionRecord struct {
	ID       string                  `json:"id"`
	Question extract.QuestionExtract `json:"question"`
	Images   []extract.ImageExtract  `json:"images"`
}

// Questions returns the question records processed so far.
func (j *Job) Questions() []QuestionRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.result == nil {
		return nil
	}
	out := make([]QuestionRecord, 0, len(j.result.Questions))
	for i, q := range j.result.Questions {
		if j.questionIDs[i] == "" {
			continue
		}
		out = append(out, QuestionRecord{ID: j.questionIDs[i], Question: q, Images: j.images[i]})
	}
	return out
}

// Question returns the first record whose question has the given number.
func (j *Job) Question(number int) (QuestionRecord, bool) {
	for _, rec := range j.Questions() {
		if rec.Question.Number == number {
			return rec, true
		}
	}
	return QuestionRecord{}, false
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID          string                 `json:"job_id"`
	DocID       string                 `json:"doc_id"`
	Status      JobStatus              `json:"status"`
	Phase       string                 `json:"phase"`
	Filename    string                 `json:"filename"`
	ContentHash string                 `json:"content_hash"`
	Progress    Progress               `json:"progress"`
	Result      *extract.Result        `json:"result,omitempty"`
	QuestionIDs []string               `json:"question_ids,omitempty"`
	Images      []extract.ImageExtract `json:"images,omitempty"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := make([]string, len(j.Progress.Errors))
	copy(errs, j.Progress.Errors)
	snap := JobSnapshot{
		ID:          j.ID,
		DocID:       j.DocID,
		Status:      j.Status,
		Phase:       j.Phase,
		Filename:    j.Filename,
		ContentHash: j.ContentHash,
		Progress: Progress{
			TotalQuestions:     j.Progress.TotalQuestions,
			QuestionsProcessed: j.Progress.QuestionsProcessed,
			ImagesSaved:        j.Progress.ImagesSaved,
			RecordsExported:    j.Progress.RecordsExported,
			Errors:             errs,
		},
	}
	if j.result != nil {
		res := *j.result
		snap.Result = &res
		snap.QuestionIDs = append([]string(nil), j.questionIDs...)
		for _, imgs := range j.images {
			snap.Images = append(snap.Images, imgs...)
		}
	}
	return snap
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
