package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/dgallion1/examseg/internal/pathstore"
)

// Exporter publishes extracted questions to pathstore. Keys are laid out
// under prefix as
//
//	documents/{doc_id}/meta
//	documents/{doc_id}/questions/{question_id}
//	by_hash/{content_hash}/{doc_id}
type Exporter struct {
	ps       *pathstore.Client
	prefix   string
	maxStore int
	backoff  func(int) time.Duration
	log      *slog.Logger
}

func NewExporter(ps *pathstore.Client, prefix string, maxConcurrent int, log *slog.Logger) *Exporter {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	return &Exporter{
		ps:       ps,
		prefix:   strings.Trim(prefix, "/"),
		maxStore: maxConcurrent,
		backoff:  Backoff,
		log:      log,
	}
}

func (e *Exporter) docPrefix(docID string) string {
	return fmt.Sprintf("%s/documents/%s", e.prefix, docID)
}

func (e *Exporter) hashPath(hash, docID string) string {
	return fmt.Sprintf("%s/by_hash/%s/%s", e.prefix, hash, docID)
}

// Exported reports whether content with this hash was exported before and
// returns the doc id it was stored under.
func (e *Exporter) Exported(ctx context.Context, hash string) (bool, string, error) {
	children, err := e.ps.ListChildren(ctx, fmt.Sprintf("%s/by_hash/%s", e.prefix, hash), 1)
	if err != nil {
		return false, "", err
	}
	if len(children) > 0 {
		parts := strings.Split(children[0].Key, ".")
		return true, parts[len(parts)-1], nil
	}
	return false, "", nil
}

// Export writes every processed question of job, then the document meta and
// the hash index. It returns the number of question records stored.
func (e *Exporter) Export(ctx context.Context, job *Job) (int, error) {
	res, ok := job.Result()
	if !ok {
		return 0, fmt.Errorf("job %s has no result", job.ID)
	}
	docPrefix := e.docPrefix(job.DocID)
	source := "examseg:" + job.DocID
	records := job.Questions()

	sem := make(chan struct{}, e.maxStore)
	type storeResult struct {
		path string
		err  error
	}
	results := make(chan storeResult, len(records))

	for _, rec := range records {
		sem <- struct{}{}
		go func(rec QuestionRecord) {
			defer func() { <-sem }()
			path := fmt.Sprintf("%s/questions/%s", docPrefix, rec.ID)
			err := withRetry(ctx, e.backoff, func() error {
				return e.ps.PutNode(ctx, path, pathstore.NodeRequest{
					Value:    questionValue(rec),
					Salience: 0.5,
					Source:   source,
				})
			})
			results <- storeResult{path: path, err: err}
		}(rec)
	}

	stored := 0
	var errs []error
	for range records {
		r := <-results
		if r.err != nil {
			e.log.Error("question export failed", "path", r.path, "error", r.err)
			errs = append(errs, fmt.Errorf("store %s: %w", r.path, r.err))
			continue
		}
		stored++
	}

	meta := map[string]any{
		"filename":        job.Filename,
		"content_hash":    job.ContentHash,
		"total_questions": res.TotalQuestions,
		"total_images":    res.TotalImages,
		"questions_saved": stored,
		"success_rate":    res.Validation.SuccessRate,
		"issues":          res.Validation.Issues,
		"created_at":      job.CreatedAt.Format(time.RFC3339),
	}
	err := withRetry(ctx, e.backoff, func() error {
		return e.ps.PutNode(ctx, docPrefix+"/meta", pathstore.NodeRequest{Value: meta, Salience: 0.5, Source: source})
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("meta: %w", err))
	}

	err = withRetry(ctx, e.backoff, func() error {
		return e.ps.PutNode(ctx, e.hashPath(job.ContentHash, job.DocID), pathstore.NodeRequest{
			Value: map[string]any{
				"filename":   job.Filename,
				"created_at": job.CreatedAt.Format(time.RFC3339),
			},
			Salience: 0.1,
			Source:   source,
		})
	})
	if err != nil {
		e.log.Error("hash index write failed", "error", err)
	}

	return stored, errors.Join(errs...)
}

func questionValue(rec QuestionRecord) map[string]any {
	q := rec.Question
	images := make([]map[string]any, 0, len(rec.Images))
	for _, img := range rec.Images {
		images = append(images, map[string]any{
			"id":              img.ID,
			"filename":        img.Filename,
			"image_type":      img.Role,
			"paragraph_index": img.ParagraphIndex,
			"position":        img.PositionInQuestion,
		})
	}
	return map[string]any{
		"number":          q.Number,
		"section":         q.SectionName,
		"group_id":        q.GroupID,
		"paragraph_range": q.ParagraphRange,
		"text":            strings.Join(q.Content.Texts(), "\n"),
		"total_images":    q.Content.TotalImages,
		"option_images":   q.Content.OptionImages,
		"images":          images,
	}
}

// ExportedDocument is the meta node of one exported document.
type ExportedDocument struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// ListDocuments returns the meta nodes of exported documents.
func (e *Exporter) ListDocuments(ctx context.Context) ([]ExportedDocument, error) {
	children, err := e.ps.ListChildren(ctx, e.prefix+"/documents", 200)
	if err != nil {
		return nil, err
	}
	docs := []ExportedDocument{}
	for _, child := range children {
		if strings.HasSuffix(child.Key, ".meta") {
			docs = append(docs, ExportedDocument{Key: child.Key, Value: child.Value})
		}
	}
	return docs, nil
}

// DeleteDocument removes an exported document, its questions and its hash
// index entry.
func (e *Exporter) DeleteDocument(ctx context.Context, docID string) error {
	docPrefix := e.docPrefix(docID)

	var hash string
	meta, err := e.ps.GetNode(ctx, docPrefix+"/meta")
	if err != nil {
		return fmt.Errorf("read meta: %w", err)
	}
	if meta != nil {
		if m, ok := meta.Value.(map[string]any); ok {
			hash, _ = m["content_hash"].(string)
		}
	}

	if err := e.ps.DeleteNode(ctx, docPrefix, true); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if hash != "" {
		if err := e.ps.DeleteNode(ctx, e.hashPath(hash, docID), false); err != nil {
			e.log.Warn("hash index delete failed", "doc_id", docID, "error", err)
		}
	}
	return nil
}
