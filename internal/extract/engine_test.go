package extract

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/dgallion1/examseg/internal/docmodel"
	"github.com/dgallion1/examseg/internal/docxtest"
	"github.com/dgallion1/examseg/internal/imagestore"
)

// examDoc lays out two sections; the second has a group whose preface
// carries an image.
//
//	0  一、常识判断
//	1  A、某选项内容 [img1]   before the number line
//	2  1
//	3  题干
//	4  A、某选项内容 [img2]
//	5  B．另一个 [img3]
//	6  二、资料分析
//	7  （一）
//	8  材料正文 [img4]
//	9  2
//	10 问题一
//	11 3
//	12 问题二 [img5]
func examDoc(t *testing.T) (*docmodel.Document, [][]byte) {
	t.Helper()
	imgs := make([][]byte, 5)
	for i := range imgs {
		imgs[i] = docxtest.PNG(t, 4, 4, uint8(40*(i+1)))
	}
	b := docxtest.New().
		Text("一、常识判断").
		Picture("A、某选项内容", "rId1").
		Text("1").
		Text("题干").
		Picture("A、某选项内容", "rId2").
		Picture("B．另一个", "rId3").
		Text("二、资料分析").
		Text("（一）").
		Picture("材料正文", "rId4").
		Text("2").
		Text("问题一").
		Text("3").
		Picture("问题二", "rId5")
	for i, img := range imgs {
		id := "rId" + string(rune('1'+i))
		b.Media(id, "media/image"+string(rune('1'+i))+".png", img)
	}
	data := b.Bytes(t)
	doc, err := docmodel.Parse(bytes.NewReader(data), int64(len(data)), "exam.docx")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return doc, imgs
}

func TestExtract_SingleQuestionSection(t *testing.T) {
	doc := docmodel.FromTexts("mem", "一、常识判断", "1", "历史知识题干")
	res := NewEngine(imagestore.NewDirStore(t.TempDir()), Baselines{}, nil).Extract(doc)

	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if res.TotalQuestions != 1 || len(res.Questions) != 1 {
		t.Fatalf("expected 1 question, got %d", res.TotalQuestions)
	}
	q := res.Questions[0]
	if q.Number != 1 || q.GroupID != 0 || q.SectionName != "一、常识判断" {
		t.Fatalf("unexpected question %+v", q)
	}
	if q.ParagraphRange != "1-3" {
		t.Fatalf("expected paragraph range 1-3, got %s", q.ParagraphRange)
	}
	if q.NumberIndex == nil || *q.NumberIndex != 1 {
		t.Fatalf("expected number index 1, got %v", q.NumberIndex)
	}
	if got := q.Content.Texts(); !reflect.DeepEqual(got, []string{"历史知识题干"}) {
		t.Fatalf("expected content [历史知识题干], got %v", got)
	}
	if q.Content.TotalTextLength != 6 {
		t.Fatalf("expected text length 6 runes, got %d", q.Content.TotalTextLength)
	}
	if len(res.Sections) != 1 || res.Sections[0].Count != 1 || !reflect.DeepEqual(res.Sections[0].QuestionNumbers, []int{1}) {
		t.Fatalf("unexpected sections %+v", res.Sections)
	}
}

func TestExtract_GroupPrefacePropagation(t *testing.T) {
	doc := docmodel.FromTexts("mem", "二、资料分析", "（一）", "材料正文", "6", "问题一", "7", "问题二")
	res := NewEngine(imagestore.NewDirStore(t.TempDir()), Baselines{}, nil).Extract(doc)

	q6, ok := res.Question(6)
	if !ok {
		t.Fatal("expected question 6")
	}
	q7, ok := res.Question(7)
	if !ok {
		t.Fatal("expected question 7")
	}
	if q6.GroupID != 1 || q7.GroupID != 1 {
		t.Fatalf("expected group 1, got %d and %d", q6.GroupID, q7.GroupID)
	}

	want6 := []string{"材料正文", "问题一"}
	want7 := []string{"材料正文", "问题二"}
	if got := q6.Content.Texts(); !reflect.DeepEqual(got, want6) {
		t.Fatalf("question 6: expected %v, got %v", want6, got)
	}
	if got := q7.Content.Texts(); !reflect.DeepEqual(got, want7) {
		t.Fatalf("question 7: expected %v, got %v", want7, got)
	}

	// The preface appears exactly once in the first question.
	count := 0
	for _, p := range q6.Content.Paragraphs {
		if p.Text == "材料正文" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected preface once in question 6, got %d", count)
	}
	if q7.Content.Paragraphs[0].ParagraphIndex != 2 || q7.Content.Paragraphs[1].ParagraphIndex != 6 {
		t.Fatalf("expected question 7 paragraphs [2 6], got %+v", q7.Content.Paragraphs)
	}
	if q7.Content.ParagraphCount != 2 || q7.Content.TotalTextLength != 7 {
		t.Fatalf("unexpected question 7 tallies %+v", q7.Content)
	}
}

func TestExtract_ImageTotalsCountPrefaceOnce(t *testing.T) {
	doc, _ := examDoc(t)
	res := NewEngine(imagestore.NewDirStore(t.TempDir()), Baselines{}, nil).Extract(doc)

	if res.TotalQuestions != 3 {
		t.Fatalf("expected 3 questions, got %d", res.TotalQuestions)
	}
	if res.TotalImages != 5 {
		t.Fatalf("expected 5 images overall, got %d", res.TotalImages)
	}
	if res.Sections[0].ImageCount != 3 || res.Sections[1].ImageCount != 2 {
		t.Fatalf("unexpected section image counts %+v", res.Sections)
	}

	q1, _ := res.Question(1)
	if q1.Content.TotalImages != 3 || q1.Content.OptionImages != 2 {
		t.Fatalf("question 1: expected 3 images with 2 options, got %+v", q1.Content)
	}
	q3, _ := res.Question(3)
	if q3.Content.TotalImages != 2 {
		t.Fatalf("question 3: expected preface image plus its own, got %d", q3.Content.TotalImages)
	}
	if q3.Content.OptionImages != 0 {
		t.Fatalf("question 3: expected no option images, got %d", q3.Content.OptionImages)
	}
}

func TestExtractImages_RolesPositionsAndFiles(t *testing.T) {
	doc, imgs := examDoc(t)
	store := imagestore.NewDirStore(t.TempDir())
	eng := NewEngine(store, Baselines{}, nil)
	res := eng.Extract(doc)

	q1, _ := res.Question(1)
	got := eng.ExtractImages(doc, q1, "owner-1")
	if len(got) != 3 {
		t.Fatalf("expected 3 images for question 1, got %d", len(got))
	}

	wantRoles := []Role{RoleMaterial, RoleOption, RoleOption}
	wantParas := []int{1, 4, 5}
	for i, img := range got {
		if img.PositionInQuestion != i {
			t.Errorf("image %d: expected position %d, got %d", i, i, img.PositionInQuestion)
		}
		if img.Role != wantRoles[i] {
			t.Errorf("image %d: expected role %s, got %s", i, wantRoles[i], img.Role)
		}
		if img.ParagraphIndex != wantParas[i] {
			t.Errorf("image %d: expected paragraph %d, got %d", i, wantParas[i], img.ParagraphIndex)
		}
		if img.OwningQuestionID != "owner-1" || img.ID == "" {
			t.Errorf("image %d: unexpected ids %q %q", i, img.ID, img.OwningQuestionID)
		}
		prefix := "question_1_" + string(rune('0'+i)) + "_"
		if !strings.HasPrefix(img.Filename, prefix) || !strings.HasSuffix(img.Filename, ".png") {
			t.Errorf("image %d: unexpected filename %s", i, img.Filename)
		}
		if len(img.Filename) != len(prefix)+8+len(".png") {
			t.Errorf("image %d: expected an 8-char random suffix, got %s", i, img.Filename)
		}
		data, err := os.ReadFile(filepath.Join(store.Dir(), img.Filename))
		if err != nil {
			t.Fatalf("image %d: reading saved file: %v", i, err)
		}
		if !bytes.Equal(data, imgs[i]) {
			t.Errorf("image %d: unexpected payload", i)
		}
	}
	if got[0].ContextText != "A、某选项内容" {
		t.Fatalf("expected context text from the paragraph, got %q", got[0].ContextText)
	}

	q3, _ := res.Question(3)
	got = eng.ExtractImages(doc, q3, "owner-3")
	if len(got) != 2 {
		t.Fatalf("expected preface and own image for question 3, got %d", len(got))
	}
	if got[0].ParagraphIndex != 8 || got[1].ParagraphIndex != 12 {
		t.Fatalf("expected paragraphs 8 and 12, got %d and %d", got[0].ParagraphIndex, got[1].ParagraphIndex)
	}
	if got[0].Role != RoleMaterial || got[1].Role != RoleMaterial {
		t.Fatalf("expected material roles, got %s and %s", got[0].Role, got[1].Role)
	}

	stats := eng.ImageStats()
	if stats.Saved != 5 || stats.Resolved != 5 || stats.WriteFailed != 0 {
		t.Fatalf("unexpected image stats %+v", stats)
	}
}

func TestExtractImages_OptionTextBeforeNumberIsMaterial(t *testing.T) {
	img := docxtest.PNG(t, 2, 2, 9)
	data := docxtest.New().
		Text("一、常识判断").
		Picture("A、某选项内容", "rId1").
		Text("1").
		Picture("A、某选项内容", "rId1").
		Media("rId1", "media/image1.png", img).
		Bytes(t)
	doc, err := docmodel.Parse(bytes.NewReader(data), int64(len(data)), "t.docx")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	eng := NewEngine(imagestore.NewDirStore(t.TempDir()), Baselines{}, nil)
	q, _ := eng.Extract(doc).Question(1)
	got := eng.ExtractImages(doc, q, "q")
	if len(got) != 2 {
		t.Fatalf("expected 2 images, got %d", len(got))
	}
	if got[0].Role != RoleMaterial {
		t.Fatalf("expected option-like text before the number to be material, got %s", got[0].Role)
	}
	if got[1].Role != RoleOption {
		t.Fatalf("expected option text after the number to be option, got %s", got[1].Role)
	}

	// Without a number index every paragraph counts as after the number.
	q.NumberIndex = nil
	got = eng.ExtractImages(doc, q, "q")
	if len(got) != 2 || got[0].Role != RoleOption {
		t.Fatalf("expected option role without a number index, got %+v", got)
	}
}

func TestExtractImages_FallbackParagraphs(t *testing.T) {
	doc, _ := examDoc(t)
	eng := NewEngine(imagestore.NewDirStore(t.TempDir()), Baselines{}, nil)

	q := QuestionExtract{Number: 9, ParagraphRange: "8-9"}
	got := eng.ExtractImages(doc, q, "x")
	if len(got) != 1 || got[0].ParagraphIndex != 8 {
		t.Fatalf("expected the range fallback to find paragraph 8, got %+v", got)
	}

	q = QuestionExtract{Number: 9, ParagraphRange: "garbage"}
	got = eng.ExtractImages(doc, q, "x")
	if len(got) != 5 {
		t.Fatalf("expected a malformed range to scan the whole document, got %d images", len(got))
	}
}

type flakyStore struct {
	inner *imagestore.DirStore
	calls int
	fail  map[int]bool
}

func (s *flakyStore) Save(name string, data []byte) (string, error) {
	s.calls++
	if s.fail[s.calls] {
		return "", errors.New("disk full")
	}
	return s.inner.Save(name, data)
}

func (s *flakyStore) Open(name string) (io.ReadCloser, error) {
	return s.inner.Open(name)
}

func TestExtractImages_WriteFailureOmitsImage(t *testing.T) {
	doc, _ := examDoc(t)
	store := &flakyStore{inner: imagestore.NewDirStore(t.TempDir()), fail: map[int]bool{2: true}}
	eng := NewEngine(store, Baselines{}, nil)
	q1, _ := eng.Extract(doc).Question(1)

	got := eng.ExtractImages(doc, q1, "q1")
	if len(got) != 2 {
		t.Fatalf("expected the failed image to be omitted, got %d", len(got))
	}
	if got[0].PositionInQuestion != 0 || got[1].PositionInQuestion != 1 {
		t.Fatalf("expected contiguous positions, got %d and %d", got[0].PositionInQuestion, got[1].PositionInQuestion)
	}
	if got[1].ParagraphIndex != 5 {
		t.Fatalf("expected the surviving option image from paragraph 5, got %d", got[1].ParagraphIndex)
	}
	if s := eng.ImageStats(); s.WriteFailed != 1 || s.Saved != 2 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestExtract_Idempotent(t *testing.T) {
	doc, _ := examDoc(t)
	dir := t.TempDir()

	run := func() (Result, []string, []string) {
		eng := NewEngine(imagestore.NewDirStore(dir), Baselines{}, nil)
		res := eng.Extract(doc)
		var payloads, names []string
		for _, q := range res.Questions {
			for _, img := range eng.ExtractImages(doc, q, "x") {
				data, err := os.ReadFile(filepath.Join(dir, img.Filename))
				if err != nil {
					t.Fatalf("reading %s: %v", img.Filename, err)
				}
				payloads = append(payloads, string(data))
				names = append(names, img.Filename)
			}
		}
		sort.Strings(payloads)
		return res, payloads, names
	}

	r1, p1, n1 := run()
	r2, p2, n2 := run()

	if r1.TotalQuestions != r2.TotalQuestions {
		t.Fatalf("question counts differ: %d vs %d", r1.TotalQuestions, r2.TotalQuestions)
	}
	for i := range r1.Questions {
		if r1.Questions[i].Content.TotalTextLength != r2.Questions[i].Content.TotalTextLength {
			t.Fatalf("question %d text length differs", r1.Questions[i].Number)
		}
	}
	if !reflect.DeepEqual(p1, p2) {
		t.Fatal("image payload multisets differ between runs")
	}
	for i := range n1 {
		if n1[i] == n2[i] {
			t.Fatalf("expected fresh random suffixes, got %s twice", n1[i])
		}
	}
}

func TestExtractFile_FatalError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.docx")
	if err := os.WriteFile(path, []byte("not a zip"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	res, err := NewEngine(imagestore.NewDirStore(t.TempDir()), DefaultBaselines(), nil).ExtractFile(path)
	if err == nil {
		t.Fatal("expected an error")
	}
	var fe *FatalError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FatalError, got %T", err)
	}
	if !errors.Is(err, docmodel.ErrNotDocx) {
		t.Fatalf("expected ErrNotDocx in chain, got %v", err)
	}
	if res.Success || res.Error == "" {
		t.Fatalf("expected unsuccessful result with message, got %+v", res)
	}
	if len(res.Questions) != 0 || res.TotalQuestions != 0 {
		t.Fatalf("expected no partial result, got %d questions", len(res.Questions))
	}
	if len(res.Validation.Issues) != 1 || !strings.HasPrefix(res.Validation.Issues[0], "提取过程错误: ") {
		t.Fatalf("unexpected issues %v", res.Validation.Issues)
	}
}

func TestExtractFile_Success(t *testing.T) {
	path := docxtest.New().Text("一、常识判断").Text("1").Text("题干").Text("2").Text("题干二").
		Write(t, t.TempDir(), "ok.docx")
	res, err := NewEngine(imagestore.NewDirStore(t.TempDir()), Baselines{}, nil).ExtractFile(path)
	if err != nil {
		t.Fatalf("ExtractFile: %v", err)
	}
	if res.Document != "ok.docx" || res.TotalQuestions != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Validation.Issues) != 0 {
		t.Fatalf("expected no issues, got %v", res.Validation.Issues)
	}
}

func TestSummary(t *testing.T) {
	doc := docmodel.FromTexts("mem", "一、常识判断", "1", "a", "3", "b")
	res := NewEngine(imagestore.NewDirStore(t.TempDir()), Baselines{}, nil).Extract(doc)
	out := Summary(res)
	for _, want := range []string{"questions: 2", "一、常识判断: 2 questions, 0 images", "1 issues:", "题目编号不连续: 1 -> 3"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected summary to contain %q, got:\n%s", want, out)
		}
	}

	failed := Summary(Failed(errors.New("boom")))
	if !strings.Contains(failed, "extraction failed: boom") {
		t.Fatalf("unexpected failure summary %q", failed)
	}
}
