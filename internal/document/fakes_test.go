package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/yourusername/docforge/internal/codec"
	"github.com/yourusername/docforge/internal/jobs"
)

// fakePage / fakeDoc はテスト用の「PDF」です。JSON でページの出所と回転角を記録します。
type fakePage struct {
	Label    string `json:"label"`
	Rotation int    `json:"rotation"`
}

type fakeDoc struct {
	Pages []fakePage `json:"pages"`
}

func fakePDF(label string, pages int) []byte {
	doc := fakeDoc{}
	for i := 1; i <= pages; i++ {
		doc.Pages = append(doc.Pages, fakePage{Label: fmt.Sprintf("%s%d", label, i)})
	}
	data, _ := json.Marshal(doc)
	return data
}

func readFakeDoc(path string) (*fakeDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc fakeDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("not a pdf: %w", err)
	}
	return &doc, nil
}

func writeFakeDoc(path string, doc *fakeDoc) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o640)
}

func mustReadFakeDoc(t *testing.T, path string) *fakeDoc {
	t.Helper()
	doc, err := readFakeDoc(path)
	if err != nil {
		t.Fatalf("read output %s: %v", path, err)
	}
	return doc
}

func (d *fakeDoc) labels() []string {
	out := make([]string, len(d.Pages))
	for i, p := range d.Pages {
		out[i] = p.Label
	}
	return out
}

type fakeEngine struct {
	mu        sync.Mutex
	mergeErr  error
	onExtract func()
	calls     []string
}

func (e *fakeEngine) record(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, name)
}

func (e *fakeEngine) PageCount(_ context.Context, path string) (int, error) {
	doc, err := readFakeDoc(path)
	if err != nil {
		return 0, err
	}
	return len(doc.Pages), nil
}

func (e *fakeEngine) Validate(ctx context.Context, path string) error {
	e.record("validate")
	_, err := e.PageCount(ctx, path)
	return err
}

func (e *fakeEngine) Merge(_ context.Context, inputs []string, out string) error {
	e.record("merge")
	if e.mergeErr != nil {
		return e.mergeErr
	}
	merged := &fakeDoc{}
	for _, in := range inputs {
		doc, err := readFakeDoc(in)
		if err != nil {
			return err
		}
		merged.Pages = append(merged.Pages, doc.Pages...)
	}
	return writeFakeDoc(out, merged)
}

func (e *fakeEngine) ExtractPages(ctx context.Context, in, out string, pages []int) error {
	e.record("extract")
	if e.onExtract != nil {
		e.onExtract()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	doc, err := readFakeDoc(in)
	if err != nil {
		return err
	}
	result := &fakeDoc{}
	for _, p := range pages {
		if p < 1 || p > len(doc.Pages) {
			return fmt.Errorf("page %d out of range", p)
		}
		result.Pages = append(result.Pages, doc.Pages[p-1])
	}
	return writeFakeDoc(out, result)
}

func (e *fakeEngine) RotatePages(_ context.Context, in, out string, pages []int, degrees int) error {
	e.record("rotate")
	doc, err := readFakeDoc(in)
	if err != nil {
		return err
	}
	targets := map[int]bool{}
	for _, p := range pages {
		targets[p] = true
	}
	for i := range doc.Pages {
		if len(pages) == 0 || targets[i+1] {
			doc.Pages[i].Rotation = (doc.Pages[i].Rotation + degrees) % 360
		}
	}
	return writeFakeDoc(out, doc)
}

// fakeOptimizer は入力をそのまま書き出します。dropPage を立てると最終ページを落とします。
type fakeOptimizer struct {
	dropPage bool
}

func (o *fakeOptimizer) Optimize(_ context.Context, in, out string, _ codec.Preset) error {
	doc, err := readFakeDoc(in)
	if err != nil {
		return err
	}
	if o.dropPage && len(doc.Pages) > 0 {
		doc.Pages = doc.Pages[:len(doc.Pages)-1]
	}
	return writeFakeDoc(out, doc)
}

type fakeConverter struct {
	pairs map[string]bool
}

func (c *fakeConverter) Supports(from, to codec.Format) bool {
	return c.pairs[string(from)+">"+string(to)]
}

func (c *fakeConverter) Convert(_ context.Context, in string, from, to codec.Format, out string) error {
	if !c.Supports(from, to) {
		return codec.ErrUnsupportedConversion
	}
	body := "converted from " + filepath.Base(in)
	if from == codec.FormatTXT {
		data, err := os.ReadFile(in)
		if err != nil {
			return err
		}
		body += "\n" + string(data)
	}
	return os.WriteFile(out, []byte(body), 0o640)
}

type fakePublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *fakePublisher) Upload(_ context.Context, key, _, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return nil
}

func (p *fakePublisher) PresignGet(_ context.Context, key string) (string, error) {
	return "https://objects.example.com/" + key + "?sig=test", nil
}

// detectByExt は拡張子で形式を判定します。
func detectByExt(path string) (codec.Format, error) {
	f, ok := codec.ParseFormat(strings.TrimPrefix(filepath.Ext(path), "."))
	if !ok {
		return "", codec.ErrUnknownFormat
	}
	return f, nil
}

type testEnv struct {
	svc    *Service
	store  *jobs.Store
	engine *fakeEngine
	opt    *fakeOptimizer
	conv   *fakeConverter
	root   string
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	root := t.TempDir()
	store, err := jobs.NewStore(jobs.NewMemoryBackend(), root, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	env := &testEnv{
		store:  store,
		engine: &fakeEngine{},
		opt:    &fakeOptimizer{},
		conv:   &fakeConverter{pairs: map[string]bool{"pdf>docx": true, "png>pdf": true, "txt>docx": true, "txt>pdf": true}},
		root:   root,
	}
	if opts.Detect == nil {
		opts.Detect = detectByExt
	}
	svc, err := NewService(store, env.engine, env.opt, env.conv, opts)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	env.svc = svc
	return env
}

type testFile struct {
	name string
	data []byte
}

func (env *testEnv) upload(t *testing.T, files ...testFile) string {
	t.Helper()
	payloads := make([]Payload, len(files))
	for i, f := range files {
		payloads[i] = Payload{Name: f.name, Body: strings.NewReader(string(f.data))}
	}
	res, err := env.svc.Upload(context.Background(), payloads)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	return res.JobID
}

func assertKind(t *testing.T, err, kind error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v, got nil", kind)
	}
	if !errors.Is(err, kind) {
		t.Fatalf("expected %v, got %v", kind, err)
	}
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %T (%v)", err, err)
	}
	if apiErr.Code != code {
		t.Fatalf("code = %s, want %s (%v)", apiErr.Code, code, err)
	}
}
