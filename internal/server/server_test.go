package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epub2tts/epub2tts/internal/cache"
	"github.com/epub2tts/epub2tts/internal/catalog"
	"github.com/epub2tts/epub2tts/internal/config"
	"github.com/epub2tts/epub2tts/internal/conversion"
	"github.com/epub2tts/epub2tts/internal/dispatch"
	"github.com/epub2tts/epub2tts/internal/jobs"
	"github.com/epub2tts/epub2tts/internal/preview"
)

// bookRunner pretends to convert by writing the artifact next to the source.
type bookRunner struct {
	release chan struct{}
}

func (r *bookRunner) Dispatch(ctx context.Context, req *conversion.Request, sink func(dispatch.Line)) (*conversion.Result, error) {
	sink(dispatch.Line{Text: "Reading " + filepath.Base(req.Source()), Time: time.Now()})
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return nil, &conversion.CanceledError{Cause: ctx.Err()}
		}
	}
	sink(dispatch.Line{Text: "Chapter 1 done", Time: time.Now()})

	artifact := filepath.Join(filepath.Dir(req.Source()), req.ArtifactName())
	if err := os.WriteFile(artifact, []byte("m4b-data"), 0o644); err != nil {
		return nil, err
	}
	return &conversion.Result{Artifact: artifact, Size: 8}, nil
}

type fakeArchive struct {
	meta  cache.ArchiveMeta
	lines []string
}

func (a *fakeArchive) Get(id string) ([]string, cache.ArchiveMeta, error) {
	if id != a.meta.ID {
		return nil, cache.ArchiveMeta{}, cache.ErrNotFound
	}
	return a.lines, a.meta, nil
}

func (a *fakeArchive) Meta(id string) (cache.ArchiveMeta, bool) {
	return a.meta, id == a.meta.ID
}

type stubSynth struct{}

func (stubSynth) ContentType() string { return "audio/mpeg" }

func (stubSynth) Synthesize(_ context.Context, speaker, _ string) ([]byte, error) {
	return []byte("ID3" + speaker), nil
}

// streamRecorder adds the CloseNotifier gin's Stream relies on.
type streamRecorder struct {
	*httptest.ResponseRecorder
}

func (streamRecorder) CloseNotify() <-chan bool { return make(chan bool) }

type harness struct {
	srv     *Server
	manager *jobs.Manager
	runner  *bookRunner
}

func newHarness(t *testing.T, mutate func(*config.ServerConfig)) *harness {
	t.Helper()

	reg, err := catalog.Builtin("")
	require.NoError(t, err)

	cfg := config.Default().Server
	cfg.UploadDir = t.TempDir()
	cfg.RateLimit = 0
	if mutate != nil {
		mutate(&cfg)
	}

	logger := log.New(&bytes.Buffer{})
	runner := &bookRunner{}
	manager := jobs.NewManager(runner, jobs.Options{Logger: logger})
	t.Cleanup(func() { _ = manager.Shutdown(context.Background()) })

	var srv *Server
	pv := preview.NewService(func() *catalog.Registry { return srv.Registry() }, cache.NewMemoryCache(1<<20), logger)
	pv.Register(catalog.EngineEdge, stubSynth{})

	srv, err = New(Options{
		Config:   cfg,
		Registry: reg,
		Jobs:     manager,
		Preview:  pv,
		Archive:  &fakeArchive{meta: cache.ArchiveMeta{ID: "old", Status: "failed"}, lines: []string{"Traceback", "boom"}},
		Logger:   logger,
	})
	require.NoError(t, err)

	return &harness{srv: srv, manager: manager, runner: runner}
}

func (h *harness) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)

	var resp APIResponse
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func uploadRequest(t *testing.T, filename string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte("PK epub"))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/conversions", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func waitJob(t *testing.T, m *jobs.Manager, id string) *jobs.Job {
	t.Helper()
	job, err := m.Get(id)
	require.NoError(t, err)
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("job %s did not finish", id)
	}
	return job
}

func TestIndex(t *testing.T) {
	h := newHarness(t, nil)
	w, _ := h.do(t, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<title>epub2tts</title>")
}

func TestEngines(t *testing.T) {
	h := newHarness(t, nil)
	w, resp := h.do(t, httptest.NewRequest(http.MethodGet, "/api/engines", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)

	engines := resp.Data.([]any)
	require.Len(t, engines, 6)
	first := engines[0].(map[string]any)
	assert.Equal(t, "tts", first["id"])
	assert.Equal(t, "p335", first["default_speaker"])
	assert.Equal(t, false, first["preview"])

	edge := engines[2].(map[string]any)
	assert.Equal(t, "edge", edge["id"])
	assert.Equal(t, true, edge["preview"])
}

func TestSpeakers(t *testing.T) {
	h := newHarness(t, nil)

	w, resp := h.do(t, httptest.NewRequest(http.MethodGet, "/api/engines/openai/speakers", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, resp.Data, "nova")

	w, resp = h.do(t, httptest.NewRequest(http.MethodGet, "/api/engines/festival/speakers", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestValidate(t *testing.T) {
	h := newHarness(t, nil)

	tests := []struct {
		name   string
		body   map[string]any
		status int
		field  string
		kind   string
	}{
		{
			name:   "valid defaults",
			body:   map[string]any{"source": "book.epub"},
			status: http.StatusOK,
		},
		{
			name:   "speaker from another engine",
			body:   map[string]any{"source": "book.epub", "engine": "openai", "speaker": "p335"},
			status: http.StatusUnprocessableEntity,
			field:  "speaker",
			kind:   string(conversion.KindSpeakerNotSupported),
		},
		{
			name:   "reversed range",
			body:   map[string]any{"source": "book.epub", "start": 10, "end": 5},
			status: http.StatusUnprocessableEntity,
			field:  "start",
			kind:   string(conversion.KindInvalidRange),
		},
		{
			name:   "bad format",
			body:   map[string]any{"source": "book.epub", "format": "mp3"},
			status: http.StatusUnprocessableEntity,
			field:  "format",
			kind:   string(conversion.KindInvalidOption),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := h.do(t, jsonRequest(t, http.MethodPost, "/api/validate", tt.body))
			require.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.field == "" {
				assert.True(t, resp.Success)
				return
			}

			violations := resp.Data.(map[string]any)["violations"].([]any)
			found := false
			for _, v := range violations {
				m := v.(map[string]any)
				if m["field"] == tt.field && m["kind"] == tt.kind {
					found = true
				}
			}
			assert.True(t, found, "expected %s/%s in %v", tt.field, tt.kind, violations)
		})
	}
}

func TestSubmitUploadAndDownload(t *testing.T) {
	h := newHarness(t, nil)

	w, resp := h.do(t, uploadRequest(t, "The Hobbit.epub", map[string]string{
		"engine":    "edge",
		"speaker":   "en-US-GuyNeural",
		"skiplinks": "true",
	}))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	id := resp.Data.(map[string]any)["id"].(string)
	job := waitJob(t, h.manager, id)
	require.Equal(t, jobs.StatusCompleted, job.Status())
	assert.True(t, job.Request().SkipLinks())

	result, err := job.Result()
	require.NoError(t, err)
	assert.Equal(t, "The Hobbit-en-us-guyneural.m4b", filepath.Base(result.Artifact))

	dl := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(dl, httptest.NewRequest(http.MethodGet, "/api/conversions/"+id+"/download", nil))
	assert.Equal(t, http.StatusOK, dl.Code)
	assert.Equal(t, "m4b-data", dl.Body.String())
	assert.Contains(t, dl.Header().Get("Content-Disposition"), "The Hobbit-en-us-guyneural.m4b")

	w, resp = h.do(t, httptest.NewRequest(http.MethodGet, "/api/conversions/"+id, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", resp.Data.(map[string]any)["status"])
}

func TestSubmitRejectsInvalidUpload(t *testing.T) {
	h := newHarness(t, nil)

	w, resp := h.do(t, uploadRequest(t, "book.epub", map[string]string{
		"engine":  "openai",
		"speaker": "p335",
	}))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.False(t, resp.Success)
	assert.Empty(t, h.manager.List())

	entries, err := os.ReadDir(h.srv.cfg.UploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected uploads should be removed")
}

func TestSubmitJSONSourceRoot(t *testing.T) {
	root := t.TempDir()
	book := filepath.Join(root, "shelf", "book.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(book), 0o755))
	require.NoError(t, os.WriteFile(book, []byte("Chapter 1"), 0o644))

	outside := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))

	link := filepath.Join(root, "link.txt")
	require.NoError(t, os.Symlink(outside, link))

	tests := []struct {
		name   string
		root   string
		source string
		want   int
	}{
		{"inside root", root, book, http.StatusAccepted},
		{"missing inside root", root, filepath.Join(root, "missing.epub"), http.StatusUnprocessableEntity},
		{"outside root", root, outside, http.StatusForbidden},
		{"escapes with dots", root, root + "/shelf/../../" + filepath.Base(filepath.Dir(outside)) + "/secret.txt", http.StatusForbidden},
		{"symlink out of root", root, link, http.StatusForbidden},
		{"system file", root, "/etc/passwd", http.StatusForbidden},
		{"no root configured", "", book, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(c *config.ServerConfig) { c.SourceRoot = tt.root })

			w, resp := h.do(t, jsonRequest(t, http.MethodPost, "/api/conversions", map[string]any{
				"source": tt.source,
			}))
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			if tt.want == http.StatusForbidden {
				assert.False(t, resp.Success)
				assert.Empty(t, h.manager.List())
			}
			if tt.want == http.StatusAccepted {
				waitJob(t, h.manager, resp.Data.(map[string]any)["id"].(string))
			}
		})
	}
}

func TestEventsStream(t *testing.T) {
	h := newHarness(t, nil)

	w, resp := h.do(t, uploadRequest(t, "book.txt", nil))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	id := resp.Data.(map[string]any)["id"].(string)
	waitJob(t, h.manager, id)

	ev := streamRecorder{httptest.NewRecorder()}
	h.srv.Handler().ServeHTTP(ev, httptest.NewRequest(http.MethodGet, "/api/conversions/"+id+"/events", nil))

	body := ev.Body.String()
	assert.Contains(t, body, "event:line\ndata:Reading book.txt")
	assert.Contains(t, body, "data:Chapter 1 done")
	assert.Contains(t, body, "event:done")
	assert.True(t, strings.HasPrefix(ev.Header().Get("Content-Type"), "text/event-stream"), ev.Header().Get("Content-Type"))
}

func TestCancel(t *testing.T) {
	h := newHarness(t, nil)
	h.runner.release = make(chan struct{})

	w, resp := h.do(t, uploadRequest(t, "book.epub", nil))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	id := resp.Data.(map[string]any)["id"].(string)

	w, _ = h.do(t, httptest.NewRequest(http.MethodDelete, "/api/conversions/"+id, nil))
	assert.Equal(t, http.StatusAccepted, w.Code)

	job := waitJob(t, h.manager, id)
	assert.Equal(t, jobs.StatusCanceled, job.Status())

	w, _ = h.do(t, httptest.NewRequest(http.MethodDelete, "/api/conversions/"+id, nil))
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = h.do(t, httptest.NewRequest(http.MethodGet, "/api/conversions/"+id+"/download", nil))
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = h.do(t, httptest.NewRequest(http.MethodDelete, "/api/conversions/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLogFallsBackToArchive(t *testing.T) {
	h := newHarness(t, nil)

	w, resp := h.do(t, httptest.NewRequest(http.MethodGet, "/api/conversions/old/log", nil))
	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]any)
	assert.Equal(t, "failed", data["status"])
	assert.Equal(t, []any{"Traceback", "boom"}, data["lines"])

	w, _ = h.do(t, httptest.NewRequest(http.MethodGet, "/api/conversions/unknown/log", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, resp = h.do(t, httptest.NewRequest(http.MethodGet, "/api/conversions/old", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "archived", resp.Message)
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, func(c *config.ServerConfig) {
		c.RateLimit = 0.001
		c.RateBurst = 1
	})

	w, _ := h.do(t, uploadRequest(t, "a.epub", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)

	w, resp := h.do(t, uploadRequest(t, "b.epub", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.False(t, resp.Success)
}

func TestPreview(t *testing.T) {
	h := newHarness(t, nil)

	w, _ := h.do(t, httptest.NewRequest(http.MethodGet, "/api/engines/edge/speakers/en-US-AriaNeural/preview", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "audio/mpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, "ID3en-US-AriaNeural", w.Body.String())

	w, _ = h.do(t, httptest.NewRequest(http.MethodGet, "/api/engines/tts/speakers/p335/preview", nil))
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	w, _ = h.do(t, httptest.NewRequest(http.MethodGet, "/api/engines/edge/speakers/p335/preview", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestSetRegistry(t *testing.T) {
	h := newHarness(t, nil)

	reg, err := h.srv.Registry().With(catalog.NewStaticProvider("piper", "amy"))
	require.NoError(t, err)
	h.srv.SetRegistry(reg)
	h.srv.SetRegistry(nil)

	w, resp := h.do(t, httptest.NewRequest(http.MethodGet, "/api/engines/piper/speakers", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{"amy"}, resp.Data)
}
