package server

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/epub2tts/epub2tts/internal/cache"
	"github.com/epub2tts/epub2tts/internal/catalog"
	"github.com/epub2tts/epub2tts/internal/conversion"
	"github.com/epub2tts/epub2tts/internal/jobs"
	"github.com/epub2tts/epub2tts/internal/preview"
)

//go:embed web/index.html
var indexHTML []byte

// EngineInfo describes one engine of the registry.
type EngineInfo struct {
	ID             string `json:"id"`
	Speakers       int    `json:"speakers"`
	DefaultSpeaker string `json:"default_speaker"`
	Preview        bool   `json:"preview"`
}

// LogResponse is the body of the log endpoint.
type LogResponse struct {
	ID     string   `json:"id"`
	Status string   `json:"status"`
	Lines  []string `json:"lines"`
}

func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

func (s *Server) handleHealth(c *gin.Context) {
	respondSuccess(c, http.StatusOK, gin.H{
		"engines": len(s.Registry().Engines()),
		"jobs":    len(s.jobs.List()),
	}, "")
}

func (s *Server) handleEngines(c *gin.Context) {
	reg := s.Registry()
	engines := reg.Engines()

	out := make([]EngineInfo, 0, len(engines))
	for _, id := range engines {
		speakers, _ := reg.Lookup(id)
		def, _ := reg.DefaultSpeaker(id)
		out = append(out, EngineInfo{
			ID:             id,
			Speakers:       len(speakers),
			DefaultSpeaker: def,
			Preview:        s.preview != nil && s.preview.Supports(id),
		})
	}
	respondSuccess(c, http.StatusOK, out, "")
}

func (s *Server) handleSpeakers(c *gin.Context) {
	speakers, err := s.Registry().Lookup(c.Param("engine"))
	if err != nil {
		respondError(c, http.StatusNotFound, err.Error(), gin.H{"engines": s.Registry().Engines()})
		return
	}
	respondSuccess(c, http.StatusOK, speakers, "")
}

func (s *Server) handlePreview(c *gin.Context) {
	if s.preview == nil {
		respondError(c, http.StatusNotImplemented, "voice previews are disabled", nil)
		return
	}

	clip, err := s.preview.Preview(c.Request.Context(), c.Param("engine"), c.Param("speaker"), c.Query("text"))
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrUnknownEngine):
			respondError(c, http.StatusNotFound, err.Error(), nil)
		case errors.Is(err, conversion.ErrSpeakerNotSupported):
			respondError(c, http.StatusUnprocessableEntity, err.Error(), nil)
		case errors.Is(err, preview.ErrUnsupported):
			respondError(c, http.StatusNotImplemented, err.Error(), nil)
		default:
			s.logger.Warn("voice preview failed", "engine", c.Param("engine"), "speaker", c.Param("speaker"), "error", err)
			respondError(c, http.StatusBadGateway, err.Error(), nil)
		}
		return
	}

	c.Header("Cache-Control", "private, max-age=3600")
	c.Data(http.StatusOK, clip.ContentType, clip.Data)
}

func (s *Server) handleValidate(c *gin.Context) {
	raw := conversion.DefaultRawOptions()
	if err := c.ShouldBindJSON(&raw); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body: "+err.Error(), nil)
		return
	}

	v := conversion.Validator{Registry: s.Registry()}
	req, err := v.Validate(raw)
	if err != nil {
		respondValidation(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, req, "options are valid")
}

func (s *Server) handleSubmit(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadMB<<20)

	raw := conversion.DefaultRawOptions()
	var uploadDir string

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		if err := c.ShouldBind(&raw); err != nil {
			respondError(c, http.StatusBadRequest, "invalid form: "+err.Error(), nil)
			return
		}
		dir, path, err := s.saveUpload(c)
		if err != nil {
			respondError(c, http.StatusBadRequest, err.Error(), nil)
			return
		}
		uploadDir = dir
		raw.Source = path
	} else {
		if err := c.ShouldBindJSON(&raw); err != nil {
			respondError(c, http.StatusBadRequest, "invalid request body: "+err.Error(), nil)
			return
		}
		if raw.Source != "" {
			if err := s.allowSource(raw.Source); err != nil {
				respondError(c, http.StatusForbidden, err.Error(), nil)
				return
			}
		}
	}

	v := conversion.Validator{Registry: s.Registry(), CheckSource: true}
	req, err := v.Validate(raw)
	if err != nil {
		if uploadDir != "" {
			_ = os.RemoveAll(uploadDir)
		}
		respondValidation(c, err)
		return
	}

	job, err := s.jobs.Submit(req)
	if err != nil {
		respondError(c, http.StatusServiceUnavailable, err.Error(), nil)
		return
	}
	respondSuccess(c, http.StatusAccepted, job.Snapshot(), "conversion queued")
}

// allowSource accepts a book given by path only when it lies below the
// configured source root. Without a root only uploads are converted.
func (s *Server) allowSource(source string) error {
	if s.cfg.SourceRoot == "" {
		return errors.New("converting books by path is disabled, upload the book instead")
	}
	root, err := resolve(s.cfg.SourceRoot)
	if err != nil {
		return errors.New("source root is not accessible")
	}
	path, err := resolve(source)
	if err != nil {
		// Missing files are reported by the validator.
		if errors.Is(err, fs.ErrNotExist) {
			path, _ = filepath.Abs(source)
		} else {
			return fmt.Errorf("source %s is not accessible", source)
		}
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("source %s is outside the source root", source)
	}
	return nil
}

func resolve(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err //nolint:wrapcheck
	}
	return filepath.EvalSymlinks(abs) //nolint:wrapcheck
}

// saveUpload stores the uploaded book in its own directory, since the
// converter writes its chapter files and artifact next to the source.
func (s *Server) saveUpload(c *gin.Context) (dir, path string, err error) {
	file, err := c.FormFile("file")
	if err != nil {
		return "", "", errors.New("missing uploaded file in field \"file\"")
	}

	name := filepath.Base(filepath.Clean(file.Filename))
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "", "", errors.New("uploaded file has no name")
	}

	dir = filepath.Join(s.cfg.UploadDir, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", err
	}
	path = filepath.Join(dir, name)
	if err := c.SaveUploadedFile(file, path); err != nil {
		_ = os.RemoveAll(dir)
		return "", "", err
	}
	return dir, path, nil
}

func respondValidation(c *gin.Context, err error) {
	var verr *conversion.ValidationError
	if errors.As(err, &verr) {
		respondError(c, http.StatusUnprocessableEntity, verr.Error(), gin.H{"violations": verr.Violations})
		return
	}
	respondError(c, http.StatusBadRequest, err.Error(), nil)
}

func (s *Server) handleListConversions(c *gin.Context) {
	respondSuccess(c, http.StatusOK, s.jobs.List(), "")
}

func (s *Server) handleGetConversion(c *gin.Context) {
	id := c.Param("id")
	job, err := s.jobs.Get(id)
	if err == nil {
		respondSuccess(c, http.StatusOK, job.Snapshot(), "")
		return
	}
	if meta, ok := s.archivedMeta(id); ok {
		respondSuccess(c, http.StatusOK, meta, "archived")
		return
	}
	respondJobError(c, err)
}

func (s *Server) handleCancel(c *gin.Context) {
	if err := s.jobs.Cancel(c.Param("id")); err != nil {
		respondJobError(c, err)
		return
	}
	respondSuccess(c, http.StatusAccepted, nil, "cancel requested")
}

func (s *Server) handleEvents(c *gin.Context) {
	id := c.Param("id")
	job, err := s.jobs.Get(id)
	if err != nil {
		respondJobError(c, err)
		return
	}
	lines, unsubscribe, err := s.jobs.Subscribe(id)
	if err != nil {
		respondJobError(c, err)
		return
	}
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	c.Stream(func(io.Writer) bool {
		select {
		case l, ok := <-lines:
			if !ok {
				if job.Status().IsFinished() {
					c.SSEvent("done", job.Snapshot())
				} else {
					// dropped for falling behind; the client reconnects
					c.SSEvent("lagged", id)
				}
				return false
			}
			c.SSEvent("line", l.Text)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (s *Server) handleDownload(c *gin.Context) {
	id := c.Param("id")

	var artifact string
	if job, err := s.jobs.Get(id); err == nil {
		if job.Status() != jobs.StatusCompleted {
			respondError(c, http.StatusConflict, "conversion is "+job.Status().String(), nil)
			return
		}
		result, _ := job.Result()
		artifact = result.Artifact
	} else if meta, ok := s.archivedMeta(id); ok && meta.Status == jobs.StatusCompleted.String() {
		artifact = meta.Artifact
	} else {
		respondJobError(c, err)
		return
	}

	if _, err := os.Stat(artifact); err != nil {
		respondError(c, http.StatusGone, "audiobook is no longer on disk", nil)
		return
	}
	c.FileAttachment(artifact, filepath.Base(artifact))
}

func (s *Server) handleLog(c *gin.Context) {
	id := c.Param("id")

	if job, err := s.jobs.Get(id); err == nil {
		lines := job.Lines()
		out := LogResponse{ID: id, Status: job.Status().String(), Lines: make([]string, len(lines))}
		for i, l := range lines {
			out.Lines[i] = l.Text
		}
		respondSuccess(c, http.StatusOK, out, "")
		return
	}

	if s.archive == nil {
		respondJobError(c, jobs.ErrNotFound)
		return
	}
	lines, meta, err := s.archive.Get(id)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			respondJobError(c, jobs.ErrNotFound)
			return
		}
		respondError(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	respondSuccess(c, http.StatusOK, LogResponse{ID: id, Status: meta.Status, Lines: lines}, "archived")
}

func (s *Server) archivedMeta(id string) (cache.ArchiveMeta, bool) {
	if s.archive == nil {
		return cache.ArchiveMeta{}, false
	}
	return s.archive.Meta(id)
}

func respondJobError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		respondError(c, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, jobs.ErrFinished):
		respondError(c, http.StatusConflict, err.Error(), nil)
	default:
		respondError(c, http.StatusInternalServerError, err.Error(), nil)
	}
}
