package post

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/a-h/labreport"
	"github.com/a-h/labreport/auth"
	"github.com/a-h/labreport/models"
	"github.com/a-h/labreport/pipeline"
	"github.com/a-h/respond"
	"github.com/google/uuid"
)

const DefaultMaxUploadBytes = 32 << 20

type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

// New creates the handler. Uploads are written to tempDir, or the system
// temp directory when it is empty, and removed before the response is sent.
func New(log *slog.Logger, runner Runner, tempDir string, maxUploadBytes int64) Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return Handler{
		log:            log,
		runner:         runner,
		tempDir:        tempDir,
		maxUploadBytes: maxUploadBytes,
	}
}

type Handler struct {
	log            *slog.Logger
	runner         Runner
	tempDir        string
	maxUploadBytes int64
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	runID := uuid.NewString()
	log := h.log.With(slog.String("runID", runID))
	if user, ok := auth.GetUser(r); ok {
		log = log.With(slog.String("user", user))
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, fmt.Sprintf("upload exceeds %d bytes", mbe.Limit), http.StatusRequestEntityTooLarge)
			return
		}
		log.Warn("failed to parse form", slog.Any("error", err))
		writeError(w, "expected a multipart form with manual_file and observations", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(models.GenerateFieldManualFile)
	if err != nil {
		writeError(w, "no manual_file provided", http.StatusBadRequest)
		return
	}
	defer file.Close()
	if header.Filename == "" {
		writeError(w, "no file selected", http.StatusBadRequest)
		return
	}
	observations := r.FormValue(models.GenerateFieldObservations)
	if strings.TrimSpace(observations) == "" {
		writeError(w, "no observations provided", http.StatusBadRequest)
		return
	}

	path, err := h.saveUpload(file, header.Filename)
	if err != nil {
		log.Error("failed to save upload", slog.Any("error", err))
		respond.WithJSON(w, models.ErrorResponse{Error: "failed to save upload", Kind: string(labreport.KindInternal)}, http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Error("failed to remove upload", slog.String("path", path), slog.Any("error", err))
		}
	}()

	log.Info("generating report", slog.String("filename", header.Filename), slog.Int64("size", header.Size))
	res, err := h.runner.Run(r.Context(), pipeline.Request{
		ID:           runID,
		ManualPath:   path,
		Observations: observations,
	})
	if err != nil {
		resp := models.ErrorResponse{
			Error: err.Error(),
			Kind:  string(labreport.KindOf(err)),
		}
		var se *pipeline.StageError
		if errors.As(err, &se) {
			resp.Stage = string(se.Stage)
		}
		respond.WithJSON(w, resp, http.StatusInternalServerError)
		return
	}
	respond.WithJSON(w, models.GeneratePostResponse{Report: res.Report}, http.StatusOK)
}

// saveUpload copies the upload to a new temp file that keeps the lowercased
// extension of the original name, so the extractor can dispatch on it.
func (h Handler) saveUpload(src multipart.File, filename string) (path string, err error) {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if strings.ContainsAny(ext, `*/\`) {
		ext = ""
	}
	f, err := os.CreateTemp(h.tempDir, "labreport-upload-*"+ext)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close temp file: %w", closeErr)
		}
		if err != nil {
			os.Remove(f.Name())
		}
	}()
	if _, err = io.Copy(f, src); err != nil {
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	return f.Name(), nil
}

func writeError(w http.ResponseWriter, msg string, status int) {
	respond.WithJSON(w, models.ErrorResponse{Error: msg}, status)
}
