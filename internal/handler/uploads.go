package handler

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/photo-credits/internal/apperr"
	"github.com/mmeshcher/photo-credits/internal/model"
	"github.com/mmeshcher/photo-credits/internal/service"
	"github.com/mmeshcher/photo-credits/internal/validation"
)

const (
	// maxBatchFiles ограничивает число файлов в одном запросе загрузки.
	maxBatchFiles = 15
	// multipartMemory задаёт объём формы, который держится в памяти до выгрузки на диск.
	multipartMemory = 8 << 20
)

var errFileTooLarge = errors.New("file too large")

// GetQuotaStatus возвращает состояние квоты оплаченного заказа.
func (h *Handler) GetQuotaStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.quota.GetQuotaStatus(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.writeError(w, "get quota status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// ListUploads возвращает галерею загрузок оплаченного заказа.
func (h *Handler) ListUploads(w http.ResponseWriter, r *http.Request) {
	gallery, err := h.quota.ListUploads(r.Context(), chi.URLParam(r, "ref"), r.URL.Query().Get("email"))
	if err != nil {
		h.writeError(w, "list uploads", err)
		return
	}
	writeJSON(w, http.StatusOK, gallery)
}

// Upload принимает пакет изображений в multipart/form-data (поля email и files) и списывает квоту.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBatchFiles*validation.MaxUploadSize+(1<<20))

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.writeFormError(w, "upload", err)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["files"]
	if len(headers) > maxBatchFiles {
		h.writeError(w, "upload", apperr.Validation(fmt.Sprintf("at most %d files per request", maxBatchFiles)))
		return
	}

	files := make([]service.UploadFile, 0, len(headers))
	for _, fh := range headers {
		f, err := readFormFile(fh)
		if err != nil {
			h.writeFormError(w, "upload", err)
			return
		}
		files = append(files, f)
	}

	consumed, err := h.uploads.Upload(r.Context(), chi.URLParam(r, "ref"), r.FormValue("email"), files)
	if err != nil {
		h.writeError(w, "upload", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "newConsumed": consumed})
}

type transformResponse struct {
	Success          bool         `json:"success"`
	NewConsumed      int          `json:"newConsumed"`
	Upload           model.Upload `json:"upload"`
	TransformedImage string       `json:"transformedImage"`
}

// Transform преобразует изображение (поля email и image) и списывает одну единицу квоты.
func (h *Handler) Transform(w http.ResponseWriter, r *http.Request) {
	if !h.uploads.GenerationEnabled() {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: service.ErrGenerationDisabled.Error()})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, validation.MaxUploadSize+(1<<20))

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.writeFormError(w, "transform", err)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["image"]
	if len(headers) != 1 {
		h.writeError(w, "transform", apperr.Validation("exactly one image is required"))
		return
	}

	file, err := readFormFile(headers[0])
	if err != nil {
		h.writeFormError(w, "transform", err)
		return
	}

	res, err := h.uploads.Transform(r.Context(), chi.URLParam(r, "ref"), r.FormValue("email"), file)
	if err != nil {
		if errors.Is(err, service.ErrGenerationDisabled) {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
			return
		}
		h.writeError(w, "transform", err)
		return
	}

	writeJSON(w, http.StatusOK, transformResponse{
		Success:          true,
		NewConsumed:      res.NewConsumed,
		Upload:           res.Upload,
		TransformedImage: "data:" + res.Upload.MediaType + ";base64," + base64.StdEncoding.EncodeToString(res.Image),
	})
}

func readFormFile(fh *multipart.FileHeader) (service.UploadFile, error) {
	if fh.Size > validation.MaxUploadSize {
		return service.UploadFile{}, errFileTooLarge
	}

	f, err := fh.Open()
	if err != nil {
		return service.UploadFile{}, fmt.Errorf("open form file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, validation.MaxUploadSize+1))
	if err != nil {
		return service.UploadFile{}, fmt.Errorf("read form file: %w", err)
	}
	if len(data) > validation.MaxUploadSize {
		return service.UploadFile{}, errFileTooLarge
	}

	return service.UploadFile{Name: fh.Filename, Data: data}, nil
}

func (h *Handler) writeFormError(w http.ResponseWriter, op string, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
	case errors.Is(err, errFileTooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "each file must be at most 4MB"})
	default:
		h.writeError(w, op, apperr.Validation("invalid multipart form"))
	}
}
