package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/photo-credits/internal/apperr"
	"github.com/mmeshcher/photo-credits/internal/model"
	"github.com/mmeshcher/photo-credits/internal/validation"
)

// ErrGenerationDisabled возвращается, если сервис генерации изображений не настроен.
var ErrGenerationDisabled = errors.New("image generation is not configured")

// BlobStore сохраняет содержимое файлов и возвращает путь в хранилище.
type BlobStore interface {
	Save(ctx context.Context, orderRef, ext string, r io.Reader) (string, int64, error)
	Remove(ctx context.Context, path string) error
}

// Generator преобразует изображение во внешнем сервисе.
type Generator interface {
	Transform(ctx context.Context, image []byte, filename string) ([]byte, error)
}

// UploadFile содержит один загружаемый файл.
type UploadFile struct {
	Name string
	Data []byte
}

// TransformResult описывает результат преобразования изображения.
type TransformResult struct {
	NewConsumed int
	Upload      model.Upload
	Image       []byte
}

// UploadService сохраняет изображения и списывает за них квоту.
//
// Файлы записываются в хранилище до списания. Если списание отклонено, записанные файлы удаляются.
type UploadService struct {
	quota     *QuotaService
	blobs     BlobStore
	generator Generator
	logger    *zap.Logger
}

// NewUploadService создаёт сервис загрузок. generator может быть nil.
func NewUploadService(quota *QuotaService, blobs BlobStore, generator Generator, logger *zap.Logger) *UploadService {
	return &UploadService{
		quota:     quota,
		blobs:     blobs,
		generator: generator,
		logger:    logger,
	}
}

// GenerationEnabled сообщает, настроен ли сервис генерации.
func (s *UploadService) GenerationEnabled() bool {
	return s.generator != nil
}

// Upload сохраняет пакет изображений и списывает по одной единице квоты за файл.
// Пакет принимается или отклоняется целиком. Возвращает новое значение quota_consumed.
func (s *UploadService) Upload(ctx context.Context, ref, email string, files []UploadFile) (int, error) {
	if email == "" {
		return 0, apperr.Validation("email is required")
	}
	if len(files) == 0 {
		return 0, apperr.Validation("no files provided")
	}

	types := make([]string, len(files))
	for i, f := range files {
		mediaType, err := checkImage(f)
		if err != nil {
			return 0, err
		}
		types[i] = mediaType
	}

	if _, err := s.quota.CheckAvailable(ctx, ref, email, len(files)); err != nil {
		return 0, err
	}

	uploads := make([]model.Upload, 0, len(files))
	for i, f := range files {
		u, err := s.store(ctx, ref, f.Name, types[i], f.Data)
		if err != nil {
			s.cleanup(ref, uploads)
			return 0, err
		}
		uploads = append(uploads, u)
	}

	consumed, err := s.quota.Consume(ctx, ref, email, len(uploads), uploads)
	if err != nil {
		s.cleanup(ref, uploads)
		return 0, err
	}
	return consumed, nil
}

// Transform преобразует изображение во внешнем сервисе и списывает одну единицу квоты
// после того, как результат сохранён. Тип результата определяется по содержимому.
// Ошибка преобразования квоту не расходует.
func (s *UploadService) Transform(ctx context.Context, ref, email string, file UploadFile) (*TransformResult, error) {
	if s.generator == nil {
		return nil, ErrGenerationDisabled
	}
	if email == "" {
		return nil, apperr.Validation("email is required")
	}
	if _, err := checkImage(file); err != nil {
		return nil, err
	}

	if _, err := s.quota.CheckAvailable(ctx, ref, email, 1); err != nil {
		return nil, err
	}

	img, err := s.generator.Transform(ctx, file.Data, baseName(file.Name))
	if err != nil {
		return nil, apperr.Internal("transform image", err)
	}

	mediaType, ok := validation.DetectImageType(img)
	if !ok {
		return nil, apperr.Internal("transform image", fmt.Errorf("generation service returned %s", http.DetectContentType(img)))
	}

	u, err := s.store(ctx, ref, generatedName(file.Name, mediaType), mediaType, img)
	if err != nil {
		return nil, err
	}

	consumed, err := s.quota.Consume(ctx, ref, email, 1, []model.Upload{u})
	if err != nil {
		s.cleanup(ref, []model.Upload{u})
		return nil, err
	}

	return &TransformResult{NewConsumed: consumed, Upload: u, Image: img}, nil
}

func (s *UploadService) store(ctx context.Context, ref, name, mediaType string, data []byte) (model.Upload, error) {
	storagePath, size, err := s.blobs.Save(ctx, ref, validation.ImageExtension(mediaType), bytes.NewReader(data))
	if err != nil {
		return model.Upload{}, apperr.Internal("store upload", err)
	}
	return model.Upload{
		Name:        baseName(name),
		Size:        size,
		MediaType:   mediaType,
		StoragePath: storagePath,
	}, nil
}

// cleanup удаляет файлы отклонённого пакета. Ошибки только журналируются.
func (s *UploadService) cleanup(ref string, uploads []model.Upload) {
	for _, u := range uploads {
		if err := s.blobs.Remove(context.Background(), u.StoragePath); err != nil {
			s.logger.Warn("failed to remove rejected upload",
				zap.String("order_ref", ref),
				zap.String("storage_path", u.StoragePath),
				zap.Error(err),
			)
		}
	}
}

func checkImage(f UploadFile) (string, error) {
	name := baseName(f.Name)
	if len(f.Data) == 0 {
		return "", apperr.Validation(fmt.Sprintf("file %s is empty", name))
	}
	if len(f.Data) > validation.MaxUploadSize {
		return "", apperr.Validation(fmt.Sprintf("file %s exceeds the 4MB limit", name))
	}
	mediaType, ok := validation.DetectImageType(f.Data)
	if !ok {
		return "", apperr.Validation(fmt.Sprintf("file %s is not an image", name))
	}
	return mediaType, nil
}

func baseName(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" || name == "" {
		return "image"
	}
	return name
}

func generatedName(name, mediaType string) string {
	base := baseName(name)
	return strings.TrimSuffix(base, path.Ext(base)) + "-transformed" + validation.ImageExtension(mediaType)
}
