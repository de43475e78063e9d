// Package validation содержит функции валидации входных данных.
package validation

import (
	"net/http"
	"net/mail"
	"strings"
	"unicode"
)

// MaxUploadSize ограничивает размер одного загружаемого изображения.
const MaxUploadSize = 4 << 20

var imageMediaTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// IsValidEmail проверяет адрес электронной почты покупателя.
func IsValidEmail(email string) bool {
	if email == "" || strings.TrimSpace(email) != email {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	return addr.Address == email && strings.Contains(email, "@")
}

// IsValidCurrency проверяет трёхбуквенный код валюты в верхнем регистре.
func IsValidCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, ch := range code {
		if ch > unicode.MaxASCII || !unicode.IsUpper(ch) {
			return false
		}
	}
	return true
}

// IsImageMediaType сообщает, относится ли тип содержимого к поддерживаемым изображениям.
func IsImageMediaType(mediaType string) bool {
	_, ok := imageMediaTypes[normalizeMediaType(mediaType)]
	return ok
}

// DetectImageType определяет тип изображения по первым байтам содержимого.
func DetectImageType(data []byte) (string, bool) {
	mediaType := normalizeMediaType(http.DetectContentType(data))
	_, ok := imageMediaTypes[mediaType]
	return mediaType, ok
}

// ImageExtension возвращает расширение файла для типа изображения.
func ImageExtension(mediaType string) string {
	return imageMediaTypes[normalizeMediaType(mediaType)]
}

func normalizeMediaType(mediaType string) string {
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}
