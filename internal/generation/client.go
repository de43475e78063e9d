// Package generation предоставляет клиент внешнего сервиса преобразования изображений.
package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// DefaultPrompt описывает стиль, в который преобразуется изображение.
const DefaultPrompt = "Transform this image into Studio Ghibli art style with vibrant colors, soft lighting, " +
	"and dreamlike quality. Keep the same composition."

// Client отправляет изображение во внешний сервис и возвращает результат в формате PNG.
type Client struct {
	baseURL    string
	apiKey     string
	prompt     string
	size       string
	httpClient *retryablehttp.Client
}

type editResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewClient создаёт клиент сервиса генерации. Преобразование не идемпотентно,
// поэтому повторяются только запросы, не дошедшие до сервиса.
func NewClient(baseURL, apiKey string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 1
	rc.HTTPClient.Timeout = 60 * time.Second
	rc.Logger = nil
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return err != nil && resp == nil, nil
	}

	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	return &Client{
		baseURL:    base,
		apiKey:     apiKey,
		prompt:     DefaultPrompt,
		size:       "1024x1024",
		httpClient: rc,
	}
}

// Transform преобразует изображение и возвращает байты PNG.
func (c *Client) Transform(ctx context.Context, image []byte, filename string) ([]byte, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("generation client not configured")
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("empty image")
	}

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	fw, err := w.CreateFormFile("image", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(image); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	_ = w.WriteField("prompt", c.prompt)
	_ = w.WriteField("n", "1")
	_ = w.WriteField("size", c.size)
	_ = w.WriteField("response_format", "b64_json")
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/images/edits", body.Bytes())
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	var out editResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 32<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		if out.Error != nil && out.Error.Message != "" {
			return nil, fmt.Errorf("unexpected status: %d: %s", resp.StatusCode, out.Error.Message)
		}
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	if len(out.Data) == 0 || out.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("empty generation result")
	}

	img, err := base64.StdEncoding.DecodeString(out.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}
