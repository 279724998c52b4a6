package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"
)

const maxImageBytes = 20 << 20

// ImageMirror copies provider-hosted images into our bucket. Image providers
// return URLs that expire within hours; leads keep the mirrored copy.
type ImageMirror struct {
	objects ObjectStore
	client  *http.Client
	expiry  time.Duration
}

func NewImageMirror(objects ObjectStore, presignExpiry time.Duration) *ImageMirror {
	if presignExpiry <= 0 {
		presignExpiry = 7 * 24 * time.Hour
	}
	return &ImageMirror{
		objects: objects,
		client:  &http.Client{Timeout: 30 * time.Second},
		expiry:  presignExpiry,
	}
}

// ResultKey is the object key for a generated image of a form.
func ResultKey(formID, id, ext string) string {
	if ext == "" {
		ext = ".png"
	}
	return path.Join("results", formID, id+ext)
}

// Mirror downloads srcURL, stores it under results/{formID}/{id} and returns a
// presigned URL for the copy.
func (m *ImageMirror) Mirror(ctx context.Context, formID, id, srcURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return "", fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}

	contentType := strings.TrimSpace(resp.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	ext := ".png"
	if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 && contentType != "image/png" {
		ext = exts[0]
	}

	key := ResultKey(formID, id, ext)
	if err := m.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return "", err
	}
	return m.objects.PresignGet(ctx, key, m.expiry)
}
