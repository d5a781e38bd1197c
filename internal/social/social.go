// Package social holds what the platform clients share.
package social

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
)

// APIError is a non-2xx answer from a posting platform.
type APIError struct {
	Platform   string
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Platform, e.Op, e.StatusCode, e.Body)
}

// CheckResponse turns a non-2xx response into an *APIError. The body is only
// consumed on error.
func CheckResponse(platform, op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &APIError{
		Platform:   platform,
		Op:         op,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}

// FilePart describes a file to send as one multipart field.
type FilePart struct {
	Field       string
	FileName    string
	ContentType string
	Path        string
}

// MultipartFile reads the file and encodes it as a multipart body. It returns
// the body and its Content-Type.
func MultipartFile(part FilePart) (*bytes.Buffer, string, error) {
	data, err := os.ReadFile(part.Path)
	if err != nil {
		return nil, "", fmt.Errorf("read media %s: %w", part.Path, err)
	}

	name := part.FileName
	if name == "" {
		name = filepath.Base(part.Path)
	}
	contentType := part.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, part.Field, name))
	h.Set("Content-Type", contentType)
	fw, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return nil, "", fmt.Errorf("write multipart part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return body, w.FormDataContentType(), nil
}
