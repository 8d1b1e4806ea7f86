package handler

import (
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strings"

	"procurement/internal/storage"

	"github.com/gin-gonic/gin"
)

// MaxUploadSize caps document uploads at 5 MB; the client enforces the same
// limit before sending, the server stays authoritative.
const MaxUploadSize = 5 << 20

// allowedUploadTypes is the document MIME allowlist
var allowedUploadTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/jpg":       true,
	"image/png":       true,
}

var extensionTypes = map[string]string{
	".pdf":  "application/pdf",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

// uploadError carries a field-level upload validation failure
type uploadError struct {
	Field   string
	Message string
}

func (e *uploadError) Error() string { return e.Message }

// validateUpload checks a multipart file header against the allowlist and size cap
func validateUpload(field string, fh *multipart.FileHeader) error {
	if fh.Size > MaxUploadSize {
		return &uploadError{Field: field, Message: fmt.Sprintf("File exceeds the %d MB size limit", MaxUploadSize>>20)}
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = extensionTypes[strings.ToLower(filepath.Ext(fh.Filename))]
	}
	if !allowedUploadTypes[contentType] {
		return &uploadError{Field: field, Message: "File must be a PDF, JPEG or PNG document"}
	}

	return nil
}

// saveUpload validates the named multipart field and writes it to the
// document store, returning the stored URL. required=false returns ("", nil)
// when the field is absent.
func saveUpload(c *gin.Context, store storage.Store, field, folder string, required bool) (string, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		if !required {
			return "", nil
		}
		return "", &uploadError{Field: field, Message: "This file is required"}
	}

	if err := validateUpload(field, fh); err != nil {
		return "", err
	}

	f, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("failed to read uploaded file: %w", err)
	}
	defer f.Close()

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = extensionTypes[strings.ToLower(filepath.Ext(fh.Filename))]
	}

	url, err := store.Save(c.Request.Context(), folder, fh.Filename, contentType, f)
	if err != nil {
		return "", fmt.Errorf("failed to store uploaded file: %w", err)
	}
	return url, nil
}
