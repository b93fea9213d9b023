package objectstore

import (
	"mime"
	"path"
	"strings"

	"github.com/google/uuid"
)

// KeyGenerator issues object keys for uploaded images.
type KeyGenerator interface {
	NewKey(prefix, filename, contentType string) (string, error)
}

type uuidKeyGenerator struct{}

// NewUUIDKeyGenerator returns a KeyGenerator producing `<prefix>/<uuidv7><ext>` keys.
func NewUUIDKeyGenerator() KeyGenerator {
	return uuidKeyGenerator{}
}

func (uuidKeyGenerator) NewKey(prefix, filename, contentType string) (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return BuildKey(prefix, value.String(), filename, contentType), nil
}

// BuildKey joins the prefix and name and appends an extension derived from the
// filename, falling back to the content type.
func BuildKey(prefix, name, filename, contentType string) string {
	extension := strings.ToLower(path.Ext(strings.TrimSpace(filename)))
	if extension == "" || len(extension) > 6 {
		extension = extensionForContentType(contentType)
	}
	cleanPrefix := strings.Trim(strings.TrimSpace(prefix), "/")
	if cleanPrefix == "" {
		return name + extension
	}
	return cleanPrefix + "/" + name + extension
}

func extensionForContentType(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	}
	extensions, err := mime.ExtensionsByType(contentType)
	if err != nil || len(extensions) == 0 {
		return ""
	}
	return extensions[0]
}
