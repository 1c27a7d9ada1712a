package secrets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// FileProvider reads secrets from files such as mounted Kubernetes
// secret volumes.
type FileProvider struct{}

// NewFileProvider returns a FileProvider.
func NewFileProvider() *FileProvider {
	return &FileProvider{}
}

// Scheme implements Provider.
func (p *FileProvider) Scheme() string {
	return "file"
}

// Lookup implements Provider. One trailing newline is removed.
func (p *FileProvider) Lookup(_ context.Context, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty file path", ErrInvalidPath)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrSecretNotFound
	}
	if err != nil {
		return "", err
	}
	s := strings.TrimSuffix(string(data), "\n")
	return strings.TrimSuffix(s, "\r"), nil
}
