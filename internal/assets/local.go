package assets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Local writes assets into a dated directory tree served under publicURL
type Local struct {
	basePath  string
	publicURL string
	mu        sync.Mutex
}

func NewLocal(basePath, publicURL string) (*Local, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create asset directory: %w", err)
	}
	return &Local{basePath: basePath, publicURL: strings.TrimRight(publicURL, "/")}, nil
}

func (l *Local) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	filePath := filepath.Join(l.basePath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return "", fmt.Errorf("failed to create date directory: %w", err)
	}

	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write asset: %w", err)
	}
	if err := os.Rename(tmp, filePath); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to move asset into place: %w", err)
	}
	return l.publicURL + "/" + key, nil
}

// Dir is the root directory served for asset requests
func (l *Local) Dir() string {
	return l.basePath
}
