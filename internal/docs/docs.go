// Package docs serves the static knowledge documents agents consult: the
// 716-P operational-risk methodology excerpt and the catalogue of known bad
// practices.
package docs

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"
)

const (
	RiskMethodology = "risk_methodology"
	WrongPractices  = "wrong_practices"
)

// Store returns documents by name.
type Store interface {
	Document(ctx context.Context, name string) (string, error)
}

// FileStore maps document names to files and caches each file's content
// after the first successful read.
type FileStore struct {
	paths  map[string]string
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]string
}

func NewFileStore(paths map[string]string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := make(map[string]string, len(paths))
	for k, v := range paths {
		p[k] = v
	}
	return &FileStore{paths: p, logger: logger, cache: make(map[string]string)}
}

// Names lists the configured document names in sorted order.
func (s *FileStore) Names() []string {
	names := make([]string, 0, len(s.paths))
	for n := range s.paths {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s *FileStore) Document(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, ok := s.paths[name]
	if !ok {
		return "", fmt.Errorf("unknown document %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if text, ok := s.cache[path]; ok {
		s.logger.Debug("cache hit", zap.String("path", path))
		return text, nil
	}
	s.logger.Debug("cache miss", zap.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read document %s: %w", name, err)
	}
	text := string(data)
	s.cache[path] = text
	s.logger.Debug("document loaded", zap.String("path", path), zap.Int("bytes", len(data)))
	return text, nil
}
