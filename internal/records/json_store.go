package records

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// JSONStore reads branches and reviews from two JSON array documents. Each
// document is parsed on first use and cached for the lifetime of the store.
// Failed loads are not cached.
type JSONStore struct {
	branchesPath string
	reviewsPath  string

	mu       sync.Mutex
	branches []Branch
	reviews  []Review
}

func NewJSONStore(branchesPath, reviewsPath string) *JSONStore {
	return &JSONStore{branchesPath: branchesPath, reviewsPath: reviewsPath}
}

func (s *JSONStore) Branches(ctx context.Context) ([]Branch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.branches == nil {
		var branches []Branch
		if err := readJSON(s.branchesPath, &branches); err != nil {
			return nil, fmt.Errorf("load branches: %w", err)
		}
		if branches == nil {
			branches = []Branch{}
		}
		s.branches = branches
	}
	return append([]Branch(nil), s.branches...), nil
}

func (s *JSONStore) Reviews(ctx context.Context) ([]Review, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadReviews(); err != nil {
		return nil, err
	}
	return append([]Review(nil), s.reviews...), nil
}

func (s *JSONStore) ReviewsForBranch(ctx context.Context, branchID int) ([]Review, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadReviews(); err != nil {
		return nil, err
	}
	var out []Review
	for _, r := range s.reviews {
		if r.BranchID == branchID {
			out = append(out, r)
		}
	}
	return out, nil
}

// loadReviews must be called with s.mu held.
func (s *JSONStore) loadReviews() error {
	if s.reviews != nil {
		return nil
	}
	var reviews []Review
	if err := readJSON(s.reviewsPath, &reviews); err != nil {
		return fmt.Errorf("load reviews: %w", err)
	}
	for _, r := range reviews {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("load reviews: %s: %w", s.reviewsPath, err)
		}
	}
	if reviews == nil {
		reviews = []Review{}
	}
	s.reviews = reviews
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
