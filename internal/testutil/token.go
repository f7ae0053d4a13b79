package testutil

import (
	"context"
	"fmt"
	"sync"
)

// SequenceTokenSource hands out bearer tokens "<prefix>-1", "<prefix>-2", ...
// so that tests can tell which request carried which token.
//
// If prefix is empty, "test-token" is used.
//
// Thread-safety: All methods are safe for concurrent use.
type SequenceTokenSource struct {
	mu     sync.Mutex
	prefix string
	issued int
	err    error
}

// NewSequenceTokenSource creates a token source.
func NewSequenceTokenSource(prefix string) *SequenceTokenSource {
	if prefix == "" {
		prefix = "test-token"
	}
	return &SequenceTokenSource{prefix: prefix}
}

// Token returns the next token, or the configured failure.
func (s *SequenceTokenSource) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.issued++
	return fmt.Sprintf("%s-%d", s.prefix, s.issued), nil
}

// Fail makes every later call return err.
func (s *SequenceTokenSource) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Issued returns how many tokens were handed out.
func (s *SequenceTokenSource) Issued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issued
}
