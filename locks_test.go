package flowvc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBranchLockReuse(t *testing.T) {
	s := NewService(nil, nil, nil)
	a := s.branchLock("b1")
	assert.Same(t, a, s.branchLock("b1"))
	assert.NotSame(t, a, s.branchLock("b2"))
}

func TestReleaseLockDropsEntry(t *testing.T) {
	s := NewService(nil, nil, nil)
	s.branchLock("b1")
	s.branchLock("b2")

	s.releaseLock("b1")

	s.mu.Lock()
	_, gone := s.locks["b1"]
	_, kept := s.locks["b2"]
	s.mu.Unlock()
	assert.False(t, gone)
	assert.True(t, kept)
}
