package engine

import (
	"context"
	"sync"

	"go.uber.org/multierr"

	futharkhost "github.com/wippyai/futhark-host"
)

// Scratch tracks short-lived allocations made for a single foreign call
// so they can be freed together, whatever the outcome of the call:
//
//	s := engine.NewScratch(alloc)
//	defer s.Release(ctx)
//	ptr, err := s.Alloc(ctx, n)
type Scratch struct {
	alloc futharkhost.Allocator
	ptrs  []uint32
}

var scratchPool = sync.Pool{
	New: func() any {
		return &Scratch{ptrs: make([]uint32, 0, 8)}
	},
}

const maxPooledScratchCapacity = 128

// NewScratch returns an empty scratch list bound to alloc.
func NewScratch(alloc futharkhost.Allocator) *Scratch {
	s := scratchPool.Get().(*Scratch)
	s.alloc = alloc
	return s
}

// Alloc allocates size bytes and records the pointer for Free.
func (s *Scratch) Alloc(ctx context.Context, size uint32) (uint32, error) {
	ptr, err := s.alloc.Alloc(ctx, size)
	if err != nil {
		return 0, err
	}
	s.ptrs = append(s.ptrs, ptr)
	return ptr, nil
}

// Count returns the number of live scratch allocations.
func (s *Scratch) Count() int {
	return len(s.ptrs)
}

// Free releases every recorded allocation, most recent first, and
// returns all free failures combined.
func (s *Scratch) Free(ctx context.Context) error {
	var err error
	for i := len(s.ptrs) - 1; i >= 0; i-- {
		if s.ptrs[i] != 0 {
			err = multierr.Append(err, s.alloc.Free(ctx, s.ptrs[i]))
		}
	}
	s.ptrs = s.ptrs[:0]
	return err
}

// Release frees everything and returns s to the pool. s is invalid
// afterwards.
func (s *Scratch) Release(ctx context.Context) error {
	err := s.Free(ctx)
	s.alloc = nil
	// Only pool small lists to prevent memory bloat
	if cap(s.ptrs) <= maxPooledScratchCapacity {
		scratchPool.Put(s)
	}
	return err
}
