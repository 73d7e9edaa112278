package suite

import (
	"errors"
	"fmt"
	"os"
	"sync"

	bloom "github.com/bits-and-blooms/bloom/v3"
	"github.com/edsrzf/mmap-go"
)

// visitedSet deduplicates discovered URLs with a bloom filter whose bits
// are mirrored into a memory-mapped temp file. False positives only make
// discovery skip a page; a page is never visited twice.
type visitedSet struct {
	mu        sync.Mutex
	filter    *bloom.BloomFilter
	file      *os.File
	mapped    mmap.MMap
	pending   int
	flushEach int
	flushErr  error
}

// newVisitedSet sizes the filter for capacity URLs at a 0.1% false
// positive rate.
func newVisitedSet(capacity int) (*visitedSet, error) {
	if capacity < 1024 {
		capacity = 1024
	}
	filter := bloom.NewWithEstimates(uint(capacity), 0.001)
	snapshot, err := filter.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal bloom filter: %w", err)
	}

	f, err := os.CreateTemp("", "primal-visited-*.bloom")
	if err != nil {
		return nil, fmt.Errorf("create visited file: %w", err)
	}
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}
	if err := f.Truncate(int64(len(snapshot))); err != nil {
		cleanup()
		return nil, fmt.Errorf("size visited file: %w", err)
	}
	mapped, err := mmap.MapRegion(f, len(snapshot), mmap.RDWR, 0, 0)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("map visited file: %w", err)
	}
	copy(mapped, snapshot)

	return &visitedSet{
		filter:    filter,
		file:      f,
		mapped:    mapped,
		flushEach: 256,
	}, nil
}

// add marks u as visited and reports whether it was new.
func (v *visitedSet) add(u string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.filter.TestOrAddString(u) {
		return false
	}
	v.pending++
	if v.pending >= v.flushEach {
		v.flushErr = v.flushLocked()
	}
	return true
}

func (v *visitedSet) flushLocked() error {
	snapshot, err := v.filter.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal bloom filter: %w", err)
	}
	copy(v.mapped, snapshot)
	v.pending = 0
	if err := v.mapped.Flush(); err != nil {
		return fmt.Errorf("flush visited file: %w", err)
	}
	return nil
}

// Close releases the mapping and removes the temp file. It is safe to call
// more than once.
func (v *visitedSet) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.file == nil {
		return nil
	}

	errs := []error{v.flushErr}
	if v.pending > 0 {
		errs = append(errs, v.flushLocked())
	}
	if err := v.mapped.Unmap(); err != nil {
		errs = append(errs, fmt.Errorf("unmap visited file: %w", err))
	}
	if err := v.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close visited file: %w", err))
	}
	if err := os.Remove(v.file.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("remove visited file: %w", err))
	}
	v.file, v.mapped = nil, nil
	return errors.Join(errs...)
}
