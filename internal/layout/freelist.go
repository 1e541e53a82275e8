package layout

import (
	"fmt"
	"slices"

	"go.uber.org/multierr"
)

type block struct {
	offset, size int
}

// freeList is a first-fit allocator over a growing byte heap. Freed blocks
// are kept sorted by offset and coalesced with their neighbours.
type freeList struct {
	free []block
	top  int
}

func (f *freeList) take(size int) int {
	for i, b := range f.free {
		if b.size < size {
			continue
		}
		if b.size == size {
			f.free = slices.Delete(f.free, i, i+1)
		} else {
			f.free[i] = block{offset: b.offset + size, size: b.size - size}
		}
		return b.offset
	}
	// A free tail block can be extended instead of wasting it.
	if n := len(f.free); n > 0 && f.free[n-1].offset+f.free[n-1].size == f.top {
		off := f.free[n-1].offset
		f.free = f.free[:n-1]
		f.top = off + size
		return off
	}
	off := f.top
	f.top += size
	return off
}

func (f *freeList) give(offset, size int) {
	if size == 0 {
		return
	}
	i, _ := slices.BinarySearchFunc(f.free, offset, func(b block, off int) int { return b.offset - off })
	f.free = slices.Insert(f.free, i, block{offset: offset, size: size})
	if i+1 < len(f.free) && f.free[i].offset+f.free[i].size == f.free[i+1].offset {
		f.free[i].size += f.free[i+1].size
		f.free = slices.Delete(f.free, i+1, i+2)
	}
	if i > 0 && f.free[i-1].offset+f.free[i-1].size == f.free[i].offset {
		f.free[i-1].size += f.free[i].size
		f.free = slices.Delete(f.free, i, i+1)
	}
}

// Check verifies that no two allocations that can hold values at the same
// time share bytes. Static allocations are live for the whole run.
func (l *Layout) Check() error {
	var errs error
	all := l.Allocations()
	for i, a := range all {
		for _, b := range all[i+1:] {
			if a.Buffer != b.Buffer || a.Bytes() == 0 || b.Bytes() == 0 {
				continue
			}
			if a.Offset >= b.Offset+b.Bytes() || b.Offset >= a.Offset+a.Bytes() {
				continue
			}
			if a.Buffer == Dynamic {
				ia, _ := l.Interval(a.Name)
				ib, _ := l.Interval(b.Name)
				if !ia.Overlaps(ib) {
					continue
				}
			}
			errs = multierr.Append(errs, fmt.Errorf("%s [%d,%d) overlaps %s [%d,%d) in the %s buffer",
				a.Name, a.Offset, a.Offset+a.Bytes(), b.Name, b.Offset, b.Offset+b.Bytes(), a.Buffer))
		}
	}
	return errs
}
