package buffer

import (
	"github.com/riverbend-labs/river-edge/helper/common"
)

// slice is a single contiguous backing segment of an OwnedBuffer.
// Data occupies b[off:end]; b[end:len(b)] is reservable headroom that
// scatter reads may fill before committing.
type slice struct {
	b   []byte
	off int
	end int
}

// newSlice allocates a slice able to hold at least size bytes, rounded up
// to the allocation unit.
func newSlice(size, unit uint64) *slice {
	return &slice{
		b: make([]byte, common.RoundUpToMultiple(size, unit)),
	}
}

func (s *slice) dataLen() int {
	return s.end - s.off
}

func (s *slice) data() []byte {
	return s.b[s.off:s.end]
}

func (s *slice) reservable() int {
	return len(s.b) - s.end
}

// append copies as much of p as fits into the headroom and returns the
// number of bytes copied.
func (s *slice) append(p []byte) int {
	n := copy(s.b[s.end:], p)
	s.end += n

	return n
}

// splitFront detaches the first n data bytes into a new slice sharing the
// backing array. The detached slice is capped so it exposes no headroom
// over bytes still owned by s.
func (s *slice) splitFront(n int) *slice {
	front := &slice{
		b:   s.b[s.off : s.off+n : s.off+n],
		off: 0,
		end: n,
	}
	s.off += n

	return front
}
