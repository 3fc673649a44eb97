package buffer

import (
	"fmt"
)

// OwnedBuffer is the base byte buffer the flow-control layer composes
// over: a list of owned slices supporting append, prepend, drain, splice
// and a reservation/commit protocol for scatter reads.
//
// An OwnedBuffer is not safe for concurrent use; every buffer lives on a
// single worker for its lifetime.
type OwnedBuffer struct {
	slices []*slice
	length uint64

	// account the buffer charges as bytes enter and credits as they
	// leave. Nil until BindAccount.
	account Account

	// bound latches on the first BindAccount call; a buffer binds at
	// most one account in its lifetime.
	bound bool

	sliceSize           uint64
	readReservationSize uint64
}

// NewOwnedBuffer creates an empty buffer with default slice sizing.
func NewOwnedBuffer() *OwnedBuffer {
	return &OwnedBuffer{
		sliceSize:           DefaultSliceSize,
		readReservationSize: DefaultReadReservationSize,
	}
}

// Len returns the number of buffered bytes.
func (o *OwnedBuffer) Len() uint64 {
	return o.length
}

// Bytes copies out the buffered data. Intended for tests and diagnostics;
// the hot path moves slices instead.
func (o *OwnedBuffer) Bytes() []byte {
	out := make([]byte, 0, o.length)
	for _, s := range o.slices {
		out = append(out, s.data()...)
	}

	return out
}

// BindAccount associates the account with the buffer. Bytes already held
// are charged immediately so the account always reflects the buffer's
// full contribution. Binding twice is a programming error.
func (o *OwnedBuffer) BindAccount(account Account) {
	if o.bound {
		panic("buffer already bound to an account")
	}

	o.bound = true
	o.account = account
	o.charge(o.length)
}

// Write appends p to the buffer. It never fails; the io.Writer shape
// keeps the buffer usable as a sink for standard library copies.
func (o *OwnedBuffer) Write(p []byte) (int, error) {
	n := len(p)

	for len(p) > 0 {
		s := o.tail()
		if s == nil || s.reservable() == 0 {
			s = newSlice(o.sliceSize, o.sliceSize)
			o.slices = append(o.slices, s)
		}

		p = p[s.append(p):]
	}

	o.length += uint64(n)
	o.charge(uint64(n))

	return n, nil
}

// AddString appends the given string to the buffer.
func (o *OwnedBuffer) AddString(data string) {
	//nolint:errcheck
	o.Write([]byte(data))
}

// AddBuffer appends a copy of other's data. The source buffer and its
// accounting are left untouched.
func (o *OwnedBuffer) AddBuffer(other *OwnedBuffer) {
	for _, s := range other.slices {
		//nolint:errcheck
		o.Write(s.data())
	}
}

// Prepend inserts data in front of the existing data.
func (o *OwnedBuffer) Prepend(data []byte) {
	if len(data) == 0 {
		return
	}

	s := newSlice(uint64(len(data)), o.sliceSize)
	s.end = copy(s.b, data)

	o.slices = append([]*slice{s}, o.slices...)
	o.length += uint64(len(data))
	o.charge(uint64(len(data)))
}

// PrependBuffer moves all of other's data in front of the existing data,
// draining other. Accounting transfers from other's account to o's.
func (o *OwnedBuffer) PrependBuffer(other *OwnedBuffer) {
	moved := other.length
	if moved == 0 {
		return
	}

	o.slices = append(other.slices, o.slices...)
	o.length += moved
	other.slices = nil
	other.length = 0

	other.credit(moved)
	o.charge(moved)
}

// Drain removes size bytes from the front of the buffer. Draining more
// than is buffered is a programming error.
func (o *OwnedBuffer) Drain(size uint64) {
	if size > o.length {
		panic(fmt.Sprintf("cannot drain %d bytes from a buffer of %d", size, o.length))
	}

	remaining := size
	for remaining > 0 {
		s := o.slices[0]

		if n := uint64(s.dataLen()); n <= remaining {
			remaining -= n
			o.slices = o.slices[1:]
		} else {
			s.off += int(remaining)
			remaining = 0
		}
	}

	o.length -= size
	o.credit(size)
}

// Move splices all of other's data onto the end of o. The source account
// is credited and o's account charged; no bytes are copied.
func (o *OwnedBuffer) Move(other *OwnedBuffer) {
	o.MoveAtMost(other, other.length)
}

// MoveAtMost splices up to size bytes from the front of other onto the
// end of o.
func (o *OwnedBuffer) MoveAtMost(other *OwnedBuffer, size uint64) {
	if size > other.length {
		size = other.length
	}

	if size == 0 {
		return
	}

	remaining := size
	for remaining > 0 {
		s := other.slices[0]

		if n := uint64(s.dataLen()); n <= remaining {
			remaining -= n
			other.slices = other.slices[1:]
			o.slices = append(o.slices, s)
		} else {
			o.slices = append(o.slices, s.splitFront(int(remaining)))
			remaining = 0
		}
	}

	other.length -= size
	o.length += size

	other.credit(size)
	o.charge(size)
}

// ExtractFrontSlice detaches the front slice and returns its data as a
// mutable byte slice, or nil if the buffer is empty.
func (o *OwnedBuffer) ExtractFrontSlice() []byte {
	if len(o.slices) == 0 {
		return nil
	}

	s := o.slices[0]
	o.slices = o.slices[1:]

	size := uint64(s.dataLen())
	o.length -= size
	o.credit(size)

	return s.b[s.off:s.end:s.end]
}

// ReserveForRead returns a reservation of the preferred read size.
func (o *OwnedBuffer) ReserveForRead() *Reservation {
	return o.reserveWithMaxLength(o.readReservationSize, o)
}

// Close releases the buffer's contents, crediting any bound account for
// the bytes still held.
func (o *OwnedBuffer) Close() {
	o.credit(o.length)
	o.slices = nil
	o.length = 0
	o.account = nil
}

func (o *OwnedBuffer) tail() *slice {
	if len(o.slices) == 0 {
		return nil
	}

	return o.slices[len(o.slices)-1]
}

func (o *OwnedBuffer) charge(amount uint64) {
	if o.account != nil && amount > 0 {
		o.account.Charge(amount)
	}
}

func (o *OwnedBuffer) credit(amount uint64) {
	if o.account != nil && amount > 0 {
		o.account.Credit(amount)
	}
}
