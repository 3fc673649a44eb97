package buffer

// reservationCommitter finalizes a reservation. The watermark layer
// implements it to append a threshold check to the commit.
type reservationCommitter interface {
	commitReservation(r *Reservation, length uint64)
}

// reservedSpan is one writable window of a reservation. Either a window
// over the tail slice's headroom (inBuffer) or a fresh slice owned by the
// reservation until commit.
type reservedSpan struct {
	s        *slice
	inBuffer bool
	window   []byte
}

// Reservation is a pre-allocated, not-yet-committed byte range for
// scatter reads. The owning buffer must not be mutated while a
// reservation is outstanding; commit or discard it first.
type Reservation struct {
	owner  reservationCommitter
	spans  []reservedSpan
	length uint64
	done   bool
}

// Slices returns the writable windows, in fill order.
func (r *Reservation) Slices() [][]byte {
	out := make([][]byte, len(r.spans))
	for i, sp := range r.spans {
		out[i] = sp.window
	}

	return out
}

// Len returns the aggregate reservable length.
func (r *Reservation) Len() uint64 {
	return r.length
}

// Commit publishes the first length reserved bytes into the buffer and
// releases the rest. Committing more than was reserved, or committing
// twice, is a programming error.
func (r *Reservation) Commit(length uint64) {
	if r.done {
		panic("reservation already committed or discarded")
	}

	if length > r.length {
		panic("cannot commit more than was reserved")
	}

	r.done = true
	r.owner.commitReservation(r, length)
}

// Discard releases the reservation without publishing any bytes.
func (r *Reservation) Discard() {
	r.done = true
	r.spans = nil
}

// reserveWithMaxLength builds a reservation of exactly maxLength writable
// bytes, reusing the tail slice's headroom before allocating. The owner
// is the object commits route through.
func (o *OwnedBuffer) reserveWithMaxLength(maxLength uint64, owner reservationCommitter) *Reservation {
	if maxLength == 0 {
		panic("zero-length reservations are not allowed")
	}

	r := &Reservation{
		owner: owner,
	}

	if t := o.tail(); t != nil && t.reservable() > 0 {
		window := uint64(t.reservable())
		if window > maxLength {
			window = maxLength
		}

		r.spans = append(r.spans, reservedSpan{
			s:        t,
			inBuffer: true,
			window:   t.b[t.end : t.end+int(window)],
		})
		r.length += window
	}

	for r.length < maxLength {
		s := newSlice(o.sliceSize, o.sliceSize)

		window := uint64(len(s.b))
		if remaining := maxLength - r.length; window > remaining {
			window = remaining
		}

		r.spans = append(r.spans, reservedSpan{
			s:      s,
			window: s.b[:window],
		})
		r.length += window
	}

	return r
}

// commitReservation publishes length bytes from the reservation's spans,
// in order, into the buffer.
func (o *OwnedBuffer) commitReservation(r *Reservation, length uint64) {
	remaining := length

	for _, sp := range r.spans {
		if remaining == 0 {
			break
		}

		take := uint64(len(sp.window))
		if take > remaining {
			take = remaining
		}

		if sp.inBuffer {
			sp.s.end += int(take)
		} else {
			sp.s.end = int(take)
			o.slices = append(o.slices, sp.s)
		}

		remaining -= take
	}

	o.length += length
	o.charge(length)
}
