package common

// Min returns the strictly lower number
func Min(a, b uint64) uint64 {
	if a < b {
		return a
	}

	return b
}

// Max returns the strictly bigger number
func Max(a, b uint64) uint64 {
	if a > b {
		return a
	}

	return b
}

// RoundUpToMultiple rounds value up to the nearest multiple of unit.
// A unit of 0 returns the value unchanged.
func RoundUpToMultiple(value, unit uint64) uint64 {
	if unit == 0 {
		return value
	}

	return (value + unit - 1) / unit * unit
}

// ExtendByteSlice extends given byte slice to the desired length
func ExtendByteSlice(b []byte, needLength int) []byte {
	b = b[:cap(b)]

	if n := needLength - cap(b); n > 0 {
		b = append(b, make([]byte, n)...)
	}

	return b[:needLength]
}
