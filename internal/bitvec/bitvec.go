// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package bitvec defines a bit vector type used as the
// free list of slot allocators.
// A set bit means that the slot is in use.
package bitvec

import (
	"math/bits"
)

const wordBits = 64

// V is a growable bit vector.
// The zero value is an empty vector.
type V struct {
	w   []uint64
	rem int
}

// Len returns the number of bits in the vector.
func (v *V) Len() int { return len(v.w) * wordBits }

// Rem returns the number of unset bits in the vector.
func (v *V) Rem() int { return v.rem }

// Grow appends nword words of unset bits to the vector.
// It returns the index of the first new bit.
func (v *V) Grow(nword int) (index int) {
	index = v.Len()
	if nword > 0 {
		v.w = append(v.w, make([]uint64, nword)...)
		v.rem += nword * wordBits
	}
	return
}

// Set sets a given bit.
func (v *V) Set(index int) {
	i, b := index/wordBits, uint64(1)<<(index%wordBits)
	if v.w[i]&b == 0 {
		v.w[i] |= b
		v.rem--
	}
}

// Unset unsets a given bit.
func (v *V) Unset(index int) {
	i, b := index/wordBits, uint64(1)<<(index%wordBits)
	if v.w[i]&b != 0 {
		v.w[i] &^= b
		v.rem++
	}
}

// IsSet checks whether a given bit is set.
func (v *V) IsSet(index int) bool {
	return v.w[index/wordBits]&(1<<(index%wordBits)) != 0
}

// SetRange sets every bit in [index, index+n).
func (v *V) SetRange(index, n int) {
	for i := index; i < index+n; i++ {
		v.Set(i)
	}
}

// UnsetRange unsets every bit in [index, index+n).
func (v *V) UnsetRange(index, n int) {
	for i := index; i < index+n; i++ {
		v.Unset(i)
	}
}

// Search locates the lowest unset bit.
// It fails only when v.Rem() == 0.
func (v *V) Search() (index int, ok bool) {
	if v.rem == 0 {
		return
	}
	for i, x := range v.w {
		if x != ^uint64(0) {
			return i*wordBits + bits.TrailingZeros64(^x), true
		}
	}
	panic("bitvec: Rem out of sync")
}

// SearchRange locates the lowest contiguous range of n
// unset bits.
// If ok is true, every bit in [index, index+n) is unset.
func (v *V) SearchRange(n int) (index int, ok bool) {
	if n <= 1 {
		return v.Search()
	}
	if v.rem < n {
		return
	}
	var run int
	for i, x := range v.w {
		switch x {
		case ^uint64(0):
			run = 0
			continue
		case 0:
			if run+wordBits >= n {
				return i*wordBits - run, true
			}
			run += wordBits
			continue
		}
		for b := 0; b < wordBits; {
			if x&(1<<b) != 0 {
				run = 0
				// Skip the whole run of set bits.
				b += bits.TrailingZeros64(^(x >> b))
				continue
			}
			// Length of the run of unset bits at b.
			z := bits.TrailingZeros64(x >> b)
			if z > wordBits-b {
				z = wordBits - b
			}
			if run+z >= n {
				return i*wordBits + b - run, true
			}
			run += z
			b += z
		}
	}
	return
}

// Clear unsets every bit in the vector.
func (v *V) Clear() {
	clear(v.w)
	v.rem = v.Len()
}
