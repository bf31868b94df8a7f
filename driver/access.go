// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package driver

import (
	"math/bits"
	"strings"
)

// Access is the type of a resource access state.
// It is a bit set in which any combination of read
// bits may coexist, whereas write-class bits are
// exclusive: a resource is either readable in zero
// or more ways or in exactly one write/transfer state.
type Access int

// Access states.
const (
	// Read by pixel shaders.
	APixelRead Access = 1 << iota
	// Read by non-pixel shaders.
	ANonPixelRead
	// Read-only depth/stencil target.
	ADepthRead
	// Source of copy commands.
	ACopyRead
	// Index data.
	AIndexRead
	// Vertex or constant data.
	AVertexRead
	// Color render target.
	AColorWrite
	// Depth/stencil target.
	ADepthWrite
	// Unordered access in shaders.
	AShaderWrite
	// Destination of copy commands.
	ACopyWrite
	// Common state, usable by any queue.
	ACommon

	// Unspecified access. Resources that have no
	// implied access are created in this state.
	AUnspecified Access = 0

	// Union of all read states.
	AReadMask = APixelRead | ANonPixelRead | ADepthRead | ACopyRead | AIndexRead | AVertexRead
	// Union of all write-class states.
	AWriteMask = AColorWrite | ADepthWrite | AShaderWrite | ACopyWrite | ACommon
)

// IsRead returns whether a is a non-empty combination of
// read states.
func (a Access) IsRead() bool { return a != 0 && a&^AReadMask == 0 }

// IsWrite returns whether a is exactly one write-class
// state.
func (a Access) IsWrite() bool { return a&AWriteMask == a && bits.OnesCount(uint(a)) == 1 }

// Valid returns whether a is a legal access state.
func (a Access) Valid() bool { return a == AUnspecified || a.IsRead() || a.IsWrite() }

var accessNames = [...]string{
	"PixelRead",
	"NonPixelRead",
	"DepthRead",
	"CopyRead",
	"IndexRead",
	"VertexRead",
	"ColorWrite",
	"DepthWrite",
	"ShaderWrite",
	"CopyWrite",
	"Common",
}

// String implements fmt.Stringer.
func (a Access) String() string {
	if a == AUnspecified {
		return "Unspecified"
	}
	var sb strings.Builder
	for i, s := range accessNames {
		if a&(1<<i) == 0 {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString(s)
	}
	if a>>len(accessNames) != 0 {
		if sb.Len() > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString("?")
	}
	return sb.String()
}
