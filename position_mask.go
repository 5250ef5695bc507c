package raidxor

import (
	"fmt"
	"math/bits"
	"strings"
)

const (
	// InvalidPosition is used where an optional position is not given.
	InvalidPosition = -1
)

// PositionMask is a set of drive positions. Bit (i) is position (i).
type PositionMask uint16

// MaskOf returns the mask that holds only the given position. The position
// must be smaller than MaxPositions.
func MaskOf(position int) PositionMask {
	if position < 0 || position >= MaxPositions {
		panic(fmt.Errorf("position out of range: (%d)", position))
	}

	return PositionMask(1) << uint(position)
}

// FullMask returns the mask of the first (width) positions.
func FullMask(width int) PositionMask {
	if width <= 0 {
		return 0
	} else if width >= MaxPositions {
		return PositionMask(0xffff)
	}

	return PositionMask((1 << uint(width)) - 1)
}

func (pm PositionMask) Has(position int) bool {
	if position < 0 || position >= MaxPositions {
		return false
	}

	return pm&(1<<uint(position)) != 0
}

// Contains returns true if every bit of (other) is in the mask.
func (pm PositionMask) Contains(other PositionMask) bool {
	return pm&other == other
}

// Overlaps returns true if the masks share a bit.
func (pm PositionMask) Overlaps(other PositionMask) bool {
	return pm&other != 0
}

func (pm PositionMask) Set(position int) PositionMask {
	return pm | MaskOf(position)
}

func (pm PositionMask) Clear(position int) PositionMask {
	return pm &^ MaskOf(position)
}

func (pm PositionMask) Union(other PositionMask) PositionMask {
	return pm | other
}

func (pm PositionMask) Intersect(other PositionMask) PositionMask {
	return pm & other
}

func (pm PositionMask) Minus(other PositionMask) PositionMask {
	return pm &^ other
}

func (pm PositionMask) IsEmpty() bool {
	return pm == 0
}

// Count returns the number of positions in the mask.
func (pm PositionMask) Count() int {
	return bits.OnesCount16(uint16(pm))
}

// IsSingle returns true if exactly one position is set.
func (pm PositionMask) IsSingle() bool {
	return pm != 0 && pm&(pm-1) == 0
}

// First returns the lowest position in the mask or InvalidPosition.
func (pm PositionMask) First() int {
	if pm == 0 {
		return InvalidPosition
	}

	return bits.TrailingZeros16(uint16(pm))
}

// Positions returns the positions in ascending order.
func (pm PositionMask) Positions() []int {
	positions := make([]int, 0, pm.Count())
	for remaining := pm; remaining != 0; remaining &= remaining - 1 {
		positions = append(positions, bits.TrailingZeros16(uint16(remaining)))
	}

	return positions
}

func (pm PositionMask) String() string {
	if pm == 0 {
		return "{}"
	}

	parts := make([]string, 0, pm.Count())
	for _, position := range pm.Positions() {
		parts = append(parts, fmt.Sprintf("%d", position))
	}

	return fmt.Sprintf("{%s}", strings.Join(parts, ","))
}
