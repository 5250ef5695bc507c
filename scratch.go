package raidxor

import (
	"fmt"
)

// scratch is the working state of one block of a single-parity evaluation.
// Good data is folded into a private sector so that a missing position can be
// rebuilt without reading the others again.
type scratch struct {
	// fatalPosition is the first position found bad, or InvalidPosition.
	fatalPosition int
	fatalKey      PositionMask

	// fatalCount is the number of positions found bad.
	fatalCount  int
	fatalBitmap PositionMask

	// runningCsum is the raw checksum of everything folded in so far.
	runningCsum uint32

	sector Sector

	// copyRequired is set until the first sector is folded in.
	copyRequired bool

	seed    uint64
	options Option
}

func newScratch(seed uint64, options Option) *scratch {
	return &scratch{
		fatalPosition: InvalidPosition,
		sector:        make(Sector, BlockSize),
		copyRequired:  true,
		seed:          seed,
		options:       options,
	}
}

// accumulate folds the payload of a good sector in.
func (sc *scratch) accumulate(s Sector) {
	if sc.copyRequired == true {
		sc.sector.CopyDataFrom(s)
		sc.copyRequired = false
	} else {
		sc.sector.XorDataFrom(s)
	}

	sc.runningCsum ^= RawChecksum(s)
}

// markFatal records a position that must be rebuilt or given up on.
func (sc *scratch) markFatal(position int, key PositionMask) {
	if sc.fatalBitmap.Overlaps(key) == true {
		return
	}

	if sc.fatalCount == 0 {
		sc.fatalPosition = position
		sc.fatalKey = key
	}

	sc.fatalCount++
	sc.fatalBitmap |= key
}

// rebuildInto sets the payload of (s) to everything accumulated XORed with
// (parity) and returns the raw checksum of the result.
func (sc *scratch) rebuildInto(s, parity Sector) uint32 {
	if sc.copyRequired == true {
		s.CopyDataFrom(parity)
	} else {
		xorInto3(s[:DataBytesPerBlock], sc.sector[:DataBytesPerBlock], parity[:DataBytesPerBlock])
	}

	return sc.runningCsum ^ RawChecksum(parity)
}

func (sc *scratch) String() string {
	return fmt.Sprintf("Scratch<SEED=(0x%x) FATAL-COUNT=(%d) FATAL=%s FIRST=(%d) CSUM=(0x%08x)>", sc.seed, sc.fatalCount, sc.fatalBitmap, sc.fatalPosition, sc.runningCsum)
}
