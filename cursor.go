package raidxor

import (
	"fmt"

	"github.com/dsoprea/go-logging"
)

// SectorCursor walks a list of memory regions one block at a time. Every
// region must be a multiple of BlockSize. The drivers keep one cursor per
// position and advance all of them in lockstep.
type SectorCursor struct {
	regions [][]byte

	// current is the unconsumed part of the region being walked.
	current []byte

	// next is the index of the region that follows (current).
	next int
}

// NewSectorCursor returns a cursor positioned at the first block of the
// first non-empty region.
func NewSectorCursor(regions ...[]byte) (sc *SectorCursor, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = recoveredError(errRaw)
		}
	}()

	for i, region := range regions {
		if len(region)%BlockSize != 0 {
			log.Panicf("region (%d) is not a multiple of the block-size: (%d)", i, len(region))
		}
	}

	sc = &SectorCursor{
		regions: regions,
	}

	sc.roll()

	return sc, nil
}

// roll moves to the next non-empty region once the current one is used up.
func (sc *SectorCursor) roll() {
	for len(sc.current) == 0 && sc.next < len(sc.regions) {
		sc.current = sc.regions[sc.next]
		sc.next++
	}
}

// Sector returns the current block. It returns nil when the cursor is
// exhausted.
func (sc *SectorCursor) Sector() Sector {
	if len(sc.current) == 0 {
		return nil
	}

	return Sector(sc.current[:BlockSize:BlockSize])
}

// BytesRemaining returns the unconsumed bytes in the current region.
func (sc *SectorCursor) BytesRemaining() int {
	return len(sc.current)
}

// BlocksRemaining returns the unconsumed blocks across all regions.
func (sc *SectorCursor) BlocksRemaining() int {
	blocks := len(sc.current) / BlockSize
	for _, region := range sc.regions[sc.next:] {
		blocks += len(region) / BlockSize
	}

	return blocks
}

// IsExhausted returns true once every block was consumed.
func (sc *SectorCursor) IsExhausted() bool {
	return len(sc.current) == 0 && sc.next >= len(sc.regions)
}

// Advance moves forward by (blocks), crossing into later regions as needed.
func (sc *SectorCursor) Advance(blocks int) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = recoveredError(errRaw)
		}
	}()

	if blocks < 0 {
		log.Panicf("can not advance backwards: (%d)", blocks)
	}

	for blocks > 0 {
		if len(sc.current) == 0 {
			log.Panicf("advanced past the end of the cursor: (%d) blocks left over", blocks)
		}

		available := len(sc.current) / BlockSize
		step := blocks
		if step > available {
			step = available
		}

		sc.current = sc.current[step*BlockSize:]
		blocks -= step

		sc.roll()
	}

	return nil
}

func (sc *SectorCursor) String() string {
	return fmt.Sprintf("SectorCursor<REMAINING-BYTES=(%d) REGIONS-LEFT=(%d)>", len(sc.current), len(sc.regions)-sc.next)
}

// cursorSet is the group of cursors a driver advances together.
type cursorSet []*SectorCursor

// sectors returns the current block of every cursor.
func (cs cursorSet) sectors() []Sector {
	sectors := make([]Sector, len(cs))
	for i, sc := range cs {
		sectors[i] = sc.Sector()
	}

	return sectors
}

func (cs cursorSet) advance(blocks int) {
	for _, sc := range cs {
		err := sc.Advance(blocks)
		log.PanicIf(err)
	}
}

// emptyCount returns how many of the cursors are exhausted.
func (cs cursorSet) emptyCount() int {
	count := 0
	for _, sc := range cs {
		if sc.IsExhausted() == true {
			count++
		}
	}

	return count
}
