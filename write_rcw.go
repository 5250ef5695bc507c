package raidxor

import (
	"fmt"
)

// RCWPosition is one position of a read-combine-write. Within the strip the
// position is read for ReadBlocks, written for WriteBlocks and read again for
// Read2Blocks; the three add up to the strip length. A parity position only
// has a write region, which receives the new parity.
type RCWPosition struct {
	Read       *SectorCursor
	ReadBlocks int

	Write       *SectorCursor
	WriteBlocks int

	Read2       *SectorCursor
	Read2Blocks int
}

// rcwRegion identifies which part of a position a block falls in.
type rcwRegion int

const (
	rcwRegionRead rcwRegion = iota
	rcwRegionWrite
	rcwRegionRead2
)

func (rr rcwRegion) String() string {
	switch rr {
	case rcwRegionRead:
		return "read"
	case rcwRegionWrite:
		return "write"
	case rcwRegionRead2:
		return "read2"
	}

	return fmt.Sprintf("unknown(%d)", int(rr))
}

// nextDescriptor returns the region and cursor that hold (block) of the
// strip.
func (rp RCWPosition) nextDescriptor(block int) (rcwRegion, *SectorCursor) {
	if block < rp.ReadBlocks {
		return rcwRegionRead, rp.Read
	} else if block < rp.ReadBlocks+rp.WriteBlocks {
		return rcwRegionWrite, rp.Write
	}

	return rcwRegionRead2, rp.Read2
}

// RCWRequest combines what is read and what is written into new parity for
// every block of the strip.
type RCWRequest struct {
	Keys            []PositionMask
	Positions       []RCWPosition
	ParityPositions []int

	Seed  uint64
	Count int

	// TimeStamp is stored on the written data.
	TimeStamp uint16

	Options    Option
	ErrorBoard *ErrorBoard
}

// WriteRCW checks the read regions, stamps the write regions and calculates
// new parity from both.
func (e *Engine) WriteRCW(rr *RCWRequest) (status Status, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = recoveredError(errRaw)
		}
	}()

	operation := "rcw write"

	if rr.ErrorBoard == nil {
		requestf("%s has no error board", operation)
	} else if len(rr.Positions) != len(rr.Keys) {
		requestf("%s has (%d) positions and (%d) keys", operation, len(rr.Positions), len(rr.Keys))
	} else if rr.Count <= 0 {
		requestf("%s block count must be positive: (%d)", operation, rr.Count)
	}

	validateOptions(operation, rr.Options, writeOptions)
	validateWriteStamp(operation, rr.TimeStamp)

	pl := newParityLayout(operation, rr.Keys, rr.ParityPositions, nil, len(rr.ParityPositions))
	cursors := validateRCWPositions(operation, pl, rr)

	writeLogger.Debugf(nil, "Running %s: %s SEED=(0x%x) COUNT=(%d) TS=(0x%04x)", operation, pl, rr.Seed, rr.Count, rr.TimeStamp)

	for block := 0; block < rr.Count; block++ {
		lba := rr.Seed + uint64(block)
		beb := rr.ErrorBoard.blockBoard()

		status |= e.writeRCWUnit(beb, pl, rr.Positions, block, lba, rr.TimeStamp, rr.Options)

		rr.ErrorBoard.Fold(beb)

		for _, rp := range rr.Positions {
			_, sc := rp.nextDescriptor(block)

			err := sc.Advance(1)
			if err != nil {
				e.invariantf("rcw cursor can not advance at (0x%x): %s", lba, err)
			}
		}
	}

	if empty := cursors.emptyCount(); empty != len(cursors) {
		e.invariantf("only (%d) of (%d) cursors are exhausted after (%d) blocks", empty, len(cursors), rr.Count)
	}

	return status, nil
}

// validateRCWPositions checks that the regions of every position tile the
// strip and returns every cursor in use.
func validateRCWPositions(operation string, pl *parityLayout, rr *RCWRequest) cursorSet {
	cursors := make(cursorSet, 0, 3*len(rr.Positions))

	for i, rp := range rr.Positions {
		name := fmt.Sprintf("%s position (%d)", operation, i)

		if rp.ReadBlocks < 0 || rp.WriteBlocks < 0 || rp.Read2Blocks < 0 {
			requestf("%s has a negative region", name)
		} else if total := rp.ReadBlocks + rp.WriteBlocks + rp.Read2Blocks; total != rr.Count {
			requestf("%s regions cover (%d) blocks but the strip has (%d)", name, total, rr.Count)
		}

		if pl.parityBitmap.Overlaps(pl.keys[i]) == true && rp.WriteBlocks != rr.Count {
			requestf("%s is parity and must be written for the whole strip", name)
		}

		regions := []struct {
			label  string
			cursor *SectorCursor
			blocks int
		}{
			{"read", rp.Read, rp.ReadBlocks},
			{"write", rp.Write, rp.WriteBlocks},
			{"read2", rp.Read2, rp.Read2Blocks},
		}

		for _, region := range regions {
			if region.blocks == 0 {
				if region.cursor != nil {
					requestf("%s has a %s cursor but no %s blocks", name, region.label, region.label)
				}

				continue
			}

			validateCursor(name+" "+region.label, region.cursor, region.blocks)
			cursors = append(cursors, region.cursor)
		}
	}

	return cursors
}

func (e *Engine) writeRCWUnit(eb *ErrorBoard, pl *parityLayout, positions []RCWPosition, block int, lba uint64, timeStamp uint16, options Option) (status Status) {
	_, rowCursor := positions[pl.rowParity].nextDescriptor(block)

	var diagonal Sector
	if pl.isR6() == true {
		_, diagCursor := positions[pl.diagParity].nextDescriptor(block)
		diagonal = diagCursor.Sector()
	}

	pa := e.newParityAccumulator(rowCursor.Sector(), diagonal)

	allWritten := true
	writeStamp := uint16(0)

	for column, i := range pl.data {
		key := pl.keys[i]

		region, sc := positions[i].nextDescriptor(block)
		s := sc.Sector()

		if region == rcwRegionWrite {
			status |= e.checkWriteData(eb, s, key, lba, options)

			s.SetTimeStamp(timeStamp)
			s.SetWriteStamp(0)

			eb.markModified(key)
		} else {
			allWritten = false

			status |= e.checkPreRead(eb, s, key, lba, options)

			if faults := dataStampFaults(s, key); faults != 0 {
				recordStampFaults(eb, key, faults)

				e.trace(eb, s, key, lba, 0, TraceSeverityError, fmt.Sprintf("illegal %s stamps: TS=(0x%04x) WS=(0x%04x)", region, s.TimeStamp(), s.WriteStamp()))
				status |= StatusBadMetadata
			}

			writeStamp |= s.WriteStamp() & uint16(key)
		}

		pa.add(s, column)
	}

	parityTs := TimeStampInvalid
	if allWritten == true {
		parityTs = timeStamp | TimeStampAll
	}

	pa.finish(parityTs, writeStamp)

	eb.markModified(pl.parityBitmap)

	return status
}
