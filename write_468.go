package raidxor

import (
	"fmt"
)

// Write468Position is one position of a read-modify-write.
type Write468Position struct {
	// Old holds the pre-read content of every block of the strip. It is nil
	// for a data position that is not touched. The parity is updated in
	// place.
	Old *SectorCursor

	// New holds the blocks being written. It is nil for parity and for
	// untouched positions.
	New *SectorCursor

	// WriteStart is the first block of the strip that is written.
	// WriteBlocks is how many are. The blocks before and after are
	// pre-read only.
	WriteStart  int
	WriteBlocks int
}

// isWritten returns true if (block) of the strip is written.
func (wp Write468Position) isWritten(block int) bool {
	return wp.New != nil && block >= wp.WriteStart && block < wp.WriteStart+wp.WriteBlocks
}

// Write468Request updates parity for a partial-strip write from the old data,
// the new data and the old parity.
type Write468Request struct {
	Keys            []PositionMask
	Positions       []Write468Position
	ParityPositions []int

	Seed  uint64
	Count int

	Options    Option
	ErrorBoard *ErrorBoard
}

// Write468 checks the pre-reads, removes the old data from parity, adds the
// new data and stamps it. Corruption in the pre-reads is reported through the
// status; the caller must not write if it is not StatusNoError.
func (e *Engine) Write468(wr *Write468Request) (status Status, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = recoveredError(errRaw)
		}
	}()

	operation := "468 write"

	if wr.ErrorBoard == nil {
		requestf("%s has no error board", operation)
	} else if len(wr.Positions) != len(wr.Keys) {
		requestf("%s has (%d) positions and (%d) keys", operation, len(wr.Positions), len(wr.Keys))
	} else if wr.Count <= 0 {
		requestf("%s block count must be positive: (%d)", operation, wr.Count)
	}

	validateOptions(operation, wr.Options, writeOptions)

	pl := newParityLayout(operation, wr.Keys, wr.ParityPositions, nil, len(wr.ParityPositions))
	cursors := e.validate468Positions(operation, pl, wr)

	writeLogger.Debugf(nil, "Running %s: %s SEED=(0x%x) COUNT=(%d)", operation, pl, wr.Seed, wr.Count)

	for block := 0; block < wr.Count; block++ {
		lba := wr.Seed + uint64(block)
		beb := wr.ErrorBoard.blockBoard()

		status |= e.write468Unit(beb, pl, wr.Positions, block, lba, wr.Options)

		wr.ErrorBoard.Fold(beb)

		for _, wp := range wr.Positions {
			if wp.Old == nil {
				continue
			}

			err := wp.Old.Advance(1)
			if err != nil {
				e.invariantf("pre-read cursor can not advance at (0x%x): %s", lba, err)
			}

			if wp.isWritten(block) == true {
				err := wp.New.Advance(1)
				if err != nil {
					e.invariantf("write cursor can not advance at (0x%x): %s", lba, err)
				}
			}
		}
	}

	if empty := cursors.emptyCount(); empty != len(cursors) {
		e.invariantf("only (%d) of (%d) cursors are exhausted after (%d) blocks", empty, len(cursors), wr.Count)
	}

	return status, nil
}

// validate468Positions checks the shape of every position and returns every
// cursor in use.
func (e *Engine) validate468Positions(operation string, pl *parityLayout, wr *Write468Request) cursorSet {
	cursors := make(cursorSet, 0, 2*len(wr.Positions))
	written := 0

	for i, wp := range wr.Positions {
		name := fmt.Sprintf("%s position (%d)", operation, i)

		if pl.parityBitmap.Overlaps(pl.keys[i]) == true {
			if wp.New != nil {
				requestf("%s is parity and can not have new data", name)
			}

			validateCursor(name+" parity", wp.Old, wr.Count)
			cursors = append(cursors, wp.Old)

			continue
		}

		if wp.Old == nil {
			if wp.New != nil {
				requestf("%s has new data but no pre-read", name)
			}

			continue
		}

		validateCursor(name+" pre-read", wp.Old, wr.Count)
		cursors = append(cursors, wp.Old)

		if wp.New == nil {
			continue
		}

		if wp.WriteBlocks <= 0 || wp.WriteStart < 0 || wp.WriteStart+wp.WriteBlocks > wr.Count {
			requestf("%s write window [%d, +%d) does not fit (%d) blocks", name, wp.WriteStart, wp.WriteBlocks, wr.Count)
		}

		validateCursor(name+" write", wp.New, wp.WriteBlocks)
		cursors = append(cursors, wp.New)

		written++
	}

	if written == 0 {
		requestf("%s writes no position", operation)
	}

	return cursors
}

// checkOldAgainstParity applies the four stamp consistency checks between
// old data and the stamps of the old parity.
func (e *Engine) checkOldAgainstParity(eb *ErrorBoard, old Sector, key PositionMask, parityTs, parityWs uint16, lba uint64) (status Status) {
	ws := old.WriteStamp()
	bit := uint16(key)

	if ws&^bit != 0 {
		eb.UWsBitmap |= key
		status |= StatusBadMetadata
	}

	if ws&bit != parityWs&bit {
		eb.UWsBitmap |= key
		status |= StatusConsistencyError
	}

	if ws&bit != 0 && old.TimeStamp() != TimeStampInvalid {
		eb.UTsBitmap |= key
		status |= StatusBadMetadata
	}

	if parityTs&TimeStampAll != 0 && old.TimeStamp() != parityTs&^TimeStampAll {
		eb.UTsBitmap |= key
		status |= StatusConsistencyError
	}

	if status != StatusNoError {
		e.trace(eb, old, key, lba, 0, TraceSeverityError, fmt.Sprintf("pre-read stamps disagree with parity: [%s]", status))
	}

	return status
}

func (e *Engine) write468Unit(eb *ErrorBoard, pl *parityLayout, positions []Write468Position, block int, lba uint64, options Option) (status Status) {
	parities := pl.parities()
	paritySectors := make([]Sector, len(parities))

	for n, p := range parities {
		ps := positions[p].Old.Sector()
		key := pl.keys[p]

		paritySectors[n] = ps

		status |= e.checkPreRead(eb, ps, key, lba, options&^OptionCheckLbaStamp)

		if pl.isR6() != true && ps.LbaStamp() != 0 {
			eb.USsBitmap |= key
			status |= StatusShedStampError
		}

		if faults := parityStampFaults(ps, pl.dataBitmap); faults != 0 {
			recordStampFaults(eb, key, faults)
			status |= StatusBadMetadata
		}
	}

	row := paritySectors[0]

	var diagonal Sector
	if pl.isR6() == true {
		diagonal = paritySectors[1]
	}

	// Parity stamps change as positions are written.
	parityTs := row.TimeStamp()
	parityWs := row.WriteStamp()

	delta := make(Sector, BlockSize)

	for column, i := range pl.data {
		wp := positions[i]
		if wp.Old == nil {
			continue
		}

		key := pl.keys[i]
		old := wp.Old.Sector()

		status |= e.checkPreRead(eb, old, key, lba, options)
		status |= e.checkOldAgainstParity(eb, old, key, parityTs, parityWs, lba)

		if wp.isWritten(block) != true {
			continue
		}

		s := wp.New.Sector()

		status |= e.checkWriteData(eb, s, key, lba, options)

		xorInto3(delta[:DataBytesPerBlock], old[:DataBytesPerBlock], s[:DataBytesPerBlock])
		row.XorDataFrom(delta)

		if diagonal != nil {
			e.tables().xorColumn(diagonal[:DataBytesPerBlock], delta[:DataBytesPerBlock], column)

			crcDelta := old.Crc() ^ s.Crc()
			row.SetLbaStamp(row.LbaStamp() ^ crcDelta)
			diagonal.SetLbaStamp(diagonal.LbaStamp() ^ rotl16(old.Crc(), column) ^ rotl16(s.Crc(), column))
		}

		s.SetTimeStamp(TimeStampInvalid)
		s.SetWriteStamp((old.WriteStamp() & uint16(key)) ^ uint16(key))

		for _, ps := range paritySectors {
			ps.SetWriteStamp(ps.WriteStamp() ^ uint16(key))
			ps.SetTimeStamp(ps.TimeStamp() &^ TimeStampAll)
		}

		eb.markModified(key)
	}

	for n, ps := range paritySectors {
		SetChecksum(ps)
		eb.markModified(pl.keys[parities[n]])
	}

	return status
}
