package raidxor

import (
	"fmt"

	"github.com/dsoprea/go-logging"
)

var (
	writeLogger = log.NewLogger("raidxor.write")
)

const (
	writeOptions = OptionCheckCrc | OptionCheckLbaStamp | OptionGenerateLbaStamp | OptionDebug | OptionLogicalRequest
)

// parityAccumulator builds new parity from the data positions of one block,
// one position at a time.
type parityAccumulator struct {
	tables *evenOddTables

	row      Sector
	diagonal Sector

	raw     uint32
	rowPoc  uint16
	diagPoc uint16

	started bool
}

// newParityAccumulator starts accumulating into the given parity sectors.
// (diagonal) is nil for a single parity.
func (e *Engine) newParityAccumulator(row, diagonal Sector) *parityAccumulator {
	pa := &parityAccumulator{
		row:      row,
		diagonal: diagonal,
	}

	if diagonal != nil {
		pa.tables = e.tables()
	}

	return pa
}

// add folds in the data sector of column (column).
func (pa *parityAccumulator) add(s Sector, column int) {
	if pa.started == true {
		pa.row.XorDataFrom(s)
	} else {
		pa.row.CopyDataFrom(s)

		if pa.diagonal != nil {
			pa.tables.encodeDiagonal(pa.diagonal, nil)
		}

		pa.started = true
	}

	if pa.diagonal != nil {
		pa.tables.xorColumn(pa.diagonal[:DataBytesPerBlock], s[:DataBytesPerBlock], column)
	}

	crc := s.Crc()

	pa.raw ^= RawChecksum(s)
	pa.rowPoc ^= crc
	pa.diagPoc ^= rotl16(crc, column)
}

// finish stores the checksums and stamps of the new parity.
func (pa *parityAccumulator) finish(timeStamp, writeStamp uint16) {
	pa.row.SetCrc(CookChecksum(pa.raw))

	if pa.diagonal == nil {
		pa.row.SetStamps(timeStamp, writeStamp, 0)
		return
	}

	pa.row.SetStamps(timeStamp, writeStamp, pa.rowPoc)

	SetChecksum(pa.diagonal)
	pa.diagonal.SetStamps(timeStamp, writeStamp, pa.diagPoc)
}

// checkWriteData checks and stamps the lba-stamp of a sector that is about to
// be written. Sectors with a bad checksum are only accepted if they are
// deliberately invalidated.
func (e *Engine) checkWriteData(eb *ErrorBoard, s Sector, key PositionMask, lba uint64, options Option) (status Status) {
	if IsChecksumValid(s) != true {
		if options.Has(OptionCheckCrc) == true {
			status |= e.handleBadCrcOnWrite(eb, s, key, lba, options)
		}

		return status
	}

	if options.Has(OptionGenerateLbaStamp) == true {
		s.SetLbaStamp(LbaStamp(lba, eb.RaidGroupOffset))
	} else if options.Has(OptionCheckLbaStamp) == true && IsValidLbaStamp(s, lba, eb.RaidGroupOffset) != true {
		eb.UCrcBitmap |= key
		eb.CrcLbaStampBitmap |= key

		e.trace(eb, s, key, lba, 0, TraceSeverityError, fmt.Sprintf("write data has a bad lba-stamp: (0x%04x)", s.LbaStamp()))

		status |= StatusChecksumError
	}

	return status
}

// checkPreRead checks a sector that was read from disk and stays there.
// Deliberately invalidated sectors are legitimate content.
func (e *Engine) checkPreRead(eb *ErrorBoard, s Sector, key PositionMask, lba uint64, options Option) (status Status) {
	crcRead := s.Crc()
	crcCalc := CalculateChecksum(s)

	if crcRead != crcCalc {
		if IsProperlyInvalidated(s, lba, options.checkLbaForInvalidated()) == true {
			return StatusNoError
		}

		eb.UCrcBitmap |= key
		e.classifyChecksumError(eb, s, key, lba, crcRead, crcCalc, options.checkLbaForInvalidated(), options)

		return StatusChecksumError
	}

	if options.Has(OptionCheckLbaStamp) == true && IsValidLbaStamp(s, lba, eb.RaidGroupOffset) != true {
		eb.UCrcBitmap |= key
		eb.CrcLbaStampBitmap |= key

		e.trace(eb, s, key, lba, 0, TraceSeverityError, fmt.Sprintf("pre-read has a bad lba-stamp: (0x%04x)", s.LbaStamp()))

		return StatusChecksumError
	}

	return StatusNoError
}

// validateWriteStamp fails a request whose time-stamp can not be stored.
func validateWriteStamp(operation string, timeStamp uint16) {
	if IsFreshTimeStamp(timeStamp) != true {
		requestf("%s time-stamp is reserved: (0x%04x)", operation, timeStamp)
	}
}

// MR3Request writes every data position of a strip. Parity is calculated
// without reading anything.
type MR3Request struct {
	Width int

	// Cursors hold the new data for the data positions and receive the new
	// parity for the parity positions.
	Cursors []*SectorCursor
	Keys    []PositionMask

	ParityPositions []int

	Seed  uint64
	Count int

	// TimeStamp is stored on every data position.
	TimeStamp uint16

	Options    Option
	ErrorBoard *ErrorBoard
}

// WriteMR3 stamps the new data and calculates parity for a full-strip write.
func (e *Engine) WriteMR3(mr *MR3Request) (status Status, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = recoveredError(errRaw)
		}
	}()

	operation := "mr3 write"

	minWidth := r5MinWidth
	if len(mr.ParityPositions) == 2 {
		minWidth = r6MinWidth
	} else if len(mr.ParityPositions) != 1 {
		requestf("%s needs one or two parity positions: (%d)", operation, len(mr.ParityPositions))
	}

	validateStrip(operation, mr.Width, minWidth, MaxPositions, mr.Cursors, mr.Keys, mr.Count, mr.ErrorBoard)
	validateOptions(operation, mr.Options, writeOptions)
	validateWriteStamp(operation, mr.TimeStamp)

	pl := newParityLayout(operation, mr.Keys, mr.ParityPositions, nil, len(mr.ParityPositions))

	writeLogger.Debugf(nil, "Running %s: %s SEED=(0x%x) COUNT=(%d) TS=(0x%04x)", operation, pl, mr.Seed, mr.Count, mr.TimeStamp)

	e.runBlocks(mr.ErrorBoard, nil, cursorSet(mr.Cursors), mr.Seed, mr.Count, func(beb *ErrorBoard, sectors []Sector, lba uint64) {
		status |= e.writeMR3Unit(beb, pl, sectors, lba, mr.TimeStamp, mr.Options)
	})

	return status, nil
}

func (e *Engine) writeMR3Unit(eb *ErrorBoard, pl *parityLayout, sectors []Sector, lba uint64, timeStamp uint16, options Option) (status Status) {
	var diagonal Sector
	if pl.isR6() == true {
		diagonal = sectors[pl.diagParity]
	}

	pa := e.newParityAccumulator(sectors[pl.rowParity], diagonal)

	for column, i := range pl.data {
		s := sectors[i]
		key := pl.keys[i]

		status |= e.checkWriteData(eb, s, key, lba, options)

		s.SetTimeStamp(timeStamp)
		s.SetWriteStamp(0)

		pa.add(s, column)
	}

	pa.finish(timeStamp|TimeStampAll, 0)

	eb.markModified(pl.all)

	return status
}
