package raidxor

import (
	"fmt"

	"github.com/dsoprea/go-logging"
)

var (
	stampsLogger = log.NewLogger("raidxor.stamps")
)

const (
	stampsOptions = OptionCheckCrc | OptionCheckLbaStamp | OptionGenerateCrc | OptionGenerateLbaStamp |
		OptionAllowInvalids | OptionDebug | OptionValidateData | OptionCorruptCrc | OptionCorruptData |
		OptionLogicalRequest

	copyOptions = OptionCheckCrc | OptionCheckLbaStamp | OptionDebug | OptionLogicalRequest | OptionIgnoreInvalidates
)

// StampsPosition is one run of sectors to stamp or check.
type StampsPosition struct {
	Cursor *SectorCursor
	Key    PositionMask

	// Seed is the lba of the first block.
	Seed  uint64
	Count int
}

// StampsRequest generates or checks checksums and lba-stamps over memory,
// or injects errors into it.
type StampsRequest struct {
	Positions []StampsPosition
	Options   Option

	ErrorBoard *ErrorBoard
}

func (e *Engine) validateStampsRequest(operation string, sr *StampsRequest, allowed Option) {
	if sr.ErrorBoard == nil {
		requestf("%s has no error board", operation)
	} else if len(sr.Positions) == 0 || len(sr.Positions) > MaxPositions {
		requestf("%s has (%d) positions", operation, len(sr.Positions))
	}

	validateOptions(operation, sr.Options, allowed)

	keys := make([]PositionMask, len(sr.Positions))
	for i, sp := range sr.Positions {
		if sp.Count <= 0 {
			requestf("%s position (%d) block count must be positive: (%d)", operation, i, sp.Count)
		}

		validateCursor(fmt.Sprintf("%s position (%d)", operation, i), sp.Cursor, sp.Count)
		keys[i] = sp.Key
	}

	validateKeys(keys)
}

// ExecuteStamps applies the requested generation, checks and error injection
// to every sector. Checksum and lba-stamp failures both report
// StatusChecksumError.
func (e *Engine) ExecuteStamps(sr *StampsRequest) (status Status, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = recoveredError(errRaw)
		}
	}()

	operation := "execute stamps"
	e.validateStampsRequest(operation, sr, stampsOptions)

	stampsLogger.Debugf(nil, "Running %s: POSITIONS=(%d) OPTIONS=%s", operation, len(sr.Positions), sr.Options)

	for _, sp := range sr.Positions {
		for block := 0; block < sp.Count; block++ {
			lba := sp.Seed + uint64(block)
			beb := sr.ErrorBoard.blockBoard()

			status |= e.stampSector(beb, sp.Cursor.Sector(), sp.Key, lba, sr.Options)

			sr.ErrorBoard.Fold(beb)

			err := sp.Cursor.Advance(1)
			log.PanicIf(err)
		}

		if sp.Cursor.IsExhausted() != true {
			e.invariantf("stamps cursor for %s was not exhausted", sp.Key)
		}
	}

	return status, nil
}

func (e *Engine) stampSector(eb *ErrorBoard, s Sector, key PositionMask, lba uint64, options Option) (status Status) {
	if options.Has(OptionCorruptCrc) == true || options.Has(OptionCorruptData) == true {
		reason := InvalidReasonCorruptCrc
		if options.Has(OptionCorruptData) == true {
			reason = InvalidReasonCorruptData
		}

		err := FillInvalidSector(s, lba, reason, InvalidatedByClient)
		log.PanicIf(err)

		eb.markModified(key)
		return StatusNoError
	}

	if options.Has(OptionValidateData) == true && IsZeroedSector(s) != true {
		e.trace(eb, s, key, lba, 0, TraceSeverityError, "sector does not hold the zeroed pattern")
		status |= StatusUnexpectedData
	}

	if options.Has(OptionCheckCrc) == true {
		crcRead := s.Crc()
		crcCalc := CalculateChecksum(s)

		if crcRead != crcCalc {
			if options.Has(OptionAllowInvalids) != true || IsProperlyInvalidated(s, lba, options.checkLbaForInvalidated()) != true {
				eb.UCrcBitmap |= key
				e.classifyChecksumError(eb, s, key, lba, crcRead, crcCalc, options.checkLbaForInvalidated(), options)

				status |= StatusChecksumError
			}
		}
	} else if options.Has(OptionGenerateCrc) == true {
		SetChecksum(s)
		eb.markModified(key)
	}

	// A sector with a bad checksum was already reported and the lba-stamp of
	// an invalidated sector is not meaningful.
	if options.Has(OptionCheckLbaStamp) == true && IsChecksumValid(s) == true && IsValidLbaStamp(s, lba, eb.RaidGroupOffset) != true {
		eb.UCrcBitmap |= key
		eb.CrcLbaStampBitmap |= key

		e.trace(eb, s, key, lba, 0, TraceSeverityError, fmt.Sprintf("bad lba-stamp: (0x%04x) expected (0x%04x)", s.LbaStamp(), LbaStamp(lba, eb.RaidGroupOffset)))

		status |= StatusChecksumError
	} else if options.Has(OptionGenerateLbaStamp) == true {
		s.SetLbaStamp(LbaStamp(lba, eb.RaidGroupOffset))
		eb.markModified(key)
	}

	return status
}

// ZeroSectors fills every sector with the zeroed pattern.
func (e *Engine) ZeroSectors(sr *StampsRequest) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = recoveredError(errRaw)
		}
	}()

	e.validateStampsRequest("zero sectors", sr, 0)

	for _, sp := range sr.Positions {
		for sector := sp.Cursor.Sector(); sector != nil; sector = sp.Cursor.Sector() {
			FillZeroedSector(sector)

			err := sp.Cursor.Advance(1)
			log.PanicIf(err)
		}

		sr.ErrorBoard.markModified(sp.Key)
	}

	return nil
}

// CopyRequest copies sectors from one region of memory to another, checking
// them on the way.
type CopyRequest struct {
	Source      *SectorCursor
	Destination *SectorCursor
	Key         PositionMask

	Seed  uint64
	Count int

	Options    Option
	ErrorBoard *ErrorBoard
}

// CopySectors copies every sector whatever its state. Checksum and lba-stamp
// failures are reported through the status. With OptionIgnoreInvalidates,
// deliberately invalidated sectors are copied without being reported.
func (e *Engine) CopySectors(cr *CopyRequest) (status Status, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = recoveredError(errRaw)
		}
	}()

	operation := "copy sectors"

	if cr.ErrorBoard == nil {
		requestf("%s has no error board", operation)
	} else if cr.Count <= 0 {
		requestf("%s block count must be positive: (%d)", operation, cr.Count)
	} else if cr.Key.IsSingle() != true {
		requestf("%s key is not a single position: %s", operation, cr.Key)
	}

	validateOptions(operation, cr.Options, copyOptions)
	validateCursor(operation+" source", cr.Source, cr.Count)
	validateCursor(operation+" destination", cr.Destination, cr.Count)

	cursors := cursorSet{cr.Source, cr.Destination}

	for block := 0; block < cr.Count; block++ {
		lba := cr.Seed + uint64(block)
		beb := cr.ErrorBoard.blockBoard()

		source := cr.Source.Sector()

		status |= e.checkCopySector(beb, source, cr.Key, lba, cr.Options)

		cr.Destination.Sector().CopyFrom(source)
		beb.markModified(cr.Key)

		cr.ErrorBoard.Fold(beb)
		cursors.advance(1)
	}

	if empty := cursors.emptyCount(); empty != len(cursors) {
		e.invariantf("only (%d) of (%d) copy cursors are exhausted", empty, len(cursors))
	}

	return status, nil
}

func (e *Engine) checkCopySector(eb *ErrorBoard, s Sector, key PositionMask, lba uint64, options Option) (status Status) {
	crcRead := s.Crc()
	crcCalc := CalculateChecksum(s)

	if crcRead != crcCalc {
		if options.Has(OptionIgnoreInvalidates) == true && IsProperlyInvalidated(s, lba, options.checkLbaForInvalidated()) == true {
			return StatusNoError
		}

		if options.Has(OptionCheckCrc) == true {
			eb.UCrcBitmap |= key
			e.classifyChecksumError(eb, s, key, lba, crcRead, crcCalc, options.checkLbaForInvalidated(), options)

			status |= StatusChecksumError
		}

		return status
	}

	if options.Has(OptionCheckLbaStamp) == true && IsValidLbaStamp(s, lba, eb.RaidGroupOffset) != true {
		eb.UCrcBitmap |= key
		eb.CrcLbaStampBitmap |= key

		e.trace(eb, s, key, lba, 0, TraceSeverityError, fmt.Sprintf("copy source has a bad lba-stamp: (0x%04x)", s.LbaStamp()))

		status |= StatusChecksumError
	}

	return status
}
