package raidxor

import (
	"fmt"

	"github.com/dsoprea/go-logging"
)

var (
	validateLogger = log.NewLogger("raidxor.validate")
)

// ClassifyChecksumError records why the checksum of a sector is bad. Exactly
// one classification bitmap is updated for (key). It fails if the board was
// never associated with a raid-group.
func (e *Engine) ClassifyChecksumError(eb *ErrorBoard, s Sector, key PositionMask, seed uint64, crcRead, crcCalc uint16, checkInvalidatedLba bool) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = recoveredError(errRaw)
		}
	}()

	e.classifyChecksumError(eb, s, key, seed, crcRead, crcCalc, checkInvalidatedLba, 0)
	return nil
}

// classifyChecksumError is the panicking form used inside the engines.
// OptionDebug turns an unexplained checksum error into an invariant failure.
func (e *Engine) classifyChecksumError(eb *ErrorBoard, s Sector, key PositionMask, seed uint64, crcRead, crcCalc uint16, checkInvalidatedLba bool, options Option) {
	if eb.RaidGroupObjectID == InvalidObjectID {
		log.Panic(fmt.Errorf("%w: can not classify the checksum error at (0x%x)", ErrInvalidObjectID, seed))
	}

	if reason, isInvalidated := IsSectorInvalidated(s, seed, checkInvalidatedLba); isInvalidated == true {
		switch reason {
		case InvalidReasonDhInvalidated:
			eb.CrcDhBitmap |= key
		case InvalidReasonRaidVerify:
			eb.CrcRaidBitmap |= key
		case InvalidReasonDataLost:
			eb.CrcDataLostBitmap |= key
		case InvalidReasonPvdMetadataInvalid:
			eb.CrcPvdMetadataBitmap |= key
		case InvalidReasonCorruptData:
			eb.CorruptDataBitmap |= key
		case InvalidReasonCopyInvalidated:
			eb.CrcCopyBitmap |= key
		default:
			eb.CorruptCrcBitmap |= key
		}

		e.trace(eb, s, key, seed, 0, TraceSeverityInfo, fmt.Sprintf("sector invalidated: [%s]", reason))
		return
	}

	if IsKlondikeSector(s) == true {
		eb.CrcKlondikeBitmap |= key

		e.trace(eb, s, key, seed, 0, TraceSeverityWarning, "sector holds the klondike pattern")
		return
	}

	eb.CrcUnknownBitmap |= key

	bitDifference := bitDifference(crcRead, crcCalc)
	if bitDifference == 1 {
		eb.CrcSingleBitmap |= key
	} else {
		eb.CrcMultiBitmap |= key

		// Reported separately so that encrypted units, where a wrong key
		// garbles both, do not count the same failure twice.
		if IsValidLbaStamp(s, seed, eb.RaidGroupOffset) != true {
			eb.CrcMultiAndLbaBitmap |= key
		}
	}

	e.trace(eb, s, key, seed, bitDifference, TraceSeverityError, fmt.Sprintf("checksum error: read (0x%04x) calculated (0x%04x)", crcRead, crcCalc))

	if options.Has(OptionDebug) == true {
		e.invariantf("checksum error on position %s at (0x%x) with debug enabled", key, seed)
	}
}

// stampFault is a set of stamp problems found on one sector.
type stampFault uint8

const (
	stampFaultTimeStamp stampFault = 1 << iota
	stampFaultWriteStamp
	stampFaultLbaStamp
)

// ValidateStampsForMirrorOrStriper returns true if the stamps are legal for a
// sector of a mirror or striper unit.
func ValidateStampsForMirrorOrStriper(s Sector, lba, raidGroupOffset uint64) bool {
	return mirrorStampFaults(s, lba, raidGroupOffset, true) == 0
}

// mirrorStampFaults checks the stamps of a mirror or striper sector. The
// lba-stamp is only checked when the checksum is good, so a sector with an
// injected checksum error is not faulted twice.
func mirrorStampFaults(s Sector, lba, raidGroupOffset uint64, checkLba bool) (faults stampFault) {
	if ts := s.TimeStamp(); ts != 0 && ts != TimeStampInvalid {
		faults |= stampFaultTimeStamp
	}

	if s.WriteStamp() != 0 {
		faults |= stampFaultWriteStamp
	}

	if checkLba == true && IsChecksumValid(s) == true && IsValidLbaStamp(s, lba, raidGroupOffset) != true {
		faults |= stampFaultLbaStamp
	}

	return faults
}

// checkSector checks the checksum and, if requested, the lba-stamp. Failures
// are classified and recorded as uncorrectable checksum errors. Properly
// invalidated sectors pass when OptionAllowInvalids is given.
func (e *Engine) checkSector(eb *ErrorBoard, s Sector, key PositionMask, seed uint64, options Option) bool {
	crcRead := s.Crc()
	crcCalc := CalculateChecksum(s)

	if crcRead != crcCalc {
		if options.Has(OptionAllowInvalids) == true && IsProperlyInvalidated(s, seed, options.checkLbaForInvalidated()) == true {
			return true
		}

		eb.UCrcBitmap |= key
		e.classifyChecksumError(eb, s, key, seed, crcRead, crcCalc, options.checkLbaForInvalidated(), options)

		return false
	}

	if options.Has(OptionCheckLbaStamp) == true && IsValidLbaStamp(s, seed, eb.RaidGroupOffset) != true {
		eb.UCrcBitmap |= key
		eb.CrcLbaStampBitmap |= key

		e.trace(eb, s, key, seed, 0, TraceSeverityError, fmt.Sprintf("lba-stamp error: read (0x%04x) expected (0x%04x)", s.LbaStamp(), LbaStamp(seed, eb.RaidGroupOffset)))
		return false
	}

	return true
}

// handleBadCrcOnWrite deals with a bad checksum on data we were asked to
// write. Known invalidation patterns are expected and accepted. Anything else
// means the memory was corrupted after the client built the data.
func (e *Engine) handleBadCrcOnWrite(eb *ErrorBoard, s Sector, key PositionMask, seed uint64, options Option) Status {
	crcRead := s.Crc()
	crcCalc := CalculateChecksum(s)

	_, isInvalidated := IsSectorInvalidated(s, seed, options.checkLbaForInvalidated())
	if isInvalidated == true || IsKlondikeSector(s) == true {
		e.classifyChecksumError(eb, s, key, seed, crcRead, crcCalc, options.checkLbaForInvalidated(), 0)
		return StatusNoError
	}

	eb.UCrcBitmap |= key
	e.classifyChecksumError(eb, s, key, seed, crcRead, crcCalc, options.checkLbaForInvalidated(), options)

	validateLogger.Errorf(nil, fmt.Errorf("bad memory at (0x%x) position %s", seed, key), "Write data has a bad checksum.")

	return StatusBadMemory
}

// determineMediaErrors records which checksum errors are explained by media
// errors, so those drives are not penalized twice. A media error means no
// data was read, so it can never coincide with the klondike pattern.
func (e *Engine) determineMediaErrors(eb *ErrorBoard, mediaErrBitmap PositionMask) {
	eb.MediaErrBitmap = mediaErrBitmap & (eb.UCrcBitmap | eb.CCrcBitmap)

	if overlap := eb.MediaErrBitmap & eb.CrcKlondikeBitmap; overlap != 0 {
		e.invariantf("media errors overlap klondike sectors: %s", overlap)
	}
}
