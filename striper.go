package raidxor

import (
	"github.com/dsoprea/go-logging"
)

var (
	striperLogger = log.NewLogger("raidxor.striper")
)

const (
	striperMinWidth = 1
	striperMaxWidth = MaxPositions

	striperOptions = OptionCheckLbaStamp | OptionAllowInvalids | OptionDebug | OptionLogicalRequest
)

// StriperRequest verifies a strip of a unit without redundancy.
type StriperRequest struct {
	Width   int
	Cursors []*SectorCursor
	Keys    []PositionMask

	// Seed is the lba of the first block.
	Seed    uint64
	Count   int
	Options Option

	// ErrorBoard is the aggregate board. The caller sets the raid-group
	// identity and the read-error bitmaps.
	ErrorBoard *ErrorBoard

	// ErrorRegions is optional.
	ErrorRegions *ErrorRegions
}

// VerifyStriper checks every sector of the strip. Sectors that fail are
// invalidated in place since there is nothing to rebuild them from.
func (e *Engine) VerifyStriper(sr *StriperRequest) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = recoveredError(errRaw)
		}
	}()

	validateStrip("striper verify", sr.Width, striperMinWidth, striperMaxWidth, sr.Cursors, sr.Keys, sr.Count, sr.ErrorBoard)
	validateOptions("striper verify", sr.Options, striperOptions)

	striperLogger.Debugf(nil, "Verifying striper: WIDTH=(%d) SEED=(0x%x) COUNT=(%d) OPTIONS=%s", sr.Width, sr.Seed, sr.Count, sr.Options)

	e.runBlocks(sr.ErrorBoard, sr.ErrorRegions, cursorSet(sr.Cursors), sr.Seed, sr.Count, func(beb *ErrorBoard, sectors []Sector, lba uint64) {
		e.verifyStriperUnit(beb, sectors, sr.Keys, lba, sr.Options)
	})

	return nil
}

// verifyStriperUnit verifies one block of every position.
func (e *Engine) verifyStriperUnit(eb *ErrorBoard, sectors []Sector, keys []PositionMask, seed uint64, options Option) {
	// Nothing was read into the buffers of positions with read errors.
	unreadable := eb.unreadableBitmap()

	for i, s := range sectors {
		key := keys[i]

		if unreadable.Overlaps(key) == true {
			eb.UCrcBitmap |= key
			continue
		}

		if e.checkSector(eb, s, key, seed, options) != true {
			continue
		}

		// Illegal stamps on good data are fixed in place.
		faults := mirrorStampFaults(s, seed, eb.RaidGroupOffset, false)
		if faults&stampFaultTimeStamp != 0 {
			eb.CTsBitmap |= key
			s.SetTimeStamp(0)
		}

		if faults&stampFaultWriteStamp != 0 {
			eb.CWsBitmap |= key
			s.SetWriteStamp(0)
		}

		if faults != 0 {
			eb.markModified(key)
		}
	}

	e.determineMediaErrors(eb, eb.HardMediaErrBitmap)

	for i, s := range sectors {
		key := keys[i]
		if eb.UCrcBitmap.Overlaps(key) != true {
			continue
		}

		reason := InvalidReasonRaidVerify
		if eb.unreadableBitmap().Overlaps(key) == true {
			reason = InvalidReasonDataLost
		}

		e.invalidateLost(eb, s, key, seed, reason, options)
	}
}

// invalidateLost invalidates a sector whose data can not be recovered. A
// sector that is already properly invalidated keeps its original reason.
func (e *Engine) invalidateLost(eb *ErrorBoard, s Sector, key PositionMask, seed uint64, reason InvalidReason, options Option) {
	if IsProperlyInvalidated(s, seed, options.checkLbaForInvalidated()) == true {
		return
	}

	e.invalidateSector(eb, s, key, seed, reason)
}

// invalidateSector unconditionally invalidates a sector and marks it for
// write.
func (e *Engine) invalidateSector(eb *ErrorBoard, s Sector, key PositionMask, seed uint64, reason InvalidReason) {
	err := FillInvalidSector(s, seed, reason, InvalidatedByRaid)
	log.PanicIf(err)

	eb.markModified(key)

	engineLogger.Warningf(nil, "Invalidated position %s at (0x%x): [%s]", key, seed, reason)
}
