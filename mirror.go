package raidxor

import (
	"fmt"

	"github.com/dsoprea/go-logging"
)

var (
	mirrorLogger = log.NewLogger("raidxor.mirror")
)

// mirrorUnit is one block of a mirror strip.
type mirrorUnit struct {
	sectors []Sector
	keys    []PositionMask

	// validBitmap holds the positions that may be read.
	validBitmap PositionMask

	// needsRebuildBitmap holds the positions that must be written from the
	// primary whatever they contain.
	needsRebuildBitmap PositionMask

	seed      uint64
	options   Option
	rawMirror bool
}

// selectPrimary checks every readable position and returns the first good
// one. Positions that fail are recorded on the board. With
// OptionAllowInvalids, a properly invalidated sector is used only when no
// position has real data; otherwise it is rewritten from the primary.
func (e *Engine) selectPrimary(eb *ErrorBoard, mu *mirrorUnit) (primary int, good []int) {
	good = make([]int, 0, len(mu.sectors))
	invalidated := make([]int, 0)

	// A position we could not read can only be rewritten.
	unreadable := mu.validBitmap & eb.unreadableBitmap()
	eb.UCrcBitmap |= unreadable

	readable := mu.validBitmap &^ unreadable &^ mu.needsRebuildBitmap
	checkOptions := mu.options &^ OptionAllowInvalids

	for i, s := range mu.sectors {
		key := mu.keys[i]
		if readable.Overlaps(key) != true {
			continue
		}

		if mu.options.Has(OptionAllowInvalids) == true && IsChecksumValid(s) != true && IsProperlyInvalidated(s, mu.seed, mu.options.checkLbaForInvalidated()) == true {
			invalidated = append(invalidated, i)
			continue
		}

		if e.checkSector(eb, s, key, mu.seed, checkOptions) != true {
			continue
		}

		faults := mirrorStampFaults(s, mu.seed, eb.RaidGroupOffset, false)
		if faults&stampFaultTimeStamp != 0 {
			eb.UTsBitmap |= key
		}

		if faults&stampFaultWriteStamp != 0 {
			eb.UWsBitmap |= key
		}

		if faults != 0 {
			e.trace(eb, s, key, mu.seed, 0, TraceSeverityError, fmt.Sprintf("illegal mirror stamps: TS=(0x%04x) WS=(0x%04x)", s.TimeStamp(), s.WriteStamp()))
			continue
		}

		good = append(good, i)
	}

	if len(good) == 0 {
		if len(invalidated) > 0 {
			return invalidated[0], invalidated
		}

		return InvalidPosition, good
	}

	primary = good[0]
	if mu.rawMirror == true {
		primary = e.arbitrateRawMirror(eb, mu.sectors, mu.keys, good, mu.seed)
		if primary == InvalidPosition {
			return InvalidPosition, good
		}
	}

	for _, i := range invalidated {
		key := mu.keys[i]
		eb.CCohBitmap |= key

		e.trace(eb, mu.sectors[i], key, mu.seed, 0, TraceSeverityWarning, fmt.Sprintf("invalidated copy disagrees with primary position (%d)", primary))
	}

	return primary, good
}

// equateMirrorPair compares a position against the primary. Both are known to
// be good, so a difference is a coherency error and the primary's content is
// taken as the truth.
func (e *Engine) equateMirrorPair(eb *ErrorBoard, mu *mirrorUnit, primary, other int) {
	if mu.sectors[primary].Equals(mu.sectors[other]) == true {
		return
	}

	key := mu.keys[other]
	eb.CCohBitmap |= key

	e.trace(eb, mu.sectors[other], key, mu.seed, 0, TraceSeverityError, fmt.Sprintf("mirror coherency error against primary position (%d)", primary))
}

// verifyMirrorUnit selects a primary, compares the other positions against it
// and rewrites every position that needs it. With no usable primary the
// affected positions are invalidated instead.
func (e *Engine) verifyMirrorUnit(eb *ErrorBoard, mu *mirrorUnit) {
	primary, good := e.selectPrimary(eb, mu)

	e.determineMediaErrors(eb, eb.HardMediaErrBitmap)

	if primary == InvalidPosition {
		lost := mu.needsRebuildBitmap | eb.UCrcBitmap | eb.UTsBitmap | eb.UWsBitmap | eb.URmMagicBitmap

		for i, s := range mu.sectors {
			key := mu.keys[i]
			if lost.Overlaps(key) != true {
				continue
			}

			if mu.needsRebuildBitmap.Overlaps(key) == true {
				e.invalidateSector(eb, s, key, mu.seed, InvalidReasonDataLost)
				continue
			}

			reason := InvalidReasonRaidVerify
			if eb.unreadableBitmap().Overlaps(key) == true {
				reason = InvalidReasonDataLost
			}

			e.invalidateLost(eb, s, key, mu.seed, reason, mu.options)
		}

		mirrorLogger.Warningf(nil, "No mirror primary at (0x%x); invalidated %s.", mu.seed, lost)
		return
	}

	// Everything wrong with the other positions is fixed from the primary.
	eb.correct(eb.UncorrectableBitmap())

	stale := eb.CRmMagicBitmap | eb.CRmSeqBitmap
	for _, i := range good {
		if i == primary || stale.Overlaps(mu.keys[i]) == true {
			continue
		}

		e.equateMirrorPair(eb, mu, primary, i)
	}

	targets := mu.needsRebuildBitmap | eb.CorrectableBitmap()
	for i := range mu.sectors {
		if i == primary || targets.Overlaps(mu.keys[i]) != true {
			continue
		}

		e.rebuildR1Unit(eb, mu.sectors, mu.keys, primary, i, mu.seed, mu.options, false)
	}
}

// RebuildR1Unit copies the primary position over the target position. If
// (validatePrimary) is set the primary is checked first, which is only
// supported for two-way mirrors; a primary that fails causes both positions
// to be invalidated.
func (e *Engine) RebuildR1Unit(eb *ErrorBoard, sectors []Sector, keys []PositionMask, primary, target int, seed uint64, options Option, validatePrimary bool) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = recoveredError(errRaw)
		}
	}()

	if eb == nil {
		requestf("mirror rebuild has no error board")
	} else if len(sectors) != len(keys) {
		requestf("mirror rebuild has (%d) sectors and (%d) keys", len(sectors), len(keys))
	} else if primary < 0 || primary >= len(sectors) || target < 0 || target >= len(sectors) {
		requestf("mirror rebuild positions out of range: primary (%d) target (%d)", primary, target)
	} else if primary == target {
		requestf("mirror rebuild primary and target are the same: (%d)", primary)
	} else if validatePrimary == true && len(sectors) != 2 {
		requestf("mirror rebuild can only validate the primary of a two-way mirror: (%d)", len(sectors))
	}

	validateKeys(keys)

	e.rebuildR1Unit(eb, sectors, keys, primary, target, seed, options, validatePrimary)
	return nil
}

func (e *Engine) rebuildR1Unit(eb *ErrorBoard, sectors []Sector, keys []PositionMask, primary, target int, seed uint64, options Option, validatePrimary bool) {
	primaryKey := keys[primary]
	targetKey := keys[target]

	if validatePrimary == true {
		s := sectors[primary]

		isGood := e.checkSector(eb, s, primaryKey, seed, options)
		if isGood == true && mirrorStampFaults(s, seed, eb.RaidGroupOffset, false) != 0 {
			eb.UTsBitmap |= primaryKey
			isGood = false
		}

		if isGood != true {
			eb.UCrcBitmap |= targetKey

			e.invalidateLost(eb, s, primaryKey, seed, InvalidReasonRaidVerify, options)
			e.invalidateSector(eb, sectors[target], targetKey, seed, InvalidReasonDataLost)

			mirrorLogger.Warningf(nil, "Mirror primary (%d) failed validation at (0x%x).", primary, seed)
			return
		}
	}

	sectors[target].CopyFrom(sectors[primary])

	eb.correct(targetKey)
	eb.markModified(targetKey)
}
