package raidxor

import (
	"fmt"

	"github.com/dsoprea/go-logging"
)

var (
	parityLogger = log.NewLogger("raidxor.parity")
)

const (
	r5MinWidth = 3
	r5MaxWidth = MaxPositions

	r6MinWidth = 4
	r6MaxWidth = MaxPositions
)

// ParityUnit is one block of a parity strip.
type ParityUnit struct {
	Sectors []Sector
	Keys    []PositionMask

	// ParityPositions holds the row parity and, for RAID-6, the diagonal
	// parity.
	ParityPositions []int

	// RebuildPositions holds the positions whose content is missing and must
	// be rebuilt from the others.
	RebuildPositions []int

	Seed    uint64
	Options Option
}

// parityLayout is the shape of a parity strip, resolved once per request.
type parityLayout struct {
	width int
	keys  []PositionMask

	rowParity  int
	diagParity int

	// data holds the data positions in column order.
	data []int

	all           PositionMask
	dataBitmap    PositionMask
	parityBitmap  PositionMask
	rebuildBitmap PositionMask
}

// newParityLayout validates the positions of a parity strip. (parities) is one
// for RAID-5 and two for RAID-6.
func newParityLayout(operation string, keys []PositionMask, parityPositions, rebuildPositions []int, parities int) *parityLayout {
	width := len(keys)

	minWidth, maxWidth := r5MinWidth, r5MaxWidth
	if parities == 2 {
		minWidth, maxWidth = r6MinWidth, r6MaxWidth
	}

	if width < minWidth || width > maxWidth {
		requestf("%s width (%d) is not in [%d, %d]", operation, width, minWidth, maxWidth)
	} else if len(parityPositions) != parities {
		requestf("%s needs (%d) parity positions but has (%d)", operation, parities, len(parityPositions))
	} else if len(rebuildPositions) > parities {
		requestf("%s can rebuild at most (%d) positions but was given (%d)", operation, parities, len(rebuildPositions))
	}

	pl := &parityLayout{
		width:      width,
		keys:       keys,
		diagParity: InvalidPosition,
		all:        validateKeys(keys),
	}

	for i, position := range parityPositions {
		if position < 0 || position >= width {
			requestf("%s parity position out of range: (%d)", operation, position)
		} else if pl.parityBitmap.Overlaps(keys[position]) == true {
			requestf("%s parity position given twice: (%d)", operation, position)
		}

		pl.parityBitmap |= keys[position]

		if i == 0 {
			pl.rowParity = position
		} else {
			pl.diagParity = position
		}
	}

	for _, position := range rebuildPositions {
		if position < 0 || position >= width {
			requestf("%s rebuild position out of range: (%d)", operation, position)
		} else if pl.rebuildBitmap.Overlaps(keys[position]) == true {
			requestf("%s rebuild position given twice: (%d)", operation, position)
		}

		pl.rebuildBitmap |= keys[position]
	}

	pl.dataBitmap = pl.all &^ pl.parityBitmap

	pl.data = make([]int, 0, width-parities)
	for i := range keys {
		if pl.parityBitmap.Overlaps(keys[i]) != true {
			pl.data = append(pl.data, i)
		}
	}

	return pl
}

// isR6 returns true if the strip has a diagonal parity.
func (pl *parityLayout) isR6() bool {
	return pl.diagParity != InvalidPosition
}

// parities returns the parity positions, row parity first.
func (pl *parityLayout) parities() []int {
	if pl.isR6() == true {
		return []int{pl.rowParity, pl.diagParity}
	}

	return []int{pl.rowParity}
}

// invalidBitmap returns the positions that are not read in this pass.
func (pl *parityLayout) invalidBitmap(eb *ErrorBoard) PositionMask {
	return (pl.rebuildBitmap | eb.unreadableBitmap()) & pl.all
}

// dataWriteStamps returns the union of the write-stamp bits that the data
// positions carry for themselves.
func (pl *parityLayout) dataWriteStamps(sectors []Sector) uint16 {
	ws := uint16(0)
	for _, i := range pl.data {
		ws |= sectors[i].WriteStamp() & uint16(pl.keys[i])
	}

	return ws
}

func (pl *parityLayout) String() string {
	return fmt.Sprintf("ParityLayout<WIDTH=(%d) ROW=(%d) DIAG=(%d) DATA=%s REBUILD=%s>", pl.width, pl.rowParity, pl.diagParity, pl.dataBitmap, pl.rebuildBitmap)
}

// dataStampFaults checks the stamps of a data sector on their own. A data
// sector may only carry its own write-stamp bit, and a sector with that bit
// set has no time-stamp.
func dataStampFaults(s Sector, key PositionMask) (faults stampFault) {
	ws := s.WriteStamp()
	ts := s.TimeStamp()

	if ws&^uint16(key) != 0 {
		faults |= stampFaultWriteStamp
	}

	if ts&TimeStampAll != 0 || (ws&uint16(key) != 0 && ts != TimeStampInvalid) {
		faults |= stampFaultTimeStamp
	}

	return faults
}

// parityStampFaults checks the stamps of a parity sector on their own.
func parityStampFaults(s Sector, dataBitmap PositionMask) (faults stampFault) {
	ws := s.WriteStamp()

	if ws&^uint16(dataBitmap) != 0 {
		faults |= stampFaultWriteStamp
	}

	if s.TimeStamp()&TimeStampAll != 0 && ws != 0 {
		faults |= stampFaultTimeStamp
	}

	return faults
}

// stampsAgree returns true if a data sector's stamps agree with what parity
// recorded for it.
func stampsAgree(s Sector, key PositionMask, parity Sector) bool {
	if s.WriteStamp()&uint16(key) != parity.WriteStamp()&uint16(key) {
		return false
	}

	if pts := parity.TimeStamp(); pts&TimeStampAll != 0 && s.TimeStamp() != pts&^TimeStampAll {
		return false
	}

	return true
}

// recordStampFaults sets the uncorrectable stamp bitmaps.
func recordStampFaults(eb *ErrorBoard, key PositionMask, faults stampFault) {
	if faults&stampFaultTimeStamp != 0 {
		eb.UTsBitmap |= key
	}

	if faults&stampFaultWriteStamp != 0 {
		eb.UWsBitmap |= key
	}
}

// evalDataSector checks one readable data sector. It returns false if the
// sector can not be used and must be rebuilt.
func (e *Engine) evalDataSector(eb *ErrorBoard, s Sector, key PositionMask, seed uint64, options Option) bool {
	if e.checkSector(eb, s, key, seed, options) != true {
		return false
	}

	if faults := dataStampFaults(s, key); faults != 0 {
		recordStampFaults(eb, key, faults)

		e.trace(eb, s, key, seed, 0, TraceSeverityError, fmt.Sprintf("illegal data stamps: TS=(0x%04x) WS=(0x%04x)", s.TimeStamp(), s.WriteStamp()))
		return false
	}

	return true
}

// evalParitySector checks one readable parity sector. The lba-stamp of a
// RAID-5 parity holds the shed stamp, which must be zero.
func (e *Engine) evalParitySector(eb *ErrorBoard, pl *parityLayout, s Sector, key PositionMask, seed uint64, options Option) bool {
	crcRead := s.Crc()
	crcCalc := CalculateChecksum(s)

	if crcRead != crcCalc {
		eb.UCrcBitmap |= key
		e.classifyChecksumError(eb, s, key, seed, crcRead, crcCalc, options.checkLbaForInvalidated(), options)

		return false
	}

	if pl.isR6() != true {
		if shed := s.LbaStamp(); shed != 0 {
			if pl.rebuildBitmap != 0 && shed == uint16(pl.rebuildBitmap) {
				log.Panic(fmt.Errorf("%w: parity at (0x%x) holds shed data for %s", ErrUnsupportedLegacyShed, seed, pl.rebuildBitmap))
			}

			eb.USsBitmap |= key

			e.trace(eb, s, key, seed, 0, TraceSeverityError, fmt.Sprintf("parity shed stamp is set: (0x%04x)", shed))
			return false
		}
	}

	if faults := parityStampFaults(s, pl.dataBitmap); faults != 0 {
		recordStampFaults(eb, key, faults)

		e.trace(eb, s, key, seed, 0, TraceSeverityError, fmt.Sprintf("illegal parity stamps: TS=(0x%04x) WS=(0x%04x)", s.TimeStamp(), s.WriteStamp()))
		return false
	}

	return true
}

// rebuildParityStamps makes the parity stamps agree with the data when every
// position is good. The data is taken as the truth since its content matched
// parity.
func (e *Engine) rebuildParityStamps(eb *ErrorBoard, pl *parityLayout, sectors []Sector, seed uint64) {
	dataWs := pl.dataWriteStamps(sectors)

	commonTs := sectors[pl.data[0]].TimeStamp()
	for _, i := range pl.data[1:] {
		if sectors[i].TimeStamp() != commonTs {
			commonTs = TimeStampInvalid
			break
		}
	}

	for _, p := range pl.parities() {
		ps := sectors[p]
		key := pl.keys[p]

		fixed := false

		if ps.WriteStamp() != dataWs {
			eb.UWsBitmap |= key
			ps.SetWriteStamp(dataWs)

			fixed = true
		}

		if ts := ps.TimeStamp(); ts&TimeStampAll != 0 && (dataWs != 0 || ts&^TimeStampAll != commonTs) {
			eb.UTsBitmap |= key
			ps.SetTimeStamp(TimeStampInvalid)

			fixed = true
		}

		if fixed == true {
			e.trace(eb, ps, key, seed, 0, TraceSeverityWarning, "parity stamps rebuilt from data")

			eb.correct(key)
			eb.markModified(key)
		}
	}
}

// rebuildDataStamps returns true if every readable data position other than
// the ones being rebuilt agrees with (parity). Only then can parity be
// trusted to rebuild the missing positions.
func (e *Engine) rebuildDataStamps(eb *ErrorBoard, pl *parityLayout, sectors []Sector, missing PositionMask, parity Sector, seed uint64) bool {
	for _, i := range pl.data {
		key := pl.keys[i]
		if missing.Overlaps(key) == true {
			continue
		}

		if stampsAgree(sectors[i], key, parity) != true {
			e.trace(eb, sectors[i], key, seed, 0, TraceSeverityError, fmt.Sprintf("data stamps disagree with parity: TS=(0x%04x) WS=(0x%04x) PARITY-TS=(0x%04x) PARITY-WS=(0x%04x)", sectors[i].TimeStamp(), sectors[i].WriteStamp(), parity.TimeStamp(), parity.WriteStamp()))
			return false
		}
	}

	return true
}

// finishRebuiltData sets the checksum and stamps of a data sector whose
// payload was just rebuilt. (raw) is the raw checksum of the new payload. A
// rebuilt payload that is an invalidated sector is invalidated again so that
// it is never returned as good data.
func (e *Engine) finishRebuiltData(eb *ErrorBoard, s Sector, key PositionMask, raw uint32, parity Sector, seed uint64, options Option) {
	ws := parity.WriteStamp() & uint16(key)

	ts := TimeStampInvalid
	if pts := parity.TimeStamp(); pts&TimeStampAll != 0 {
		ts = pts &^ TimeStampAll
	}

	if _, isInvalidated := IsSectorInvalidated(s, seed, options.checkLbaForInvalidated()); isInvalidated == true {
		s.SetStamps(TimeStampInvalid, ws, 0)
		RebuildInvalidatedSector(s)

		e.classifyChecksumError(eb, s, key, seed, s.Crc(), CookChecksum(raw), options.checkLbaForInvalidated(), 0)
	} else {
		s.SetCrc(CookChecksum(raw))
		s.SetStamps(ts, ws, LbaStamp(seed, eb.RaidGroupOffset))
	}

	eb.correct(key)
	eb.markModified(key)
}

// reconstructParity recalculates the given parity positions from every data
// position. The time-stamp is unknown afterwards.
func (e *Engine) reconstructParity(eb *ErrorBoard, pl *parityLayout, sectors []Sector, which PositionMask) {
	dataWs := pl.dataWriteStamps(sectors)

	if which.Overlaps(pl.keys[pl.rowParity]) == true {
		ps := sectors[pl.rowParity]
		key := pl.keys[pl.rowParity]

		raw := uint32(0)
		for n, i := range pl.data {
			if n == 0 {
				ps.CopyDataFrom(sectors[i])
			} else {
				ps.XorDataFrom(sectors[i])
			}

			raw ^= RawChecksum(sectors[i])
		}

		ps.SetCrc(CookChecksum(raw))

		lbaStamp := uint16(0)
		if pl.isR6() == true {
			lbaStamp, _ = pl.checksumParity(sectors)
		}

		ps.SetStamps(TimeStampInvalid, dataWs, lbaStamp)

		eb.correct(key)
		eb.markModified(key)
	}

	if pl.isR6() == true && which.Overlaps(pl.keys[pl.diagParity]) == true {
		qs := sectors[pl.diagParity]
		key := pl.keys[pl.diagParity]

		e.tables().encodeDiagonal(qs, pl.columns(sectors))
		SetChecksum(qs)

		_, diagPoc := pl.checksumParity(sectors)
		qs.SetStamps(TimeStampInvalid, dataWs, diagPoc)

		eb.correct(key)
		eb.markModified(key)
	}
}

// invalidateUncorrectable invalidates every data position that is still
// uncorrectable and then recalculates parity if anything changed, so stale
// data never comes back.
func (e *Engine) invalidateUncorrectable(eb *ErrorBoard, pl *parityLayout, sectors []Sector, seed uint64, options Option) {
	bad := eb.UCrcBitmap | eb.UCohBitmap | eb.USsBitmap | eb.UTsBitmap | eb.UWsBitmap
	lost := pl.rebuildBitmap | eb.unreadableBitmap()

	changed := false
	for _, i := range pl.data {
		key := pl.keys[i]
		if bad.Overlaps(key) != true {
			continue
		}

		s := sectors[i]

		if lost.Overlaps(key) == true {
			e.invalidateSector(eb, s, key, seed, InvalidReasonDataLost)
			changed = true
		} else if IsProperlyInvalidated(s, seed, options.checkLbaForInvalidated()) != true {
			e.invalidateSector(eb, s, key, seed, InvalidReasonRaidVerify)
			changed = true
		}
	}

	parityBad := bad & pl.parityBitmap
	if changed == true {
		parityBad = pl.parityBitmap
	}

	if parityBad != 0 {
		e.reconstructParity(eb, pl, sectors, parityBad)
	}
}

// EvalParityUnit evaluates one block of a single-parity strip: it checks every
// position, repairs what one parity can repair and invalidates the rest.
func (e *Engine) EvalParityUnit(eb *ErrorBoard, pu *ParityUnit) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = recoveredError(errRaw)
		}
	}()

	pl := e.prepareParityUnit("parity eval", eb, pu, 1)
	e.evalParityUnit(eb, pl, pu.Sectors, pu.Seed, pu.Options)

	return nil
}

// prepareParityUnit validates a single-block evaluation.
func (e *Engine) prepareParityUnit(operation string, eb *ErrorBoard, pu *ParityUnit, parities int) *parityLayout {
	if eb == nil {
		requestf("%s has no error board", operation)
	} else if len(pu.Sectors) != len(pu.Keys) {
		requestf("%s has (%d) sectors and (%d) keys", operation, len(pu.Sectors), len(pu.Keys))
	}

	for i, s := range pu.Sectors {
		if len(s) < BlockSize {
			requestf("%s position (%d) sector is too short: (%d)", operation, i, len(s))
		}
	}

	validateOptions(operation, pu.Options, parityOptions)

	return newParityLayout(operation, pu.Keys, pu.ParityPositions, pu.RebuildPositions, parities)
}

func (e *Engine) evalParityUnit(eb *ErrorBoard, pl *parityLayout, sectors []Sector, seed uint64, options Option) {
	parity := pl.rowParity
	parityKey := pl.keys[parity]
	ps := sectors[parity]

	invalid := pl.invalidBitmap(eb)

	// Unreadable positions we were not asked to rebuild are errors.
	eb.UCrcBitmap |= invalid &^ pl.rebuildBitmap

	sc := newScratch(seed, options)

	for _, i := range pl.data {
		key := pl.keys[i]

		if invalid.Overlaps(key) == true || e.evalDataSector(eb, sectors[i], key, seed, options) != true {
			sc.markFatal(i, key)
			continue
		}

		sc.accumulate(sectors[i])
	}

	if invalid.Overlaps(parityKey) == true || e.evalParitySector(eb, pl, ps, parityKey, seed, options) != true {
		sc.markFatal(parity, parityKey)
	} else if sc.fatalCount == 0 && sc.sector.DataEquals(ps) != true {
		eb.UCohBitmap |= parityKey
		e.trace(eb, ps, parityKey, seed, 0, TraceSeverityError, "parity does not match data")

		sc.markFatal(parity, parityKey)
	}

	switch {
	case sc.fatalCount == 0:
		e.rebuildParityStamps(eb, pl, sectors, seed)

	case sc.fatalCount == 1 && sc.fatalPosition == parity:
		e.reconstructParity(eb, pl, sectors, parityKey)

	case sc.fatalCount == 1:
		target := sectors[sc.fatalPosition]

		if e.rebuildDataStamps(eb, pl, sectors, sc.fatalKey, ps, seed) != true {
			eb.UCrcBitmap |= sc.fatalKey
			break
		}

		raw := sc.rebuildInto(target, ps)
		e.finishRebuiltData(eb, target, sc.fatalKey, raw, ps, seed, options)

	default:
		eb.UCrcBitmap |= invalid
		parityLogger.Warningf(nil, "Block at (0x%x) has (%d) fatal positions %s; it can not be rebuilt.", seed, sc.fatalCount, sc.fatalBitmap)
	}

	e.invalidateUncorrectable(eb, pl, sectors, seed, options)
	e.determineMediaErrors(eb, eb.HardMediaErrBitmap)
}
