package raidxor

import (
	"fmt"
)

// columns returns the data payloads in column order.
func (pl *parityLayout) columns(sectors []Sector) [][]byte {
	columns := make([][]byte, len(pl.data))
	for j, i := range pl.data {
		columns[j] = sectors[i][:DataBytesPerBlock]
	}

	return columns
}

// checksumParity returns the parity-of-checksums that RAID-6 keeps in the
// lba-stamps of its two parities. The diagonal form rotates each checksum by
// the data column.
func (pl *parityLayout) checksumParity(sectors []Sector) (row, diagonal uint16) {
	for j, i := range pl.data {
		crc := sectors[i].Crc()

		row ^= crc
		diagonal ^= rotl16(crc, j)
	}

	return row, diagonal
}

// checkR6Coherency compares both parities and their parity-of-checksums
// against the data. It returns the parity positions that disagree.
func (e *Engine) checkR6Coherency(eb *ErrorBoard, pl *parityLayout, sectors []Sector, seed uint64) (bad PositionMask) {
	expected := make(Sector, BlockSize)
	columns := pl.columns(sectors)

	rowPoc, diagPoc := pl.checksumParity(sectors)

	ps := sectors[pl.rowParity]
	rowKey := pl.keys[pl.rowParity]

	copy(expected, columns[0])
	for _, column := range columns[1:] {
		xorBytes(expected[:DataBytesPerBlock], column)
	}

	if expected.DataEquals(ps) != true {
		eb.UCohBitmap |= rowKey
		e.trace(eb, ps, rowKey, seed, 0, TraceSeverityError, "row parity does not match data")

		bad |= rowKey
	} else if ps.LbaStamp() != rowPoc {
		eb.USsBitmap |= rowKey
		e.trace(eb, ps, rowKey, seed, 0, TraceSeverityError, fmt.Sprintf("row parity-of-checksums is (0x%04x) but should be (0x%04x)", ps.LbaStamp(), rowPoc))

		bad |= rowKey
	}

	qs := sectors[pl.diagParity]
	diagKey := pl.keys[pl.diagParity]

	e.tables().encodeDiagonal(expected, columns)

	if expected.DataEquals(qs) != true {
		eb.UCohBitmap |= diagKey
		e.trace(eb, qs, diagKey, seed, 0, TraceSeverityError, "diagonal parity does not match data")

		bad |= diagKey
	} else if qs.LbaStamp() != diagPoc {
		eb.USsBitmap |= diagKey
		e.trace(eb, qs, diagKey, seed, 0, TraceSeverityError, fmt.Sprintf("diagonal parity-of-checksums is (0x%04x) but should be (0x%04x)", qs.LbaStamp(), diagPoc))

		bad |= diagKey
	}

	return bad
}

// EvalParityUnitR6 evaluates one block of a dual-parity strip. Up to two
// missing or bad positions are rebuilt.
func (e *Engine) EvalParityUnitR6(eb *ErrorBoard, pu *ParityUnit) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = recoveredError(errRaw)
		}
	}()

	pl := e.prepareParityUnit("raid-6 parity eval", eb, pu, 2)
	e.evalParityUnitR6(eb, pl, pu.Sectors, pu.Seed, pu.Options)

	return nil
}

func (e *Engine) evalParityUnitR6(eb *ErrorBoard, pl *parityLayout, sectors []Sector, seed uint64, options Option) {
	invalid := pl.invalidBitmap(eb)
	eb.UCrcBitmap |= invalid &^ pl.rebuildBitmap

	fatal := invalid

	for _, i := range pl.data {
		key := pl.keys[i]
		if invalid.Overlaps(key) == true {
			continue
		}

		if e.evalDataSector(eb, sectors[i], key, seed, options) != true {
			fatal |= key
		}
	}

	for _, p := range pl.parities() {
		key := pl.keys[p]
		if invalid.Overlaps(key) == true {
			continue
		}

		if e.evalParitySector(eb, pl, sectors[p], key, seed, options) != true {
			fatal |= key
		}
	}

	if fatal == 0 {
		fatal |= e.checkR6Coherency(eb, pl, sectors, seed)
	}

	switch count := fatal.Count(); {
	case count == 0:
		e.rebuildParityStamps(eb, pl, sectors, seed)

	case count <= 2:
		e.reconstructR6(eb, pl, sectors, fatal, seed, options)

	default:
		eb.UCrcBitmap |= invalid
		parityLogger.Warningf(nil, "Block at (0x%x) has (%d) fatal positions %s; it can not be rebuilt.", seed, count, fatal)
	}

	e.invalidateUncorrectable(eb, pl, sectors, seed, options)
	e.determineMediaErrors(eb, eb.HardMediaErrBitmap)
}

// reconstructR6 rebuilds at most two fatal positions.
func (e *Engine) reconstructR6(eb *ErrorBoard, pl *parityLayout, sectors []Sector, fatal PositionMask, seed uint64, options Option) {
	missingParity := fatal & pl.parityBitmap
	missingData := fatal & pl.dataBitmap

	if missingData == 0 {
		e.reconstructParity(eb, pl, sectors, missingParity)
		return
	}

	rowKey := pl.keys[pl.rowParity]

	reference := sectors[pl.rowParity]
	if missingParity.Overlaps(rowKey) == true {
		reference = sectors[pl.diagParity]
	}

	if e.rebuildDataStamps(eb, pl, sectors, missingData, reference, seed) != true {
		eb.UCrcBitmap |= missingData
		return
	}

	missing := make([]int, 0, 2)
	for j, i := range pl.data {
		if missingData.Overlaps(pl.keys[i]) == true {
			missing = append(missing, j)
		}
	}

	columns := pl.columns(sectors)
	tables := e.tables()

	if len(missing) == 2 {
		tables.recoverPair(columns, sectors[pl.rowParity], sectors[pl.diagParity], missing[0], missing[1])
	} else if missingParity.Overlaps(rowKey) == true {
		tables.recoverFromDiagonal(columns, sectors[pl.diagParity], missing[0])
	} else {
		recoverFromRow(columns, sectors[pl.rowParity], missing[0])
	}

	for _, j := range missing {
		i := pl.data[j]
		e.finishRebuiltData(eb, sectors[i], pl.keys[i], RawChecksum(sectors[i]), reference, seed, options)
	}

	if missingParity != 0 {
		e.reconstructParity(eb, pl, sectors, missingParity)
	}
}
