package raidxor

import (
	"math/rand"
	"sync"

	"github.com/dsoprea/go-logging"
)

const (
	testRaidGroupObjectID = uint32(0x10)
	testRaidGroupOffset   = uint64(0x2000)

	testTimeStamp = uint16(0x1234)
)

// recordingSink keeps every entry it is given.
type recordingSink struct {
	mu      sync.Mutex
	entries []TraceEntry
}

func (rs *recordingSink) Trace(te TraceEntry) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.entries = append(rs.entries, te)
}

func (rs *recordingSink) Entries() []TraceEntry {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	return append([]TraceEntry{}, rs.entries...)
}

func newTestEngine() *Engine {
	config := EngineConfig{
		PanicOnInvariant: true,
		TraceHistorySize: 256,
	}

	return NewEngine(config)
}

func newTestEngineWithSink() (*Engine, *recordingSink) {
	rs := new(recordingSink)

	config := EngineConfig{
		PanicOnInvariant: true,
		TraceSink:        rs,
	}

	return NewEngine(config), rs
}

func newTestBoard() *ErrorBoard {
	return NewErrorBoard(testRaidGroupObjectID, testRaidGroupOffset)
}

func newTestSector() Sector {
	return make(Sector, BlockSize)
}

// fillDataSector writes a payload that is unique to (position) and (lba),
// with a good checksum and lba-stamp.
func fillDataSector(s Sector, position int, lba uint64, timeStamp uint16) {
	r := rand.New(rand.NewSource(int64(lba)*131 + int64(position) + 1))

	_, err := r.Read(s[:DataBytesPerBlock])
	log.PanicIf(err)

	SetChecksum(s)
	s.SetStamps(timeStamp, 0, LbaStamp(lba, testRaidGroupOffset))
}

// fillGarbage writes content that is not a valid sector.
func fillGarbage(s Sector, salt int64) {
	r := rand.New(rand.NewSource(salt))

	_, err := r.Read(s[:BlockSize])
	log.PanicIf(err)
}

// testStrip is the memory of a strip: one region per position, each holding
// (count) blocks.
type testStrip struct {
	width   int
	count   int
	seed    uint64
	regions [][]byte
	keys    []PositionMask
}

func newTestStrip(width, count int, seed uint64) *testStrip {
	ts := &testStrip{
		width:   width,
		count:   count,
		seed:    seed,
		regions: make([][]byte, width),
		keys:    make([]PositionMask, width),
	}

	for i := 0; i < width; i++ {
		ts.regions[i] = make([]byte, count*BlockSize)
		ts.keys[i] = MaskOf(i)
	}

	return ts
}

func (ts *testStrip) sector(position, block int) Sector {
	return Sector(ts.regions[position][block*BlockSize : (block+1)*BlockSize])
}

func (ts *testStrip) cursors() []*SectorCursor {
	cursors := make([]*SectorCursor, ts.width)
	for i, region := range ts.regions {
		sc, err := NewSectorCursor(region)
		log.PanicIf(err)

		cursors[i] = sc
	}

	return cursors
}

// fillData writes independent data to the given positions.
func (ts *testStrip) fillData(timeStamp uint16, positions ...int) {
	for _, i := range positions {
		for block := 0; block < ts.count; block++ {
			fillDataSector(ts.sector(i, block), i, ts.seed+uint64(block), timeStamp)
		}
	}
}

// fillMirror writes the same data to every position.
func (ts *testStrip) fillMirror() {
	ts.fillData(0, 0)

	for i := 1; i < ts.width; i++ {
		copy(ts.regions[i], ts.regions[0])
	}
}

func (ts *testStrip) snapshot() [][]byte {
	snapshot := make([][]byte, ts.width)
	for i, region := range ts.regions {
		snapshot[i] = append([]byte{}, region...)
	}

	return snapshot
}

func (ts *testStrip) allPositions() []int {
	positions := make([]int, ts.width)
	for i := range positions {
		positions[i] = i
	}

	return positions
}

// newParityStrip builds a strip whose data positions were written with a
// full-strip write, so the parity is consistent.
func newParityStrip(e *Engine, width, count int, seed uint64, parityPositions ...int) *testStrip {
	ts := newTestStrip(width, count, seed)

	isParity := make(map[int]bool)
	for _, p := range parityPositions {
		isParity[p] = true
	}

	for i := 0; i < width; i++ {
		if isParity[i] == false {
			ts.fillData(0, i)
		}
	}

	mr := &MR3Request{
		Width:           width,
		Cursors:         ts.cursors(),
		Keys:            ts.keys,
		ParityPositions: parityPositions,
		Seed:            seed,
		Count:           count,
		TimeStamp:       testTimeStamp,
		ErrorBoard:      newTestBoard(),
	}

	status, err := e.WriteMR3(mr)
	log.PanicIf(err)

	if status != StatusNoError {
		log.Panicf("strip could not be written: [%s]", status)
	}

	return ts
}

func (ts *testStrip) parityRequest(parityPositions, rebuildPositions []int, options Option) *ParityRequest {
	return &ParityRequest{
		Width:            ts.width,
		Cursors:          ts.cursors(),
		Keys:             ts.keys,
		ParityPositions:  parityPositions,
		RebuildPositions: rebuildPositions,
		Seed:             ts.seed,
		Count:            ts.count,
		Options:          options,
		ErrorBoard:       newTestBoard(),
		ErrorRegions:     NewErrorRegions(16),
	}
}

func (ts *testStrip) mirrorRequest(options Option) *MirrorRequest {
	return &MirrorRequest{
		Width:        ts.width,
		Cursors:      ts.cursors(),
		Keys:         ts.keys,
		Seed:         ts.seed,
		Count:        ts.count,
		Options:      options,
		ErrorBoard:   newTestBoard(),
		ErrorRegions: NewErrorRegions(16),
	}
}

// newWriteData returns (blocks) sectors of new data for lbas starting at
// (lba). The payload differs from what fillData writes.
func newWriteData(lba uint64, blocks int, salt int64) []byte {
	region := make([]byte, blocks*BlockSize)

	for block := 0; block < blocks; block++ {
		s := Sector(region[block*BlockSize : (block+1)*BlockSize])

		fillGarbage(s, salt+int64(block))
		SetChecksum(s)
		s.SetStamps(0, 0, LbaStamp(lba+uint64(block), testRaidGroupOffset))
	}

	return region
}

func newCursor(regions ...[]byte) *SectorCursor {
	sc, err := NewSectorCursor(regions...)
	log.PanicIf(err)

	return sc
}

// blocks returns the given blocks of one position of the strip.
func (ts *testStrip) blocks(position, first, count int) []byte {
	return ts.regions[position][first*BlockSize : (first+count)*BlockSize]
}
