package raidxor

import (
	"testing"

	"github.com/dsoprea/go-logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStriperRequest(ts *testStrip, options Option) *StriperRequest {
	return &StriperRequest{
		Width:        ts.width,
		Cursors:      ts.cursors(),
		Keys:         ts.keys,
		Seed:         ts.seed,
		Count:        ts.count,
		Options:      options,
		ErrorBoard:   newTestBoard(),
		ErrorRegions: NewErrorRegions(8),
	}
}

func TestEngine_VerifyStriper_Clean(t *testing.T) {
	e := newTestEngine()

	ts := newTestStrip(3, 4, 0x100)
	ts.fillData(0, ts.allPositions()...)

	original := ts.snapshot()

	sr := newStriperRequest(ts, OptionCheckLbaStamp)

	err := e.VerifyStriper(sr)
	log.PanicIf(err)

	assert.False(t, sr.ErrorBoard.HasErrors())
	assert.Equal(t, PositionMask(0), sr.ErrorBoard.WriteBitmap)
	assert.Equal(t, 0, sr.ErrorRegions.Len())
	assert.Equal(t, original, ts.regions)
}

func TestEngine_VerifyStriper_BadChecksum(t *testing.T) {
	e := newTestEngine()

	ts := newTestStrip(2, 3, 0x100)
	ts.fillData(0, ts.allPositions()...)

	s := ts.sector(1, 2)
	s[17] ^= 0x08

	sr := newStriperRequest(ts, OptionLogicalRequest)

	err := e.VerifyStriper(sr)
	log.PanicIf(err)

	eb := sr.ErrorBoard

	assert.Equal(t, MaskOf(1), eb.UCrcBitmap)
	assert.Equal(t, MaskOf(1), eb.CrcUnknownBitmap)
	assert.Equal(t, MaskOf(1), eb.WriteBitmap)

	isi, ok := ReadInvalidSector(s)
	require.True(t, ok)

	assert.Equal(t, InvalidReasonRaidVerify, isi.Reason)
	assert.Equal(t, InvalidatedByRaid, isi.Who)
	assert.Equal(t, uint64(0x102), isi.Lba)

	regions := sr.ErrorRegions.Regions()
	require.Equal(t, 1, len(regions))

	assert.Equal(t, uint64(0x102), regions[0].Lba)
	assert.False(t, regions[0].Correctable)

	// Verifying again finds the invalidated sector and leaves it alone.
	sr = newStriperRequest(ts, OptionLogicalRequest|OptionAllowInvalids)

	err = e.VerifyStriper(sr)
	log.PanicIf(err)

	assert.False(t, sr.ErrorBoard.HasErrors())
	assert.Equal(t, PositionMask(0), sr.ErrorBoard.WriteBitmap)
}

func TestEngine_VerifyStriper_IllegalStamps(t *testing.T) {
	e := newTestEngine()

	ts := newTestStrip(2, 1, 0x100)
	ts.fillData(0, ts.allPositions()...)

	ts.sector(0, 0).SetTimeStamp(0x22)
	ts.sector(1, 0).SetWriteStamp(0x2)

	sr := newStriperRequest(ts, 0)

	err := e.VerifyStriper(sr)
	log.PanicIf(err)

	eb := sr.ErrorBoard

	assert.Equal(t, MaskOf(0), eb.CTsBitmap)
	assert.Equal(t, MaskOf(1), eb.CWsBitmap)
	assert.Equal(t, PositionMask(0), eb.UncorrectableBitmap())
	assert.Equal(t, MaskOf(0)|MaskOf(1), eb.WriteBitmap)

	assert.Equal(t, uint16(0), ts.sector(0, 0).TimeStamp())
	assert.Equal(t, uint16(0), ts.sector(1, 0).WriteStamp())
	assert.True(t, IsChecksumValid(ts.sector(0, 0)))
}

func TestEngine_VerifyStriper_MediaError(t *testing.T) {
	e := newTestEngine()

	ts := newTestStrip(2, 1, 0x100)
	ts.fillData(0, 0)

	sr := newStriperRequest(ts, 0)
	sr.ErrorBoard.HardMediaErrBitmap = MaskOf(1)

	err := e.VerifyStriper(sr)
	log.PanicIf(err)

	eb := sr.ErrorBoard

	assert.Equal(t, MaskOf(1), eb.UCrcBitmap)
	assert.Equal(t, MaskOf(1), eb.MediaErrBitmap)

	reason, isInvalidated := IsSectorInvalidated(ts.sector(1, 0), 0x100, true)
	assert.True(t, isInvalidated)
	assert.Equal(t, InvalidReasonDataLost, reason)
}

func TestEngine_VerifyStriper_MediaErrorWithStaleData(t *testing.T) {
	e := newTestEngine()

	ts := newTestStrip(2, 1, 0x100)
	ts.fillData(0, 0, 1)

	sr := newStriperRequest(ts, 0)
	sr.ErrorBoard.RetryErrBitmap = MaskOf(1)

	err := e.VerifyStriper(sr)
	log.PanicIf(err)

	eb := sr.ErrorBoard

	assert.Equal(t, MaskOf(1), eb.UCrcBitmap)
	assert.Equal(t, MaskOf(1), eb.WriteBitmap)
	assert.Equal(t, PositionMask(0), eb.CrcUnknownBitmap)

	reason, isInvalidated := IsSectorInvalidated(ts.sector(1, 0), 0x100, true)
	assert.True(t, isInvalidated)
	assert.Equal(t, InvalidReasonDataLost, reason)

	assert.True(t, IsChecksumValid(ts.sector(0, 0)))
}

func TestEngine_VerifyStriper_MediaErrorWithKlondike(t *testing.T) {
	e := newTestEngine()

	ts := newTestStrip(2, 1, 0x100)
	ts.fillData(0, 0)

	FillKlondikeSector(ts.sector(1, 0))

	sr := newStriperRequest(ts, 0)
	sr.ErrorBoard.HardMediaErrBitmap = MaskOf(1)

	err := e.VerifyStriper(sr)
	log.PanicIf(err)

	eb := sr.ErrorBoard

	assert.Equal(t, MaskOf(1), eb.MediaErrBitmap)
	assert.Equal(t, PositionMask(0), eb.CrcKlondikeBitmap)
	assert.True(t, IsProperlyInvalidated(ts.sector(1, 0), 0x100, true))
}

func TestEngine_VerifyStriper_LbaStamp(t *testing.T) {
	e := newTestEngine()

	ts := newTestStrip(1, 2, 0x100)
	ts.fillData(0, 0)

	ts.sector(0, 1).SetLbaStamp(0)

	sr := newStriperRequest(ts, OptionCheckLbaStamp)

	err := e.VerifyStriper(sr)
	log.PanicIf(err)

	assert.Equal(t, MaskOf(0), sr.ErrorBoard.UCrcBitmap)
	assert.Equal(t, MaskOf(0), sr.ErrorBoard.CrcLbaStampBitmap)

	assert.True(t, IsProperlyInvalidated(ts.sector(0, 1), 0x101, true))
}

func TestEngine_VerifyStriper_Debug(t *testing.T) {
	e := NewEngine(EngineConfig{})

	ts := newTestStrip(1, 1, 0)
	ts.fillData(0, 0)
	ts.sector(0, 0)[0] ^= 1

	err := e.VerifyStriper(newStriperRequest(ts, OptionDebug))
	assert.True(t, IsError(err, ErrInternalInvariant))
}

func TestEngine_VerifyStriper_InvalidRequest(t *testing.T) {
	e := newTestEngine()

	ts := newTestStrip(2, 2, 0)

	sr := newStriperRequest(ts, 0)
	sr.Count = 3

	err := e.VerifyStriper(sr)
	assert.True(t, IsError(err, ErrInvalidRequest))

	sr = newStriperRequest(ts, OptionGenerateCrc)

	err = e.VerifyStriper(sr)
	assert.True(t, IsError(err, ErrInvalidRequest))

	sr = newStriperRequest(ts, 0)
	sr.Keys = []PositionMask{MaskOf(0), MaskOf(0)}

	err = e.VerifyStriper(sr)
	assert.True(t, IsError(err, ErrInvalidRequest))

	sr = newStriperRequest(ts, 0)
	sr.ErrorBoard = nil

	err = e.VerifyStriper(sr)
	assert.True(t, IsError(err, ErrInvalidRequest))
}
