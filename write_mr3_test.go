package raidxor

import (
	"testing"

	"github.com/dsoprea/go-logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMR3Request(ts *testStrip, parityPositions []int, options Option) *MR3Request {
	return &MR3Request{
		Width:           ts.width,
		Cursors:         ts.cursors(),
		Keys:            ts.keys,
		ParityPositions: parityPositions,
		Seed:            ts.seed,
		Count:           ts.count,
		TimeStamp:       testTimeStamp,
		Options:         options,
		ErrorBoard:      newTestBoard(),
	}
}

func TestEngine_WriteMR3_R5(t *testing.T) {
	e := newTestEngine()

	ts := newTestStrip(5, 3, 0x300)
	ts.fillData(0, 0, 1, 2, 3)

	mr := newMR3Request(ts, r5Parity, OptionCheckCrc|OptionCheckLbaStamp)

	status, err := e.WriteMR3(mr)
	log.PanicIf(err)

	if status != StatusNoError {
		t.Fatalf("Write status not correct: [%s]", status)
	}

	assert.Equal(t, MaskOf(0)|MaskOf(1)|MaskOf(2)|MaskOf(3)|MaskOf(4), mr.ErrorBoard.WriteBitmap)

	for block := 0; block < ts.count; block++ {
		ps := ts.sector(4, block)

		assert.True(t, IsChecksumValid(ps))
		assert.Equal(t, testTimeStamp|TimeStampAll, ps.TimeStamp())
		assert.Equal(t, uint16(0), ps.WriteStamp())
		assert.Equal(t, uint16(0), ps.LbaStamp())

		assert.Equal(t, testTimeStamp, ts.sector(2, block).TimeStamp())
	}

	pr := ts.parityRequest(r5Parity, nil, OptionCheckLbaStamp)

	err = e.VerifyParity(pr)
	log.PanicIf(err)

	assert.False(t, pr.ErrorBoard.HasErrors())
}

func TestEngine_WriteMR3_R6(t *testing.T) {
	e := newTestEngine()

	ts := newTestStrip(7, 2, 0x310)
	ts.fillData(0, 1, 2, 3, 5, 6)

	mr := newMR3Request(ts, []int{0, 4}, 0)

	status, err := e.WriteMR3(mr)
	log.PanicIf(err)

	require.Equal(t, StatusNoError, status)

	pr := ts.parityRequest([]int{0, 4}, nil, OptionCheckLbaStamp)

	err = e.VerifyParity(pr)
	log.PanicIf(err)

	assert.False(t, pr.ErrorBoard.HasErrors())
}

func TestEngine_WriteMR3_GenerateLbaStamp(t *testing.T) {
	e := newTestEngine()

	ts := newTestStrip(4, 2, 0x320)
	ts.fillData(0, 0, 1, 2)

	for block := 0; block < ts.count; block++ {
		ts.sector(1, block).SetLbaStamp(0)
	}

	mr := newMR3Request(ts, []int{3}, OptionGenerateLbaStamp)

	status, err := e.WriteMR3(mr)
	log.PanicIf(err)

	require.Equal(t, StatusNoError, status)

	for block := 0; block < ts.count; block++ {
		assert.True(t, IsValidLbaStamp(ts.sector(1, block), ts.seed+uint64(block), testRaidGroupOffset))
	}
}

func TestEngine_WriteMR3_BadMemory(t *testing.T) {
	e := newTestEngine()

	ts := newTestStrip(4, 2, 0x330)
	ts.fillData(0, 0, 1, 2)

	ts.sector(1, 1)[40] ^= 0x10

	mr := newMR3Request(ts, []int{3}, OptionCheckCrc)

	status, err := e.WriteMR3(mr)
	log.PanicIf(err)

	assert.True(t, status.Has(StatusBadMemory))
	assert.Equal(t, MaskOf(1), mr.ErrorBoard.UCrcBitmap)
}

func TestEngine_WriteMR3_InvalidatedData(t *testing.T) {
	e := newTestEngine()

	ts := newTestStrip(4, 1, 0x340)
	ts.fillData(0, 0, 1, 2)

	err := FillInvalidSector(ts.sector(2, 0), ts.seed, InvalidReasonCorruptData, InvalidatedByClient)
	log.PanicIf(err)

	mr := newMR3Request(ts, []int{3}, OptionCheckCrc|OptionLogicalRequest)

	status, err := e.WriteMR3(mr)
	log.PanicIf(err)

	assert.Equal(t, StatusNoError, status)
	assert.Equal(t, PositionMask(0), mr.ErrorBoard.UncorrectableBitmap())
	assert.Equal(t, MaskOf(2), mr.ErrorBoard.CorruptDataBitmap)

	pr := ts.parityRequest([]int{3}, nil, OptionAllowInvalids|OptionLogicalRequest)

	err = e.VerifyParity(pr)
	log.PanicIf(err)

	assert.False(t, pr.ErrorBoard.HasErrors())
}

func TestEngine_WriteMR3_InvalidRequest(t *testing.T) {
	e := newTestEngine()

	ts := newTestStrip(4, 1, 0x350)
	ts.fillData(0, 0, 1, 2)

	mr := newMR3Request(ts, []int{3}, 0)
	mr.TimeStamp = TimeStampInitial

	_, err := e.WriteMR3(mr)
	assert.True(t, IsError(err, ErrInvalidRequest))

	mr = newMR3Request(ts, []int{3}, OptionAllowInvalids)

	_, err = e.WriteMR3(mr)
	assert.True(t, IsError(err, ErrInvalidRequest))

	mr = newMR3Request(ts, []int{1, 2, 3}, 0)

	_, err = e.WriteMR3(mr)
	assert.True(t, IsError(err, ErrInvalidRequest))

	mr = newMR3Request(ts, nil, 0)

	_, err = e.WriteMR3(mr)
	assert.True(t, IsError(err, ErrInvalidRequest))
}
