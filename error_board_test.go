package raidxor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorBoard_Correct(t *testing.T) {
	eb := newTestBoard()

	eb.UCrcBitmap = MaskOf(0) | MaskOf(1)
	eb.UTsBitmap = MaskOf(1)
	eb.URmMagicBitmap = MaskOf(2)

	assert.Equal(t, MaskOf(0)|MaskOf(1)|MaskOf(2), eb.UncorrectableBitmap())

	eb.correct(MaskOf(1) | MaskOf(2))

	assert.Equal(t, MaskOf(0), eb.UCrcBitmap)
	assert.Equal(t, MaskOf(1), eb.CCrcBitmap)
	assert.Equal(t, PositionMask(0), eb.UTsBitmap)
	assert.Equal(t, MaskOf(1), eb.CTsBitmap)
	assert.Equal(t, MaskOf(2), eb.CRmMagicBitmap)

	assert.Equal(t, MaskOf(1)|MaskOf(2), eb.CorrectableBitmap())
	assert.Equal(t, PositionMask(0), eb.correctedOverlap())

	eb.uncorrect(MaskOf(1))

	assert.Equal(t, MaskOf(0)|MaskOf(1), eb.UCrcBitmap)
	assert.Equal(t, PositionMask(0), eb.CCrcBitmap)
}

func TestErrorBoard_CorrectedOverlap(t *testing.T) {
	eb := newTestBoard()

	eb.UCohBitmap = MaskOf(3)
	eb.CCohBitmap = MaskOf(3)

	assert.Equal(t, MaskOf(3), eb.correctedOverlap())
}

func TestErrorBoard_Fold(t *testing.T) {
	eb := newTestBoard()
	eb.HardMediaErrBitmap = MaskOf(4)

	beb := eb.blockBoard()

	assert.Equal(t, MaskOf(4), beb.HardMediaErrBitmap)
	assert.Equal(t, testRaidGroupObjectID, beb.RaidGroupObjectID)
	assert.Equal(t, testRaidGroupOffset, beb.RaidGroupOffset)
	assert.False(t, beb.HasErrors())

	beb.UCrcBitmap = MaskOf(1)
	beb.CrcSingleBitmap = MaskOf(1)
	beb.markModified(MaskOf(2))

	eb.Fold(beb)

	assert.Equal(t, MaskOf(1), eb.UCrcBitmap)
	assert.Equal(t, MaskOf(1), eb.CrcSingleBitmap)
	assert.Equal(t, MaskOf(1), eb.ReasonBitmap())
	assert.Equal(t, MaskOf(2), eb.ModifiedBitmap)
	assert.Equal(t, MaskOf(2), eb.WriteBitmap)
	assert.True(t, eb.HasErrors())

	eb.Reset()

	assert.False(t, eb.HasErrors())
	assert.Equal(t, PositionMask(0), eb.WriteBitmap)
	assert.Equal(t, testRaidGroupObjectID, eb.RaidGroupObjectID)
}

func TestErrorBoard_UnreadableBitmap(t *testing.T) {
	eb := newTestBoard()

	eb.HardMediaErrBitmap = MaskOf(0)
	eb.RetryErrBitmap = MaskOf(1)
	eb.NoDataErrBitmap = MaskOf(5)

	assert.Equal(t, MaskOf(0)|MaskOf(1)|MaskOf(5), eb.unreadableBitmap())
}

func TestErrorBoard_Dump(t *testing.T) {
	eb := newTestBoard()
	eb.CCrcBitmap = MaskOf(2)

	eb.Dump()
}
