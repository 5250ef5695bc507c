package raidxor

import (
	"testing"

	"github.com/dsoprea/go-logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorRegions_Add_Merge(t *testing.T) {
	ers := NewErrorRegions(4)

	assert.True(t, ers.Add(10, MaskOf(1), ErrorTypeCrc, false))
	assert.True(t, ers.Add(11, MaskOf(1), ErrorTypeCrc, false))
	assert.True(t, ers.Add(12, MaskOf(1), ErrorTypeCrc, false))

	// Not contiguous.
	assert.True(t, ers.Add(14, MaskOf(1), ErrorTypeCrc, false))

	// Different correctability.
	assert.True(t, ers.Add(15, MaskOf(1), ErrorTypeCrc, true))

	// Nothing to record.
	assert.True(t, ers.Add(16, 0, ErrorTypeCrc, true))

	regions := ers.Regions()
	require.Equal(t, 3, len(regions))

	expected := ErrorRegion{
		Lba:       10,
		Blocks:    3,
		Bitmap:    MaskOf(1),
		ErrorType: ErrorTypeCrc,
	}

	if regions[0] != expected {
		t.Fatalf("First region not correct: %s", regions[0])
	}

	assert.Equal(t, uint64(14), regions[1].Lba)
	assert.True(t, regions[2].Correctable)
}

func TestErrorRegions_Overflow(t *testing.T) {
	ers := NewErrorRegions(2)

	assert.True(t, ers.Add(0, MaskOf(0), ErrorTypeCrc, false))
	assert.True(t, ers.Add(0, MaskOf(1), ErrorTypeCrc, false))
	assert.False(t, ers.Add(0, MaskOf(2), ErrorTypeCrc, false))

	assert.True(t, ers.Overflowed)
	assert.Equal(t, 2, ers.Len())

	// Extending the last region still works.
	assert.True(t, ers.Add(1, MaskOf(1), ErrorTypeCrc, false))
}

func TestErrorRegions_Rewind(t *testing.T) {
	ers := NewErrorRegions(8)

	ers.Add(0, MaskOf(0), ErrorTypeCrc, false)
	index := ers.Index()

	ers.Add(5, MaskOf(1), ErrorTypeCoherency, true)
	ers.Add(9, MaskOf(2), ErrorTypeTimeStamp, true)

	err := ers.Rewind(index)
	log.PanicIf(err)

	assert.Equal(t, 1, ers.Len())

	err = ers.Rewind(5)
	assert.Error(t, err)
}

func TestErrorRegions_RecordBlock(t *testing.T) {
	eb := newTestBoard()

	eb.CCrcBitmap = MaskOf(0) | MaskOf(1) | MaskOf(2)
	eb.CrcSingleBitmap = MaskOf(0)
	eb.CrcRaidBitmap = MaskOf(1)
	eb.MediaErrBitmap = MaskOf(2)
	eb.UCohBitmap = MaskOf(3)
	eb.CRmSeqBitmap = MaskOf(4)

	ers := NewErrorRegions(16)
	ers.recordBlock(eb, 0x40)

	found := make(map[ErrorType]ErrorRegion)
	for _, er := range ers.Regions() {
		found[er.ErrorType] = er
	}

	assert.Equal(t, 5, len(found))

	assert.Equal(t, MaskOf(0), found[ErrorTypeSingleBitCrc].Bitmap)
	assert.Equal(t, MaskOf(1), found[ErrorTypeInvalidated].Bitmap)
	assert.Equal(t, MaskOf(2), found[ErrorTypeMediaError].Bitmap)

	assert.Equal(t, MaskOf(3), found[ErrorTypeCoherency].Bitmap)
	assert.False(t, found[ErrorTypeCoherency].Correctable)

	assert.Equal(t, MaskOf(4), found[ErrorTypeRawMirrorSequence].Bitmap)
	assert.True(t, found[ErrorTypeRawMirrorSequence].Correctable)
}

func TestErrorRegions_Dump(t *testing.T) {
	ers := NewErrorRegions(2)
	ers.Add(0, MaskOf(0), ErrorTypeKlondike, false)

	ers.Dump()
}
