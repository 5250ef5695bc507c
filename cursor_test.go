package raidxor

import (
	"testing"

	"github.com/dsoprea/go-logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSectorCursor_BadRegion(t *testing.T) {
	_, err := NewSectorCursor(make([]byte, BlockSize+1))
	assert.Error(t, err)
}

func TestSectorCursor_Advance(t *testing.T) {
	a := make([]byte, 2*BlockSize)
	b := make([]byte, 0)
	c := make([]byte, 3*BlockSize)

	a[BlockSize] = 0xaa
	c[2*BlockSize] = 0xcc

	sc, err := NewSectorCursor(a, b, c)
	log.PanicIf(err)

	assert.Equal(t, 5, sc.BlocksRemaining())
	assert.Equal(t, 2*BlockSize, sc.BytesRemaining())

	err = sc.Advance(1)
	log.PanicIf(err)

	require.NotNil(t, sc.Sector())
	assert.Equal(t, byte(0xaa), sc.Sector()[0])

	// Crosses the empty region.
	err = sc.Advance(3)
	log.PanicIf(err)

	assert.Equal(t, 1, sc.BlocksRemaining())
	assert.Equal(t, byte(0xcc), sc.Sector()[0])
	assert.False(t, sc.IsExhausted())

	err = sc.Advance(1)
	log.PanicIf(err)

	assert.True(t, sc.IsExhausted())
	assert.Nil(t, sc.Sector())

	err = sc.Advance(1)
	assert.Error(t, err)
}

func TestSectorCursor_SectorIsView(t *testing.T) {
	region := make([]byte, BlockSize)

	sc, err := NewSectorCursor(region)
	log.PanicIf(err)

	sc.Sector().SetCrc(0x1234)

	assert.Equal(t, uint16(0x1234), Sector(region).Crc())
	assert.Equal(t, BlockSize, cap(sc.Sector()))
}

func TestSectorCursor_Backwards(t *testing.T) {
	sc, err := NewSectorCursor(make([]byte, BlockSize))
	log.PanicIf(err)

	err = sc.Advance(-1)
	assert.Error(t, err)
}

func TestCursorSet(t *testing.T) {
	x, err := NewSectorCursor(make([]byte, 2*BlockSize))
	log.PanicIf(err)

	y, err := NewSectorCursor(make([]byte, BlockSize), make([]byte, BlockSize))
	log.PanicIf(err)

	cs := cursorSet{x, y}

	assert.Equal(t, 2, len(cs.sectors()))
	assert.Equal(t, 0, cs.emptyCount())

	cs.advance(2)

	assert.Equal(t, 2, cs.emptyCount())
}
