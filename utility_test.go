package raidxor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestXorBytes(t *testing.T) {
	dst := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	src := []byte{1, 2, 3, 4, 5, 6, 7, 8, 0, 0, 0, 0, 0, 0, 0, 0xff}

	xorBytes(dst, src)

	expected := []byte{0, 0, 0, 0, 0, 0, 0, 0, 9, 10, 11, 12, 13, 14, 15, 0xef}
	assert.Equal(t, expected, dst)
}

func TestXorInto3(t *testing.T) {
	a := []byte{0xff, 0, 0xff, 0, 0xff, 0, 0xff, 0}
	b := []byte{0x0f, 0x0f, 0x0f, 0x0f, 0x0f, 0x0f, 0x0f, 0x0f}
	dst := make([]byte, 8)

	xorInto3(dst, a, b)

	assert.Equal(t, []byte{0xf0, 0x0f, 0xf0, 0x0f, 0xf0, 0x0f, 0xf0, 0x0f}, dst)
}

func TestRotl16(t *testing.T) {
	assert.Equal(t, uint16(0x0001), rotl16(0x8000, 1))
	assert.Equal(t, uint16(0x1234), rotl16(0x1234, 0))
	assert.Equal(t, uint16(0x1234), rotl16(0x1234, 16))
	assert.Equal(t, uint16(0x2341), rotl16(0x1234, 4))
}

func TestBitDifference(t *testing.T) {
	assert.Equal(t, 0, bitDifference(0xaaaa, 0xaaaa))
	assert.Equal(t, 1, bitDifference(0xaaaa, 0xaaab))
	assert.Equal(t, 16, bitDifference(0x0000, 0xffff))
}

func TestIsZeroBytes(t *testing.T) {
	assert.True(t, isZeroBytes(make([]byte, 10)))
	assert.False(t, isZeroBytes([]byte{0, 0, 1}))
}
