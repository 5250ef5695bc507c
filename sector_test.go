package raidxor

import (
	"testing"

	"github.com/dsoprea/go-logging"
	"github.com/stretchr/testify/assert"
)

func TestSector_Stamps(t *testing.T) {
	s := newTestSector()

	s.SetCrc(0x1111)
	s.SetStamps(0x2222, 0x3333, 0x4444)

	assert.Equal(t, uint16(0x1111), s.Crc())
	assert.Equal(t, uint16(0x2222), s.TimeStamp())
	assert.Equal(t, uint16(0x3333), s.WriteStamp())
	assert.Equal(t, uint16(0x4444), s.LbaStamp())

	expected := []byte{0x11, 0x11, 0x22, 0x22, 0x33, 0x33, 0x44, 0x44}
	assert.Equal(t, expected, []byte(s[DataBytesPerBlock:]))
}

func TestSector_Word(t *testing.T) {
	s := newTestSector()

	s.SetWord(1, 0x04030201)

	assert.Equal(t, []byte{1, 2, 3, 4}, []byte(s[4:8]))
	assert.Equal(t, uint32(0x04030201), s.Word(1))
}

func TestSector_Metadata(t *testing.T) {
	s := newTestSector()
	s.SetCrc(0xabcd)
	s.SetStamps(TimeStampInvalid, 0x0006, 0x9876)

	sm, err := s.Metadata()
	log.PanicIf(err)

	expected := SectorMetadata{
		Crc:        0xabcd,
		TimeStamp:  TimeStampInvalid,
		WriteStamp: 0x0006,
		LbaStamp:   0x9876,
	}

	if sm != expected {
		t.Fatalf("Metadata not correct: %s", sm)
	}

	other := newTestSector()

	err = other.SetMetadata(sm)
	log.PanicIf(err)

	if other.Equals(s) != true {
		t.Fatalf("Metadata not encoded correctly: %s", other)
	}
}

func TestSector_Metadata_Short(t *testing.T) {
	s := make(Sector, DataBytesPerBlock)

	_, err := s.Metadata()
	assert.Error(t, err)
}

func TestSector_CopyAndCompare(t *testing.T) {
	s := newTestSector()
	fillDataSector(s, 0, 0x10, testTimeStamp)

	c := s.Clone()
	assert.True(t, c.Equals(s))

	c.SetTimeStamp(0)
	assert.False(t, c.Equals(s))
	assert.True(t, c.DataEquals(s))

	d := newTestSector()
	d.CopyDataFrom(s)
	assert.True(t, d.DataEquals(s))
	assert.Equal(t, uint16(0), d.Crc())

	d.CopyFrom(s)
	assert.True(t, d.Equals(s))

	d.XorDataFrom(s)
	assert.True(t, isZeroBytes(d[:DataBytesPerBlock]))
	assert.Equal(t, s.Crc(), d.Crc())

	d.Zero()
	assert.True(t, isZeroBytes(d))
}

func TestIsFreshTimeStamp(t *testing.T) {
	assert.True(t, IsFreshTimeStamp(0))
	assert.True(t, IsFreshTimeStamp(TimeStampMaxFresh))

	assert.False(t, IsFreshTimeStamp(TimeStampR6Invalid))
	assert.False(t, IsFreshTimeStamp(TimeStampInitial))
	assert.False(t, IsFreshTimeStamp(TimeStampInvalid))
	assert.False(t, IsFreshTimeStamp(TimeStampAll|1))
}

func TestSector_Dump(t *testing.T) {
	s := newTestSector()
	fillDataSector(s, 0, 0, testTimeStamp)

	s.Dump()
}
