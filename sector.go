// This package implements the consistency engine that sits underneath a RAID
// storage stack. Given the per-drive sector contents of a strip it verifies
// checksums and metadata stamps, classifies corruption, reconstructs sectors
// from redundancy and decides which positions must be written.

package raidxor

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/dsoprea/go-logging"
	"github.com/go-restruct/restruct"
)

const (
	// BlockSize is the number of bytes in one sector, including metadata.
	BlockSize = 520

	// DataBytesPerBlock is the size of the payload of a sector.
	DataBytesPerBlock = 512

	// WordsPerBlock is the number of 32-bit words in the payload.
	WordsPerBlock = DataBytesPerBlock / 4

	// MaxPositions is the widest strip the engine will process.
	MaxPositions = 16

	metadataSize = BlockSize - DataBytesPerBlock

	crcOffset        = 512
	timeStampOffset  = 514
	writeStampOffset = 516
	lbaStampOffset   = 518
)

const (
	// TimeStampAll is set on a parity time-stamp when every data position
	// carries the same time-stamp.
	TimeStampAll uint16 = 0x8000

	// TimeStampInvalid means "no time-stamp; consult the write-stamp".
	TimeStampInvalid uint16 = 0x7fff

	// TimeStampInitial is written when a unit is first bound.
	TimeStampInitial uint16 = 0x7ffe

	// TimeStampR6Invalid is reserved for RAID-6 parity.
	TimeStampR6Invalid uint16 = 0x7ffd

	// TimeStampMaxFresh is the largest stamp a caller may hand us for a
	// new write.
	TimeStampMaxFresh uint16 = 0x7ffc
)

var (
	defaultEncoding = binary.LittleEndian
)

// IsFreshTimeStamp returns true if the stamp can be used as the time-stamp of
// a new write. Sentinels and the ALL bit are excluded.
func IsFreshTimeStamp(ts uint16) bool {
	return ts&TimeStampAll == 0 && ts <= TimeStampMaxFresh
}

// SectorMetadata is the trailer that follows the payload of every sector.
type SectorMetadata struct {
	Crc        uint16
	TimeStamp  uint16
	WriteStamp uint16
	LbaStamp   uint16
}

func (sm SectorMetadata) String() string {
	return fmt.Sprintf("SectorMetadata<CRC=(0x%04x) TS=(0x%04x) WS=(0x%04x) LBA-STAMP=(0x%04x)>", sm.Crc, sm.TimeStamp, sm.WriteStamp, sm.LbaStamp)
}

// Sector is a view over one block of caller-owned memory. All accessors read
// and write the underlying bytes in place.
type Sector []byte

// Data returns the payload.
func (s Sector) Data() []byte {
	return s[:DataBytesPerBlock]
}

// Word returns the (i)th 32-bit word of the payload.
func (s Sector) Word(i int) uint32 {
	return defaultEncoding.Uint32(s[i*4:])
}

// SetWord sets the (i)th 32-bit word of the payload.
func (s Sector) SetWord(i int, value uint32) {
	defaultEncoding.PutUint32(s[i*4:], value)
}

func (s Sector) Crc() uint16 {
	return defaultEncoding.Uint16(s[crcOffset:])
}

func (s Sector) SetCrc(value uint16) {
	defaultEncoding.PutUint16(s[crcOffset:], value)
}

func (s Sector) TimeStamp() uint16 {
	return defaultEncoding.Uint16(s[timeStampOffset:])
}

func (s Sector) SetTimeStamp(value uint16) {
	defaultEncoding.PutUint16(s[timeStampOffset:], value)
}

func (s Sector) WriteStamp() uint16 {
	return defaultEncoding.Uint16(s[writeStampOffset:])
}

func (s Sector) SetWriteStamp(value uint16) {
	defaultEncoding.PutUint16(s[writeStampOffset:], value)
}

func (s Sector) LbaStamp() uint16 {
	return defaultEncoding.Uint16(s[lbaStampOffset:])
}

func (s Sector) SetLbaStamp(value uint16) {
	defaultEncoding.PutUint16(s[lbaStampOffset:], value)
}

// SetStamps sets the three non-checksum stamps at once.
func (s Sector) SetStamps(timeStamp, writeStamp, lbaStamp uint16) {
	s.SetTimeStamp(timeStamp)
	s.SetWriteStamp(writeStamp)
	s.SetLbaStamp(lbaStamp)
}

// CopyFrom copies the payload and all four stamps from another sector.
func (s Sector) CopyFrom(src Sector) {
	copy(s[:BlockSize], src[:BlockSize])
}

// CopyDataFrom copies only the payload.
func (s Sector) CopyDataFrom(src Sector) {
	copy(s[:DataBytesPerBlock], src[:DataBytesPerBlock])
}

// XorDataFrom XORs the payload of another sector into this one.
func (s Sector) XorDataFrom(src Sector) {
	xorBytes(s[:DataBytesPerBlock], src[:DataBytesPerBlock])
}

// Equals compares payload and metadata.
func (s Sector) Equals(other Sector) bool {
	return bytes.Equal(s[:BlockSize], other[:BlockSize])
}

// DataEquals compares only the payloads.
func (s Sector) DataEquals(other Sector) bool {
	return bytes.Equal(s[:DataBytesPerBlock], other[:DataBytesPerBlock])
}

// Clone returns a private copy of the sector.
func (s Sector) Clone() Sector {
	c := make(Sector, BlockSize)
	copy(c, s[:BlockSize])

	return c
}

// Zero clears the payload and the metadata.
func (s Sector) Zero() {
	for i := range s[:BlockSize] {
		s[i] = 0
	}
}

// Metadata decodes the trailer.
func (s Sector) Metadata() (sm SectorMetadata, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = recoveredError(errRaw)
		}
	}()

	if len(s) < BlockSize {
		log.Panicf("sector too short: (%d)", len(s))
	}

	err = restruct.Unpack(s[DataBytesPerBlock:BlockSize], defaultEncoding, &sm)
	log.PanicIf(err)

	return sm, nil
}

// SetMetadata encodes the trailer.
func (s Sector) SetMetadata(sm SectorMetadata) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = recoveredError(errRaw)
		}
	}()

	raw, err := restruct.Pack(defaultEncoding, &sm)
	log.PanicIf(err)

	if len(raw) != metadataSize {
		log.Panicf("sector metadata encoded to the wrong size: (%d)", len(raw))
	}

	copy(s[DataBytesPerBlock:BlockSize], raw)

	return nil
}

func (s Sector) String() string {
	return fmt.Sprintf("Sector<CRC=(0x%04x) TS=(0x%04x) WS=(0x%04x) LBA-STAMP=(0x%04x)>", s.Crc(), s.TimeStamp(), s.WriteStamp(), s.LbaStamp())
}

// Dump prints the metadata and the first words of the payload.
func (s Sector) Dump() {
	fmt.Printf("Sector\n")
	fmt.Printf("======\n")
	fmt.Printf("\n")

	fmt.Printf("Crc: (0x%04x) Calculated: (0x%04x)\n", s.Crc(), CalculateChecksum(s))
	fmt.Printf("TimeStamp: (0x%04x)\n", s.TimeStamp())
	fmt.Printf("WriteStamp: (0x%04x)\n", s.WriteStamp())
	fmt.Printf("LbaStamp: (0x%04x)\n", s.LbaStamp())
	fmt.Printf("\n")

	for i := 0; i < 8; i++ {
		fmt.Printf("Word (%d): (0x%08x)\n", i, s.Word(i))
	}

	fmt.Printf("\n")
}
