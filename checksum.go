package raidxor

import (
	"math/bits"
)

const (
	// checksumSeed is folded into every cooked checksum so that an all-zero
	// block does not have a zero checksum.
	checksumSeed uint16 = 0xaf76
)

// RawChecksum returns the XOR of all payload words. Raw checksums are linear:
// the raw checksum of the XOR of several blocks is the XOR of their raw
// checksums.
func RawChecksum(s Sector) uint32 {
	raw := uint32(0)
	data := s[:DataBytesPerBlock]

	for i := 0; i < DataBytesPerBlock; i += 4 {
		raw ^= defaultEncoding.Uint32(data[i:])
	}

	return raw
}

// CookChecksum turns a raw checksum into the 16-bit value that is stored in
// the sector.
func CookChecksum(raw uint32) uint16 {
	rotated := bits.RotateLeft32(raw, 1)
	return uint16(rotated>>16) ^ uint16(rotated) ^ checksumSeed
}

// CalculateChecksum returns the checksum that the sector should carry.
func CalculateChecksum(s Sector) uint16 {
	return CookChecksum(RawChecksum(s))
}

// IsChecksumValid returns true if the stored checksum matches the payload.
func IsChecksumValid(s Sector) bool {
	return s.Crc() == CalculateChecksum(s)
}

// SetChecksum stores the calculated checksum and returns it.
func SetChecksum(s Sector) uint16 {
	crc := CalculateChecksum(s)
	s.SetCrc(crc)

	return crc
}

// LbaStamp returns the lba-stamp of the block at (lba) on a raid-group whose
// physical offset is (offset).
func LbaStamp(lba, offset uint64) uint16 {
	absolute := lba + offset

	return uint16(absolute) ^ uint16(absolute>>16) ^ uint16(absolute>>32) ^ uint16(absolute>>48)
}

// IsValidLbaStamp returns true if the sector's lba-stamp matches the lba.
func IsValidLbaStamp(s Sector, seed, raidGroupOffset uint64) bool {
	return s.LbaStamp() == LbaStamp(seed, raidGroupOffset)
}

// zeroedChecksum is the checksum of a block whose payload is all zeros.
var zeroedChecksum = CookChecksum(0)

// FillZeroedSector writes the pattern of a zeroed block: no payload, a valid
// checksum and no stamps.
func FillZeroedSector(s Sector) {
	s.Zero()
	s.SetCrc(zeroedChecksum)
}

// IsZeroedSector returns true if the sector holds exactly the zeroed pattern.
func IsZeroedSector(s Sector) bool {
	if s.Crc() != zeroedChecksum || s.TimeStamp() != 0 || s.WriteStamp() != 0 || s.LbaStamp() != 0 {
		return false
	}

	return isZeroBytes(s[:DataBytesPerBlock])
}
