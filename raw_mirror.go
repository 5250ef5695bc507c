package raidxor

import (
	"fmt"

	"github.com/dsoprea/go-logging"
	"github.com/go-restruct/restruct"
)

const (
	// RawMirrorMagic identifies the header that raw mirrors keep in the last
	// bytes of every payload.
	RawMirrorMagic = uint64(0x5241574d49525221)

	rawMirrorHeaderSize   = 16
	rawMirrorHeaderOffset = DataBytesPerBlock - rawMirrorHeaderSize
)

// RawMirrorHeader is stored at the end of the payload of every raw-mirror
// sector. The sequence number grows with every write, so the newest copy wins
// arbitration.
type RawMirrorHeader struct {
	Magic    uint64
	Sequence uint64
}

func (rmh RawMirrorHeader) IsValid() bool {
	return rmh.Magic == RawMirrorMagic
}

func (rmh RawMirrorHeader) String() string {
	return fmt.Sprintf("RawMirrorHeader<MAGIC=(0x%016x) SEQUENCE=(%d)>", rmh.Magic, rmh.Sequence)
}

// ReadRawMirrorHeader decodes the header of a raw-mirror sector.
func ReadRawMirrorHeader(s Sector) (rmh RawMirrorHeader, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = recoveredError(errRaw)
		}
	}()

	err = restruct.Unpack(s[rawMirrorHeaderOffset:DataBytesPerBlock], defaultEncoding, &rmh)
	log.PanicIf(err)

	return rmh, nil
}

// WriteRawMirrorHeader stores a header with the given sequence number and
// recalculates the checksum.
func WriteRawMirrorHeader(s Sector, sequence uint64) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = recoveredError(errRaw)
		}
	}()

	rmh := RawMirrorHeader{
		Magic:    RawMirrorMagic,
		Sequence: sequence,
	}

	raw, err := restruct.Pack(defaultEncoding, &rmh)
	log.PanicIf(err)

	copy(s[rawMirrorHeaderOffset:DataBytesPerBlock], raw)
	SetChecksum(s)

	return nil
}

// arbitrateRawMirror picks the primary among (candidates), which all have good
// checksums. Positions without the magic number get a correctable magic
// error, and positions with an older sequence number get a sequence error.
// Positions with the same sequence number are left to equateMirrorPair.
// If no candidate has the magic number they all become uncorrectable and
// InvalidPosition is returned.
func (e *Engine) arbitrateRawMirror(eb *ErrorBoard, sectors []Sector, keys []PositionMask, candidates []int, seed uint64) int {
	primary := InvalidPosition
	highest := uint64(0)

	sequences := make(map[int]uint64, len(candidates))
	noMagic := PositionMask(0)

	for _, i := range candidates {
		rmh, err := ReadRawMirrorHeader(sectors[i])
		log.PanicIf(err)

		if rmh.IsValid() != true {
			noMagic |= keys[i]
			continue
		}

		sequences[i] = rmh.Sequence

		if primary == InvalidPosition || rmh.Sequence > highest {
			primary = i
			highest = rmh.Sequence
		}
	}

	if primary == InvalidPosition {
		eb.URmMagicBitmap |= noMagic

		e.trace(eb, nil, noMagic, seed, 0, TraceSeverityError, "no raw-mirror position has the magic number")
		return InvalidPosition
	}

	eb.CRmMagicBitmap |= noMagic

	for i, sequence := range sequences {
		if sequence < highest {
			eb.CRmSeqBitmap |= keys[i]
		}
	}

	if stale := eb.CRmMagicBitmap | eb.CRmSeqBitmap; stale != 0 {
		e.trace(eb, nil, stale, seed, 0, TraceSeverityWarning, fmt.Sprintf("raw-mirror positions are stale; newest sequence is (%d)", highest))
	}

	return primary
}
