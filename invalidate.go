package raidxor

import (
	"bytes"
	"fmt"

	"github.com/dsoprea/go-logging"
	"github.com/go-restruct/restruct"
)

const (
	invalidSectorMagic   = uint32(0xbad5ec70)
	invalidRecordSize    = 32
	invalidRecordsPerBlk = DataBytesPerBlock / invalidRecordSize

	// invalidCrcMask is XORed into the calculated checksum of an invalidated
	// sector. It is non-zero, so the stored checksum never matches.
	invalidCrcMask = uint16(0x5a5a)
)

const (
	// KlondikeCrc, together with the other klondike values, identifies
	// sectors that were invalidated with the legacy fixed pattern.
	KlondikeCrc        = uint16(0x5eed)
	KlondikeTimeStamp  = TimeStampInvalid
	KlondikeWriteStamp = uint16(0)
	KlondikeLbaStamp   = uint16(0)
)

var (
	invalidSectorTag = [8]byte{'I', 'N', 'V', 'A', 'L', 'I', 'D', '!'}
)

// InvalidReason records why a sector was deliberately invalidated.
type InvalidReason uint16

const (
	InvalidReasonUnknown InvalidReason = iota
	InvalidReasonDataLost
	InvalidReasonRaidVerify
	InvalidReasonDhInvalidated
	InvalidReasonPvdMetadataInvalid
	InvalidReasonCorruptData
	InvalidReasonCorruptCrc
	InvalidReasonCopyInvalidated

	invalidReasonCount
)

func (ir InvalidReason) IsKnown() bool {
	return ir > InvalidReasonUnknown && ir < invalidReasonCount
}

func (ir InvalidReason) String() string {
	switch ir {
	case InvalidReasonDataLost:
		return "data-lost"
	case InvalidReasonRaidVerify:
		return "raid-verify"
	case InvalidReasonDhInvalidated:
		return "dh-invalidated"
	case InvalidReasonPvdMetadataInvalid:
		return "pvd-metadata-invalid"
	case InvalidReasonCorruptData:
		return "corrupt-data"
	case InvalidReasonCorruptCrc:
		return "corrupt-crc"
	case InvalidReasonCopyInvalidated:
		return "copy-invalidated"
	}

	return fmt.Sprintf("unknown(%d)", uint16(ir))
}

// InvalidatedBy records which client invalidated a sector.
type InvalidatedBy uint16

const (
	InvalidatedByUnknown InvalidatedBy = iota
	InvalidatedByRaid
	InvalidatedByClient
	InvalidatedByCopy
	InvalidatedByVerify
	InvalidatedByTest
)

func (ib InvalidatedBy) String() string {
	switch ib {
	case InvalidatedByRaid:
		return "raid"
	case InvalidatedByClient:
		return "client"
	case InvalidatedByCopy:
		return "copy"
	case InvalidatedByVerify:
		return "verify"
	case InvalidatedByTest:
		return "test"
	}

	return fmt.Sprintf("unknown(%d)", uint16(ib))
}

// invalidSectorRecord is repeated across the payload of an invalidated
// sector.
type invalidSectorRecord struct {
	Magic      uint32
	Reason     uint16
	Who        uint16
	Lba        uint64
	LbaInverse uint64
	Tag        [8]byte
}

// InvalidSectorInfo describes the content of an invalidated sector.
type InvalidSectorInfo struct {
	Reason InvalidReason
	Who    InvalidatedBy
	Lba    uint64
}

func (isi InvalidSectorInfo) String() string {
	return fmt.Sprintf("InvalidSector<REASON=[%s] WHO=[%s] LBA=(0x%x)>", isi.Reason, isi.Who, isi.Lba)
}

// FillInvalidSector overwrites the sector with the invalidated pattern for the
// given reason. The resulting checksum never matches the payload.
func FillInvalidSector(s Sector, seed uint64, reason InvalidReason, who InvalidatedBy) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = recoveredError(errRaw)
		}
	}()

	isr := invalidSectorRecord{
		Magic:      invalidSectorMagic,
		Reason:     uint16(reason),
		Who:        uint16(who),
		Lba:        seed,
		LbaInverse: ^seed,
		Tag:        invalidSectorTag,
	}

	raw, err := restruct.Pack(defaultEncoding, &isr)
	log.PanicIf(err)

	if len(raw) != invalidRecordSize {
		log.Panicf("invalid-sector record has the wrong size: (%d)", len(raw))
	}

	for i := 0; i < invalidRecordsPerBlk; i++ {
		copy(s[i*invalidRecordSize:], raw)
	}

	s.SetStamps(TimeStampInvalid, 0, 0)
	RebuildInvalidatedSector(s)

	return nil
}

// RebuildInvalidatedSector recooks the checksum of a sector whose payload is
// the invalidated pattern, e.g. after it was reconstructed from redundancy.
func RebuildInvalidatedSector(s Sector) {
	s.SetCrc(CalculateChecksum(s) ^ invalidCrcMask)
}

// ReadInvalidSector decodes the invalidated pattern. It returns false if the
// payload is not the pattern. The checksum is not considered.
func ReadInvalidSector(s Sector) (isi InvalidSectorInfo, ok bool) {
	if s.Word(0) != invalidSectorMagic {
		return isi, false
	}

	first := s[:invalidRecordSize]
	for i := 1; i < invalidRecordsPerBlk; i++ {
		if bytes.Equal(first, s[i*invalidRecordSize:(i+1)*invalidRecordSize]) != true {
			return isi, false
		}
	}

	isr := invalidSectorRecord{}

	err := restruct.Unpack(first, defaultEncoding, &isr)
	if err != nil {
		return isi, false
	}

	if isr.Tag != invalidSectorTag || isr.LbaInverse != ^isr.Lba {
		return isi, false
	}

	isi = InvalidSectorInfo{
		Reason: InvalidReason(isr.Reason),
		Who:    InvalidatedBy(isr.Who),
		Lba:    isr.Lba,
	}

	if isi.Reason.IsKnown() != true {
		isi.Reason = InvalidReasonUnknown
	}

	return isi, true
}

// IsSectorInvalidated returns the reason if the sector holds the invalidated
// pattern. When (checkLba) is set the embedded lba must also equal (seed).
func IsSectorInvalidated(s Sector, seed uint64, checkLba bool) (reason InvalidReason, isInvalidated bool) {
	isi, ok := ReadInvalidSector(s)
	if ok != true {
		return InvalidReasonUnknown, false
	}

	if checkLba == true && isi.Lba != seed {
		return InvalidReasonUnknown, false
	}

	return isi.Reason, true
}

// IsProperlyInvalidated returns true if the sector is an invalidated sector
// whose checksum is still the deliberately-bad one.
func IsProperlyInvalidated(s Sector, seed uint64, checkLba bool) bool {
	if _, isInvalidated := IsSectorInvalidated(s, seed, checkLba); isInvalidated != true {
		return false
	}

	return s.Crc() == CalculateChecksum(s)^invalidCrcMask
}

// FillKlondikeSector writes the legacy invalidated pattern. It is only used to
// produce test data for the classifier.
func FillKlondikeSector(s Sector) {
	s.Zero()
	s.SetWord(0, 0xffffffff)
	s.SetWord(1, 0)
	s.SetCrc(KlondikeCrc)
	s.SetStamps(KlondikeTimeStamp, KlondikeWriteStamp, KlondikeLbaStamp)
}

// IsKlondikeSector returns true for the legacy invalidated pattern.
func IsKlondikeSector(s Sector) bool {
	return s.Word(0) == 0xffffffff &&
		s.Word(1) == 0 &&
		s.Crc() == KlondikeCrc &&
		s.TimeStamp() == KlondikeTimeStamp &&
		s.WriteStamp() == KlondikeWriteStamp &&
		s.LbaStamp() == KlondikeLbaStamp
}
