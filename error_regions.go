package raidxor

import (
	"fmt"

	"github.com/dsoprea/go-logging"
	"github.com/dustin/go-humanize"
)

// ErrorType classifies an error region.
type ErrorType uint16

const (
	ErrorTypeNone ErrorType = iota
	ErrorTypeCrc
	ErrorTypeSingleBitCrc
	ErrorTypeMultiBitCrc
	ErrorTypeLbaStamp
	ErrorTypeInvalidated
	ErrorTypeKlondike
	ErrorTypeMediaError
	ErrorTypeCoherency
	ErrorTypeTimeStamp
	ErrorTypeWriteStamp
	ErrorTypeShedStamp
	ErrorTypeRawMirrorMagic
	ErrorTypeRawMirrorSequence
)

func (et ErrorType) String() string {
	switch et {
	case ErrorTypeNone:
		return "none"
	case ErrorTypeCrc:
		return "crc"
	case ErrorTypeSingleBitCrc:
		return "single-bit-crc"
	case ErrorTypeMultiBitCrc:
		return "multi-bit-crc"
	case ErrorTypeLbaStamp:
		return "lba-stamp"
	case ErrorTypeInvalidated:
		return "invalidated"
	case ErrorTypeKlondike:
		return "klondike"
	case ErrorTypeMediaError:
		return "media-error"
	case ErrorTypeCoherency:
		return "coherency"
	case ErrorTypeTimeStamp:
		return "time-stamp"
	case ErrorTypeWriteStamp:
		return "write-stamp"
	case ErrorTypeShedStamp:
		return "shed-stamp"
	case ErrorTypeRawMirrorMagic:
		return "raw-mirror-magic"
	case ErrorTypeRawMirrorSequence:
		return "raw-mirror-sequence"
	}

	return fmt.Sprintf("unknown(%d)", uint16(et))
}

// ErrorRegion describes a run of blocks that share the same error.
type ErrorRegion struct {
	Lba         uint64
	Blocks      uint32
	Bitmap      PositionMask
	ErrorType   ErrorType
	Correctable bool
}

func (er ErrorRegion) String() string {
	return fmt.Sprintf("ErrorRegion<LBA=(0x%x) BLOCKS=(%d) POSITIONS=%s TYPE=[%s] CORRECTABLE=[%v]>", er.Lba, er.Blocks, er.Bitmap, er.ErrorType, er.Correctable)
}

// ErrorRegions is a bounded, append-only list of error regions. Contiguous
// regions with the same positions, type and correctability are merged.
type ErrorRegions struct {
	regions  []ErrorRegion
	capacity int

	// Overflowed is set once a region was dropped because the list was full.
	Overflowed bool
}

// NewErrorRegions returns an empty list that holds at most (capacity)
// regions.
func NewErrorRegions(capacity int) *ErrorRegions {
	if capacity <= 0 {
		log.Panicf("error-regions capacity must be positive: (%d)", capacity)
	}

	return &ErrorRegions{
		regions:  make([]ErrorRegion, 0, capacity),
		capacity: capacity,
	}
}

// Add records one block. It returns false if the region had to be dropped.
func (ers *ErrorRegions) Add(lba uint64, bitmap PositionMask, errorType ErrorType, correctable bool) bool {
	if bitmap == 0 {
		return true
	}

	if n := len(ers.regions); n > 0 {
		last := &ers.regions[n-1]

		if last.Bitmap == bitmap && last.ErrorType == errorType && last.Correctable == correctable && last.Lba+uint64(last.Blocks) == lba {
			last.Blocks++
			return true
		}
	}

	if len(ers.regions) >= ers.capacity {
		ers.Overflowed = true
		return false
	}

	er := ErrorRegion{
		Lba:         lba,
		Blocks:      1,
		Bitmap:      bitmap,
		ErrorType:   errorType,
		Correctable: correctable,
	}

	ers.regions = append(ers.regions, er)
	return true
}

// Index returns the position at which the next region will be stored.
func (ers *ErrorRegions) Index() int {
	return len(ers.regions)
}

// Rewind forgets every region recorded since (index) was taken.
func (ers *ErrorRegions) Rewind(index int) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = recoveredError(errRaw)
		}
	}()

	if index < 0 || index > len(ers.regions) {
		log.Panicf("rewind index out of range: (%d) > (%d)", index, len(ers.regions))
	}

	ers.regions = ers.regions[:index]
	ers.Overflowed = false

	return nil
}

// Regions returns the recorded regions. The slice must not be modified.
func (ers *ErrorRegions) Regions() []ErrorRegion {
	return ers.regions
}

func (ers *ErrorRegions) Len() int {
	return len(ers.regions)
}

// recordBlock converts the board of one block into regions.
func (ers *ErrorRegions) recordBlock(eb *ErrorBoard, lba uint64) {
	for _, ep := range eb.errorPairs() {
		if ep.errorType == ErrorTypeCrc {
			ers.recordCrc(eb, lba, *ep.u, false)
			ers.recordCrc(eb, lba, *ep.c, true)

			continue
		}

		ers.Add(lba, *ep.u, ep.errorType, false)
		ers.Add(lba, *ep.c, ep.errorType, true)
	}

	ers.Add(lba, eb.CRmSeqBitmap, ErrorTypeRawMirrorSequence, true)
}

// recordCrc splits a checksum bitmap by the reason that was classified for
// each position.
func (ers *ErrorRegions) recordCrc(eb *ErrorBoard, lba uint64, bitmap PositionMask, correctable bool) {
	if bitmap == 0 {
		return
	}

	invalidated := eb.CrcRaidBitmap | eb.CrcDataLostBitmap | eb.CrcDhBitmap | eb.CrcPvdMetadataBitmap | eb.CorruptCrcBitmap | eb.CorruptDataBitmap | eb.CrcCopyBitmap

	categories := []struct {
		mask      PositionMask
		errorType ErrorType
	}{
		{eb.MediaErrBitmap, ErrorTypeMediaError},
		{invalidated, ErrorTypeInvalidated},
		{eb.CrcKlondikeBitmap, ErrorTypeKlondike},
		{eb.CrcSingleBitmap, ErrorTypeSingleBitCrc},
		{eb.CrcMultiBitmap, ErrorTypeMultiBitCrc},
		{eb.CrcLbaStampBitmap, ErrorTypeLbaStamp},
	}

	remaining := bitmap
	for _, category := range categories {
		matched := remaining & category.mask
		ers.Add(lba, matched, category.errorType, correctable)
		remaining &^= matched
	}

	ers.Add(lba, remaining, ErrorTypeCrc, correctable)
}

// Dump prints the regions.
func (ers *ErrorRegions) Dump() {
	fmt.Printf("Error Regions (%s)\n", humanize.Comma(int64(len(ers.regions))))
	fmt.Printf("=============\n")
	fmt.Printf("\n")

	blocks := uint64(0)
	for i, er := range ers.regions {
		fmt.Printf("(%d): %s\n", i, er)
		blocks += uint64(er.Blocks)
	}

	fmt.Printf("\n")
	fmt.Printf("Blocks: (%s) Bytes: [%s] Overflowed: [%v]\n", humanize.Comma(int64(blocks)), humanize.Bytes(blocks*BlockSize), ers.Overflowed)
	fmt.Printf("\n")
}
