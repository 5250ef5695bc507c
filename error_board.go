package raidxor

import (
	"fmt"
)

const (
	// InvalidObjectID is the raid-group id of a board that was never
	// initialized.
	InvalidObjectID = uint32(0xffffffff)
)

// ErrorBoard accumulates, per drive position, the errors found while
// processing one strip. The drivers keep one aggregate board per request and
// one board per block, and fold the latter into the former.
//
// A "correction" moves a position from an uncorrectable bitmap to its
// correctable counterpart.
type ErrorBoard struct {
	UCrcBitmap PositionMask
	CCrcBitmap PositionMask
	UCohBitmap PositionMask
	CCohBitmap PositionMask
	UTsBitmap  PositionMask
	CTsBitmap  PositionMask
	UWsBitmap  PositionMask
	CWsBitmap  PositionMask
	USsBitmap  PositionMask
	CSsBitmap  PositionMask

	// Raw-mirror arbitration.
	URmMagicBitmap PositionMask
	CRmMagicBitmap PositionMask
	CRmSeqBitmap   PositionMask

	// ModifiedBitmap holds the positions whose buffers were changed.
	ModifiedBitmap PositionMask

	// WriteBitmap holds the positions the caller must write back.
	WriteBitmap PositionMask

	// MediaErrBitmap holds the crc errors that are explained by media errors.
	MediaErrBitmap PositionMask

	// Supplied by the caller: positions that could not be read.
	HardMediaErrBitmap PositionMask
	RetryErrBitmap     PositionMask
	NoDataErrBitmap    PositionMask

	// Why a checksum was bad.
	CrcSingleBitmap      PositionMask
	CrcMultiBitmap       PositionMask
	CrcMultiAndLbaBitmap PositionMask
	CrcLbaStampBitmap    PositionMask
	CrcKlondikeBitmap    PositionMask
	CrcRaidBitmap        PositionMask
	CrcDataLostBitmap    PositionMask
	CrcDhBitmap          PositionMask
	CrcPvdMetadataBitmap PositionMask
	CorruptCrcBitmap     PositionMask
	CorruptDataBitmap    PositionMask
	CrcCopyBitmap        PositionMask
	CrcUnknownBitmap     PositionMask

	RaidGroupObjectID uint32
	RaidGroupOffset   uint64
}

// NewErrorBoard returns an empty board for the given raid-group.
func NewErrorBoard(raidGroupObjectID uint32, raidGroupOffset uint64) *ErrorBoard {
	return &ErrorBoard{
		RaidGroupObjectID: raidGroupObjectID,
		RaidGroupOffset:   raidGroupOffset,
	}
}

// errorPair ties an uncorrectable bitmap to its correctable counterpart.
type errorPair struct {
	u         *PositionMask
	c         *PositionMask
	errorType ErrorType
}

func (eb *ErrorBoard) errorPairs() []errorPair {
	return []errorPair{
		{&eb.UCrcBitmap, &eb.CCrcBitmap, ErrorTypeCrc},
		{&eb.UCohBitmap, &eb.CCohBitmap, ErrorTypeCoherency},
		{&eb.UTsBitmap, &eb.CTsBitmap, ErrorTypeTimeStamp},
		{&eb.UWsBitmap, &eb.CWsBitmap, ErrorTypeWriteStamp},
		{&eb.USsBitmap, &eb.CSsBitmap, ErrorTypeShedStamp},
		{&eb.URmMagicBitmap, &eb.CRmMagicBitmap, ErrorTypeRawMirrorMagic},
	}
}

func (eb *ErrorBoard) bitmaps() []*PositionMask {
	return []*PositionMask{
		&eb.UCrcBitmap, &eb.CCrcBitmap, &eb.UCohBitmap, &eb.CCohBitmap,
		&eb.UTsBitmap, &eb.CTsBitmap, &eb.UWsBitmap, &eb.CWsBitmap,
		&eb.USsBitmap, &eb.CSsBitmap,
		&eb.URmMagicBitmap, &eb.CRmMagicBitmap, &eb.CRmSeqBitmap,
		&eb.ModifiedBitmap, &eb.WriteBitmap, &eb.MediaErrBitmap,
		&eb.HardMediaErrBitmap, &eb.RetryErrBitmap, &eb.NoDataErrBitmap,
		&eb.CrcSingleBitmap, &eb.CrcMultiBitmap, &eb.CrcMultiAndLbaBitmap,
		&eb.CrcLbaStampBitmap, &eb.CrcKlondikeBitmap, &eb.CrcRaidBitmap,
		&eb.CrcDataLostBitmap, &eb.CrcDhBitmap, &eb.CrcPvdMetadataBitmap,
		&eb.CorruptCrcBitmap, &eb.CorruptDataBitmap, &eb.CrcCopyBitmap,
		&eb.CrcUnknownBitmap,
	}
}

// blockBoard returns an empty board for one block. It inherits the
// raid-group identity and the caller-supplied read-error bitmaps.
func (eb *ErrorBoard) blockBoard() *ErrorBoard {
	return &ErrorBoard{
		HardMediaErrBitmap: eb.HardMediaErrBitmap,
		RetryErrBitmap:     eb.RetryErrBitmap,
		NoDataErrBitmap:    eb.NoDataErrBitmap,
		RaidGroupObjectID:  eb.RaidGroupObjectID,
		RaidGroupOffset:    eb.RaidGroupOffset,
	}
}

// Fold ORs every bitmap of another board into this one.
func (eb *ErrorBoard) Fold(other *ErrorBoard) {
	mine := eb.bitmaps()
	theirs := other.bitmaps()

	for i, bitmap := range mine {
		*bitmap |= *theirs[i]
	}
}

// Reset clears every bitmap. The raid-group identity is kept.
func (eb *ErrorBoard) Reset() {
	for _, bitmap := range eb.bitmaps() {
		*bitmap = 0
	}
}

// UncorrectableBitmap returns every position with an uncorrectable error.
func (eb *ErrorBoard) UncorrectableBitmap() PositionMask {
	mask := PositionMask(0)
	for _, ep := range eb.errorPairs() {
		mask |= *ep.u
	}

	return mask
}

// CorrectableBitmap returns every position with a correctable error.
func (eb *ErrorBoard) CorrectableBitmap() PositionMask {
	mask := eb.CRmSeqBitmap
	for _, ep := range eb.errorPairs() {
		mask |= *ep.c
	}

	return mask
}

// ReasonBitmap returns every position for which a checksum classification was
// recorded.
func (eb *ErrorBoard) ReasonBitmap() PositionMask {
	return eb.CrcSingleBitmap | eb.CrcMultiBitmap | eb.CrcMultiAndLbaBitmap |
		eb.CrcLbaStampBitmap | eb.CrcKlondikeBitmap | eb.CrcRaidBitmap |
		eb.CrcDataLostBitmap | eb.CrcDhBitmap | eb.CrcPvdMetadataBitmap |
		eb.CorruptCrcBitmap | eb.CorruptDataBitmap | eb.CrcCopyBitmap |
		eb.CrcUnknownBitmap
}

// HasErrors returns true if any error bitmap is populated.
func (eb *ErrorBoard) HasErrors() bool {
	return eb.UncorrectableBitmap() != 0 || eb.CorrectableBitmap() != 0
}

// correct moves the given positions from every uncorrectable bitmap into the
// matching correctable bitmap.
func (eb *ErrorBoard) correct(mask PositionMask) {
	for _, ep := range eb.errorPairs() {
		moving := *ep.u & mask
		*ep.u &^= moving
		*ep.c |= moving
	}
}

// uncorrect does the reverse of correct.
func (eb *ErrorBoard) uncorrect(mask PositionMask) {
	for _, ep := range eb.errorPairs() {
		moving := *ep.c & mask
		*ep.c &^= moving
		*ep.u |= moving
	}
}

// markModified records that a buffer was changed and must be written.
func (eb *ErrorBoard) markModified(mask PositionMask) {
	eb.ModifiedBitmap |= mask
	eb.WriteBitmap |= mask
}

// unreadableBitmap returns the positions whose buffers hold no data.
func (eb *ErrorBoard) unreadableBitmap() PositionMask {
	return eb.HardMediaErrBitmap | eb.RetryErrBitmap | eb.NoDataErrBitmap
}

// correctedOverlap returns the positions that are both uncorrectable and
// correctable for the same error class.
func (eb *ErrorBoard) correctedOverlap() PositionMask {
	overlap := PositionMask(0)
	for _, ep := range eb.errorPairs() {
		overlap |= *ep.u & *ep.c
	}

	return overlap
}

func (eb *ErrorBoard) String() string {
	return fmt.Sprintf("ErrorBoard<RG=(0x%x) U=%s C=%s M=%s W=%s>", eb.RaidGroupObjectID, eb.UncorrectableBitmap(), eb.CorrectableBitmap(), eb.ModifiedBitmap, eb.WriteBitmap)
}

// Dump prints every non-empty bitmap.
func (eb *ErrorBoard) Dump() {
	fmt.Printf("Error Board\n")
	fmt.Printf("===========\n")
	fmt.Printf("\n")

	fmt.Printf("RaidGroupObjectID: (0x%x)\n", eb.RaidGroupObjectID)
	fmt.Printf("RaidGroupOffset: (%d)\n", eb.RaidGroupOffset)
	fmt.Printf("\n")

	named := []struct {
		name   string
		bitmap PositionMask
	}{
		{"UCrc", eb.UCrcBitmap}, {"CCrc", eb.CCrcBitmap},
		{"UCoh", eb.UCohBitmap}, {"CCoh", eb.CCohBitmap},
		{"UTs", eb.UTsBitmap}, {"CTs", eb.CTsBitmap},
		{"UWs", eb.UWsBitmap}, {"CWs", eb.CWsBitmap},
		{"USs", eb.USsBitmap}, {"CSs", eb.CSsBitmap},
		{"URmMagic", eb.URmMagicBitmap}, {"CRmMagic", eb.CRmMagicBitmap},
		{"CRmSeq", eb.CRmSeqBitmap},
		{"Modified", eb.ModifiedBitmap}, {"Write", eb.WriteBitmap},
		{"MediaErr", eb.MediaErrBitmap}, {"HardMediaErr", eb.HardMediaErrBitmap},
		{"RetryErr", eb.RetryErrBitmap}, {"NoDataErr", eb.NoDataErrBitmap},
		{"CrcSingle", eb.CrcSingleBitmap}, {"CrcMulti", eb.CrcMultiBitmap},
		{"CrcMultiAndLba", eb.CrcMultiAndLbaBitmap}, {"CrcLbaStamp", eb.CrcLbaStampBitmap},
		{"CrcKlondike", eb.CrcKlondikeBitmap}, {"CrcRaid", eb.CrcRaidBitmap},
		{"CrcDataLost", eb.CrcDataLostBitmap}, {"CrcDh", eb.CrcDhBitmap},
		{"CrcPvdMetadata", eb.CrcPvdMetadataBitmap}, {"CorruptCrc", eb.CorruptCrcBitmap},
		{"CorruptData", eb.CorruptDataBitmap}, {"CrcCopy", eb.CrcCopyBitmap},
		{"CrcUnknown", eb.CrcUnknownBitmap},
	}

	for _, n := range named {
		if n.bitmap == 0 {
			continue
		}

		fmt.Printf("%s: %s\n", n.name, n.bitmap)
	}

	fmt.Printf("\n")
}
