package raidxor

const (
	mirrorMinWidth = 2
	mirrorMaxWidth = 3

	mirrorOptions = OptionCheckLbaStamp | OptionAllowInvalids | OptionDebug | OptionLogicalRequest
)

// MirrorRequest verifies or rebuilds a strip of a mirror.
type MirrorRequest struct {
	Width   int
	Cursors []*SectorCursor
	Keys    []PositionMask

	// ValidBitmap holds the positions whose buffers were read. Zero means
	// every position.
	ValidBitmap PositionMask

	// NeedsRebuildBitmap holds the positions to rebuild. It must be empty
	// for a verify.
	NeedsRebuildBitmap PositionMask

	// RawMirror arbitrates by the header sequence number.
	RawMirror bool

	Seed    uint64
	Count   int
	Options Option

	ErrorBoard   *ErrorBoard
	ErrorRegions *ErrorRegions
}

// VerifyMirror checks every position against the others and repairs what it
// can from the primary.
func (e *Engine) VerifyMirror(mr *MirrorRequest) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = recoveredError(errRaw)
		}
	}()

	if mr.NeedsRebuildBitmap != 0 {
		requestf("mirror verify can not rebuild positions: %s", mr.NeedsRebuildBitmap)
	}

	e.runMirror("mirror verify", mr)
	return nil
}

// RebuildMirror rewrites the positions in NeedsRebuildBitmap from the
// primary, verifying the rest of the strip along the way.
func (e *Engine) RebuildMirror(mr *MirrorRequest) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = recoveredError(errRaw)
		}
	}()

	if mr.NeedsRebuildBitmap == 0 {
		requestf("mirror rebuild has no positions to rebuild")
	}

	e.runMirror("mirror rebuild", mr)
	return nil
}

func (e *Engine) runMirror(operation string, mr *MirrorRequest) {
	all := validateStrip(operation, mr.Width, mirrorMinWidth, mirrorMaxWidth, mr.Cursors, mr.Keys, mr.Count, mr.ErrorBoard)
	validateOptions(operation, mr.Options, mirrorOptions)

	validBitmap := mr.ValidBitmap
	if validBitmap == 0 {
		validBitmap = all
	}

	if all.Contains(validBitmap) != true {
		requestf("%s valid positions %s are not in the strip %s", operation, validBitmap, all)
	} else if all.Contains(mr.NeedsRebuildBitmap) != true {
		requestf("%s rebuild positions %s are not in the strip %s", operation, mr.NeedsRebuildBitmap, all)
	} else if validBitmap&^mr.NeedsRebuildBitmap == 0 {
		requestf("%s has no readable position", operation)
	}

	mirrorLogger.Debugf(nil, "Running %s: WIDTH=(%d) SEED=(0x%x) COUNT=(%d) VALID=%s REBUILD=%s RAW=[%v]", operation, mr.Width, mr.Seed, mr.Count, validBitmap, mr.NeedsRebuildBitmap, mr.RawMirror)

	e.runBlocks(mr.ErrorBoard, mr.ErrorRegions, cursorSet(mr.Cursors), mr.Seed, mr.Count, func(beb *ErrorBoard, sectors []Sector, lba uint64) {
		mu := &mirrorUnit{
			sectors:            sectors,
			keys:               mr.Keys,
			validBitmap:        validBitmap,
			needsRebuildBitmap: mr.NeedsRebuildBitmap,
			seed:               lba,
			options:            mr.Options,
			rawMirror:          mr.RawMirror,
		}

		e.verifyMirrorUnit(beb, mu)

		if missing := mr.NeedsRebuildBitmap &^ beb.WriteBitmap; missing != 0 {
			e.invariantf("rebuilt mirror positions %s are not marked for write at (0x%x)", missing, lba)
		}
	})
}
