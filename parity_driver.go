package raidxor

const (
	parityOptions = OptionCheckLbaStamp | OptionAllowInvalids | OptionDebug | OptionLogicalRequest
)

// ParityRequest verifies, rebuilds or reconstructs a strip of a RAID-5, RAID-3
// or RAID-6 unit.
type ParityRequest struct {
	Width   int
	Cursors []*SectorCursor
	Keys    []PositionMask

	// ParityPositions holds the row parity and, for RAID-6, the diagonal
	// parity.
	ParityPositions []int

	// RebuildPositions holds the positions to rebuild: at most one with a
	// single parity and two with dual parity.
	RebuildPositions []int

	Seed    uint64
	Count   int
	Options Option

	ErrorBoard   *ErrorBoard
	ErrorRegions *ErrorRegions
}

type parityMode int

const (
	parityModeVerify parityMode = iota
	parityModeRebuild
	parityModeReconstruct
)

// VerifyParity checks every block of the strip and repairs what the parity
// can repair.
func (e *Engine) VerifyParity(pr *ParityRequest) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = recoveredError(errRaw)
		}
	}()

	e.runParity("parity verify", pr, parityModeVerify)
	return nil
}

// RebuildParity regenerates the rebuild positions so they can be written to
// replacement drives.
func (e *Engine) RebuildParity(pr *ParityRequest) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = recoveredError(errRaw)
		}
	}()

	e.runParity("parity rebuild", pr, parityModeRebuild)
	return nil
}

// ReconstructParity regenerates the content of failed positions in memory for
// a degraded read. The failed positions are never marked for write.
func (e *Engine) ReconstructParity(pr *ParityRequest) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = recoveredError(errRaw)
		}
	}()

	e.runParity("parity reconstruct", pr, parityModeReconstruct)
	return nil
}

func (e *Engine) runParity(operation string, pr *ParityRequest, mode parityMode) {
	minWidth, maxWidth := r5MinWidth, r5MaxWidth
	if len(pr.ParityPositions) == 2 {
		minWidth, maxWidth = r6MinWidth, r6MaxWidth
	} else if len(pr.ParityPositions) != 1 {
		requestf("%s needs one or two parity positions: (%d)", operation, len(pr.ParityPositions))
	}

	validateStrip(operation, pr.Width, minWidth, maxWidth, pr.Cursors, pr.Keys, pr.Count, pr.ErrorBoard)
	validateOptions(operation, pr.Options, parityOptions)

	if mode == parityModeVerify && len(pr.RebuildPositions) != 0 {
		requestf("%s can not rebuild positions: %v", operation, pr.RebuildPositions)
	} else if mode != parityModeVerify && len(pr.RebuildPositions) == 0 {
		requestf("%s has no positions to rebuild", operation)
	}

	pl := newParityLayout(operation, pr.Keys, pr.ParityPositions, pr.RebuildPositions, len(pr.ParityPositions))

	parityLogger.Debugf(nil, "Running %s: %s SEED=(0x%x) COUNT=(%d) OPTIONS=%s", operation, pl, pr.Seed, pr.Count, pr.Options)

	e.runBlocks(pr.ErrorBoard, pr.ErrorRegions, cursorSet(pr.Cursors), pr.Seed, pr.Count, func(beb *ErrorBoard, sectors []Sector, lba uint64) {
		if pl.isR6() == true {
			e.evalParityUnitR6(beb, pl, sectors, lba, pr.Options)
		} else {
			e.evalParityUnit(beb, pl, sectors, lba, pr.Options)
		}

		if missing := pl.rebuildBitmap &^ beb.ModifiedBitmap; missing != 0 {
			e.invariantf("rebuilt positions %s were not modified at (0x%x)", missing, lba)
		}

		if mode == parityModeReconstruct {
			beb.WriteBitmap &^= pl.rebuildBitmap
		} else if missing := pl.rebuildBitmap &^ beb.WriteBitmap; missing != 0 {
			e.invariantf("rebuilt positions %s are not marked for write at (0x%x)", missing, lba)
		}
	})
}
