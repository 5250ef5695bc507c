package raidxor

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/dsoprea/go-logging"

	goerrors "github.com/go-errors/errors"
)

var (
	engineLogger = log.NewLogger("raidxor.engine")
)

var (
	// ErrInvalidRequest is returned for malformed requests. No sector is
	// touched when it is returned.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInternalInvariant is returned when the engine detects a state that
	// should be impossible.
	ErrInternalInvariant = errors.New("internal invariant violated")

	// ErrInvalidObjectID is returned when an error board was never
	// associated with a raid-group.
	ErrInvalidObjectID = errors.New("error board has no raid-group")

	// ErrUnsupportedLegacyShed is returned when parity claims to hold shed
	// data for the position being rebuilt.
	ErrUnsupportedLegacyShed = errors.New("shed data recovery is not supported")
)

// IsError returns true if (err), or the error it wraps, is (target).
func IsError(err, target error) bool {
	if err == nil {
		return false
	}

	if wrapped, ok := err.(*goerrors.Error); ok == true {
		err = wrapped.Err
	}

	return errors.Is(err, target)
}

// fatalInvariant is panicked when invariant violations must not be recovered.
// It is deliberately not an error.
type fatalInvariant struct {
	message string
}

func (fi *fatalInvariant) String() string {
	return fi.message
}

// recoveredError converts a recovered panic into an error. Fatal invariant
// violations keep unwinding.
func recoveredError(errRaw interface{}) error {
	if fi, ok := errRaw.(*fatalInvariant); ok == true {
		panic(fi)
	}

	if err, ok := errRaw.(error); ok == true {
		return log.Wrap(err)
	}

	return log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(errRaw).Name(), errRaw)
}

// EngineConfig is fixed when the engine is built.
type EngineConfig struct {
	// PanicOnInvariant makes internal invariant violations panic instead of
	// being returned as errors. Debug builds and tests set it.
	PanicOnInvariant bool

	// TraceSink receives every classified error. A HistorySink is used if it
	// is nil.
	TraceSink TraceSink

	// TraceHistorySize bounds the default HistorySink.
	TraceHistorySize int
}

const (
	defaultTraceHistorySize = 64
)

// Engine runs the verify, rebuild, reconstruct and write algorithms. It holds
// no per-request state and may be shared by concurrent requests.
type Engine struct {
	config EngineConfig
	sink   TraceSink

	evenOddOnce   sync.Once
	evenOddTables *evenOddTables
}

// NewEngine returns a new engine.
func NewEngine(config EngineConfig) *Engine {
	sink := config.TraceSink
	if sink == nil {
		size := config.TraceHistorySize
		if size <= 0 {
			size = defaultTraceHistorySize
		}

		sink = NewHistorySink(size)
	}

	return &Engine{
		config: config,
		sink:   sink,
	}
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() EngineConfig {
	return e.config
}

// TraceSink returns the sink that receives the classified errors.
func (e *Engine) TraceSink() TraceSink {
	return e.sink
}

// tables returns the RAID-6 tables, building them on first use.
func (e *Engine) tables() *evenOddTables {
	e.evenOddOnce.Do(func() {
		e.evenOddTables = newEvenOddTables()
	})

	return e.evenOddTables
}

// invariantf reports an internal invariant violation. Depending on the
// configuration this either panics past every recover block or panics with an
// error that the enclosing operation returns.
func (e *Engine) invariantf(format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	err := fmt.Errorf("%w: %s", ErrInternalInvariant, message)

	engineLogger.Errorf(nil, err, "Internal invariant violated.")

	if e.config.PanicOnInvariant == true {
		panic(&fatalInvariant{message: message})
	}

	log.Panic(err)
}

// requestf fails a request for a malformed input.
func requestf(format string, args ...interface{}) {
	log.Panic(fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...)))
}

// validateKeys checks that every key is a single bit and that no key is
// used twice.
func validateKeys(keys []PositionMask) PositionMask {
	all := PositionMask(0)
	for i, key := range keys {
		if key.IsSingle() != true {
			requestf("position (%d) key is not a single position: %s", i, key)
		} else if all.Overlaps(key) == true {
			requestf("position (%d) key is used twice: %s", i, key)
		}

		all |= key
	}

	return all
}

// validateCursor checks that a cursor holds exactly (blocks) blocks.
func validateCursor(name string, sc *SectorCursor, blocks int) {
	if sc == nil {
		requestf("%s has no cursor", name)
	} else if remaining := sc.BlocksRemaining(); remaining != blocks {
		requestf("%s cursor holds (%d) blocks but (%d) are required", name, remaining, blocks)
	}
}

// validateStrip checks the shape that every verify and rebuild request shares
// and returns the union of the keys.
func validateStrip(operation string, width, minWidth, maxWidth int, cursors []*SectorCursor, keys []PositionMask, count int, eb *ErrorBoard) PositionMask {
	if eb == nil {
		requestf("%s has no error board", operation)
	} else if width < minWidth || width > maxWidth {
		requestf("%s width (%d) is not in [%d, %d]", operation, width, minWidth, maxWidth)
	} else if len(cursors) != width || len(keys) != width {
		requestf("%s has (%d) cursors and (%d) keys for width (%d)", operation, len(cursors), len(keys), width)
	} else if count <= 0 {
		requestf("%s block count must be positive: (%d)", operation, count)
	}

	all := validateKeys(keys)

	for i, sc := range cursors {
		validateCursor(fmt.Sprintf("%s position (%d)", operation, i), sc, count)
	}

	return all
}

// blockUnit processes the sectors of one block.
type blockUnit func(beb *ErrorBoard, sectors []Sector, lba uint64)

// runBlocks calls (unit) once per block with a fresh board, records the
// regions of that board, folds it into the aggregate and advances every
// cursor. Every cursor must be exhausted at the end.
func (e *Engine) runBlocks(eb *ErrorBoard, ers *ErrorRegions, cursors cursorSet, seed uint64, count int, unit blockUnit) {
	for block := 0; block < count; block++ {
		lba := seed + uint64(block)
		beb := eb.blockBoard()

		unit(beb, cursors.sectors(), lba)

		if overlap := beb.correctedOverlap(); overlap != 0 {
			e.invariantf("positions %s are both correctable and uncorrectable at (0x%x)", overlap, lba)
		}

		if ers != nil {
			ers.recordBlock(beb, lba)
		}

		eb.Fold(beb)
		cursors.advance(1)
	}

	if empty := cursors.emptyCount(); empty != len(cursors) {
		e.invariantf("only (%d) of (%d) cursors are exhausted after (%d) blocks", empty, len(cursors), count)
	}
}
