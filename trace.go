package raidxor

import (
	"fmt"
	"sync"

	"github.com/dsoprea/go-logging"
)

var (
	traceLogger = log.NewLogger("raidxor.trace")
)

// TraceSeverity orders trace entries.
type TraceSeverity int

const (
	TraceSeverityInfo TraceSeverity = iota
	TraceSeverityWarning
	TraceSeverityError
	TraceSeverityCritical
)

func (ts TraceSeverity) String() string {
	switch ts {
	case TraceSeverityInfo:
		return "info"
	case TraceSeverityWarning:
		return "warning"
	case TraceSeverityError:
		return "error"
	case TraceSeverityCritical:
		return "critical"
	}

	return fmt.Sprintf("unknown(%d)", int(ts))
}

// TraceEntry is what the engine reports for every classified error.
type TraceEntry struct {
	Lba               uint64
	Positions         PositionMask
	BitDifference     int
	RaidGroupObjectID uint32
	RaidGroupOffset   uint64

	// Snapshot is a private copy of the offending sector.
	Snapshot Sector

	Message  string
	Severity TraceSeverity
	IsError  bool
}

func (te TraceEntry) String() string {
	return fmt.Sprintf("TraceEntry<LBA=(0x%x) POSITIONS=%s BITS=(%d) RG=(0x%x) SEVERITY=[%s] MESSAGE=[%s]>", te.Lba, te.Positions, te.BitDifference, te.RaidGroupObjectID, te.Severity, te.Message)
}

// TraceSink receives trace entries. Implementations must be safe for
// concurrent use because an engine may serve concurrent requests.
type TraceSink interface {
	Trace(te TraceEntry)
}

// HistorySink logs every entry and keeps the most recent ones.
type HistorySink struct {
	mu sync.Mutex

	entries  []TraceEntry
	next     int
	capacity int
	total    int
}

// NewHistorySink returns a sink that remembers (capacity) entries.
func NewHistorySink(capacity int) *HistorySink {
	if capacity <= 0 {
		log.Panicf("history capacity must be positive: (%d)", capacity)
	}

	return &HistorySink{
		entries:  make([]TraceEntry, 0, capacity),
		capacity: capacity,
	}
}

// Trace records an entry.
func (hs *HistorySink) Trace(te TraceEntry) {
	if te.Severity >= TraceSeverityError {
		traceLogger.Warningf(nil, "%s", te)
	} else {
		traceLogger.Debugf(nil, "%s", te)
	}

	hs.mu.Lock()
	defer hs.mu.Unlock()

	hs.total++

	if len(hs.entries) < hs.capacity {
		hs.entries = append(hs.entries, te)
		return
	}

	hs.entries[hs.next] = te
	hs.next = (hs.next + 1) % hs.capacity
}

// Entries returns the remembered entries, oldest first.
func (hs *HistorySink) Entries() []TraceEntry {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	ordered := make([]TraceEntry, 0, len(hs.entries))
	ordered = append(ordered, hs.entries[hs.next:]...)
	ordered = append(ordered, hs.entries[:hs.next]...)

	return ordered
}

// Total returns how many entries were ever traced.
func (hs *HistorySink) Total() int {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	return hs.total
}

// trace sends one entry to the sink.
func (e *Engine) trace(eb *ErrorBoard, s Sector, key PositionMask, lba uint64, bitDifference int, severity TraceSeverity, message string) {
	te := TraceEntry{
		Lba:               lba,
		Positions:         key,
		BitDifference:     bitDifference,
		RaidGroupObjectID: eb.RaidGroupObjectID,
		RaidGroupOffset:   eb.RaidGroupOffset,
		Message:           message,
		Severity:          severity,
		IsError:           severity >= TraceSeverityError,
	}

	if s != nil {
		te.Snapshot = s.Clone()
	}

	e.sink.Trace(te)
}
