package raidxor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistorySink(t *testing.T) {
	hs := NewHistorySink(2)

	hs.Trace(TraceEntry{Lba: 1, Severity: TraceSeverityInfo})
	hs.Trace(TraceEntry{Lba: 2, Severity: TraceSeverityError})
	hs.Trace(TraceEntry{Lba: 3, Severity: TraceSeverityWarning})

	entries := hs.Entries()
	require.Equal(t, 2, len(entries))

	assert.Equal(t, uint64(2), entries[0].Lba)
	assert.Equal(t, uint64(3), entries[1].Lba)
	assert.Equal(t, 3, hs.Total())
}

func TestEngine_Trace(t *testing.T) {
	e, rs := newTestEngineWithSink()
	eb := newTestBoard()

	s := newTestSector()
	s.SetCrc(0x4321)

	e.trace(eb, s, MaskOf(3), 0x99, 2, TraceSeverityError, "test message")

	s.SetCrc(0)

	entries := rs.Entries()
	require.Equal(t, 1, len(entries))

	te := entries[0]

	assert.Equal(t, uint64(0x99), te.Lba)
	assert.Equal(t, MaskOf(3), te.Positions)
	assert.Equal(t, 2, te.BitDifference)
	assert.Equal(t, testRaidGroupObjectID, te.RaidGroupObjectID)
	assert.Equal(t, testRaidGroupOffset, te.RaidGroupOffset)
	assert.True(t, te.IsError)

	// The snapshot is private.
	assert.Equal(t, uint16(0x4321), te.Snapshot.Crc())
}

func TestNewEngine_DefaultSink(t *testing.T) {
	e := NewEngine(EngineConfig{})

	_, ok := e.TraceSink().(*HistorySink)
	assert.True(t, ok)
	assert.False(t, e.Config().PanicOnInvariant)
}
