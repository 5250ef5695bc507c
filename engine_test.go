package raidxor

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dsoprea/go-logging"
	"github.com/stretchr/testify/assert"
)

func raiseInvariant(e *Engine) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = recoveredError(errRaw)
		}
	}()

	e.invariantf("position %s is in two states", MaskOf(2))

	return nil
}

func TestEngine_Invariant_Returned(t *testing.T) {
	e := NewEngine(EngineConfig{})

	err := raiseInvariant(e)
	if IsError(err, ErrInternalInvariant) != true {
		t.Fatalf("Invariant not returned as an error: %v", err)
	}
}

func TestEngine_Invariant_Panics(t *testing.T) {
	e := newTestEngine()

	assert.Panics(t, func() {
		raiseInvariant(e)
	})
}

func TestIsError(t *testing.T) {
	wrapped := log.Wrap(fmt.Errorf("%w: width", ErrInvalidRequest))

	assert.True(t, IsError(wrapped, ErrInvalidRequest))
	assert.False(t, IsError(wrapped, ErrInternalInvariant))
	assert.False(t, IsError(nil, ErrInvalidRequest))
	assert.True(t, IsError(ErrUnsupportedLegacyShed, ErrUnsupportedLegacyShed))
}

func TestRecoveredError_NotAnError(t *testing.T) {
	err := recoveredError("some string")

	assert.NotNil(t, err)
	assert.False(t, errors.Is(err, ErrInvalidRequest))
}

func TestValidateKeys(t *testing.T) {
	all := validateKeys([]PositionMask{MaskOf(0), MaskOf(5), MaskOf(3)})
	assert.Equal(t, MaskOf(0)|MaskOf(3)|MaskOf(5), all)

	invalid := [][]PositionMask{
		{MaskOf(0), MaskOf(0)},
		{MaskOf(0) | MaskOf(1)},
		{0},
	}

	for _, keys := range invalid {
		err := func() (err error) {
			defer func() {
				if errRaw := recover(); errRaw != nil {
					err = recoveredError(errRaw)
				}
			}()

			validateKeys(keys)
			return nil
		}()

		if IsError(err, ErrInvalidRequest) != true {
			t.Fatalf("Keys %v were not rejected.", keys)
		}
	}
}

func TestEngine_Tables_Shared(t *testing.T) {
	e := newTestEngine()

	assert.True(t, e.tables() == e.tables())
}

func TestEngine_ClassifiedErrorsAreTraced(t *testing.T) {
	e, rs := newTestEngineWithSink()

	ts := newR5Strip(e, 1)
	ts.sector(0, 0)[5] ^= 0x01

	pr := ts.parityRequest(r5Parity, nil, 0)

	err := e.VerifyParity(pr)
	log.PanicIf(err)

	entries := rs.Entries()
	if len(entries) == 0 {
		t.Fatalf("No trace entries.")
	}

	assert.Equal(t, MaskOf(0), entries[0].Positions)
	assert.Equal(t, ts.seed, entries[0].Lba)
	assert.Equal(t, testRaidGroupObjectID, entries[0].RaidGroupObjectID)
}
