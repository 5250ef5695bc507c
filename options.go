package raidxor

import (
	"fmt"
	"strings"

	"github.com/dsoprea/go-logging"
)

// Option selects the checks and side-effects of an operation.
type Option uint32

const (
	// OptionCheckCrc verifies the checksum of every sector read.
	OptionCheckCrc Option = 1 << iota

	// OptionCheckLbaStamp verifies lba-stamps.
	OptionCheckLbaStamp

	// OptionGenerateCrc stores a freshly calculated checksum.
	OptionGenerateCrc

	// OptionGenerateLbaStamp stores a freshly calculated lba-stamp.
	OptionGenerateLbaStamp

	// OptionAllowInvalids accepts properly invalidated sectors without
	// reporting them as errors.
	OptionAllowInvalids

	// OptionDebug treats any checksum error as an internal failure.
	OptionDebug

	// OptionValidateData requires the sectors to hold the zeroed pattern.
	OptionValidateData

	// OptionCorruptCrc invalidates the sectors with the corrupt-crc reason.
	// It is only used to inject errors.
	OptionCorruptCrc

	// OptionCorruptData invalidates the sectors with the corrupt-data
	// reason. It is only used to inject errors.
	OptionCorruptData

	// OptionLogicalRequest says the seed is a logical (host) lba, so the lba
	// embedded in an invalidated sector must match it.
	OptionLogicalRequest

	// OptionIgnoreInvalidates copies invalidated sectors without reporting
	// them.
	OptionIgnoreInvalidates

	optionLast
)

var (
	optionNames = map[Option]string{
		OptionCheckCrc:          "check-crc",
		OptionCheckLbaStamp:     "check-lba-stamp",
		OptionGenerateCrc:       "generate-crc",
		OptionGenerateLbaStamp:  "generate-lba-stamp",
		OptionAllowInvalids:     "allow-invalids",
		OptionDebug:             "debug",
		OptionValidateData:      "validate-data",
		OptionCorruptCrc:        "corrupt-crc",
		OptionCorruptData:       "corrupt-data",
		OptionLogicalRequest:    "logical-request",
		OptionIgnoreInvalidates: "ignore-invalidates",
	}
)

func (o Option) Has(flag Option) bool {
	return o&flag == flag
}

func (o Option) String() string {
	if o == 0 {
		return "[]"
	}

	parts := make([]string, 0)
	for flag := Option(1); flag < optionLast; flag <<= 1 {
		if o&flag != 0 {
			parts = append(parts, optionNames[flag])
		}
	}

	if o&^(optionLast-1) != 0 {
		parts = append(parts, fmt.Sprintf("unknown(0x%x)", uint32(o&^(optionLast-1))))
	}

	return fmt.Sprintf("[%s]", strings.Join(parts, ","))
}

// checkLbaForInvalidated says whether the lba embedded in an invalidated
// sector must match the seed.
func (o Option) checkLbaForInvalidated() bool {
	return o.Has(OptionLogicalRequest)
}

// validateOptions fails if (options) holds a flag outside of (allowed) or a
// combination that can not be honored.
func validateOptions(operation string, options, allowed Option) {
	if unsupported := options &^ allowed; unsupported != 0 {
		log.Panic(fmt.Errorf("%w: %s does not support options %s", ErrInvalidRequest, operation, unsupported))
	}

	if options.Has(OptionCorruptCrc|OptionCorruptData) == true {
		log.Panic(fmt.Errorf("%w: %s can not corrupt both the checksum and the data", ErrInvalidRequest, operation))
	}

	if options&(OptionCorruptCrc|OptionCorruptData) != 0 && options&(OptionCheckCrc|OptionCheckLbaStamp|OptionValidateData) != 0 {
		log.Panic(fmt.Errorf("%w: %s can not inject errors while checking", ErrInvalidRequest, operation))
	}

	if options.Has(OptionGenerateCrc) == true && options.Has(OptionCheckCrc) == true {
		log.Panic(fmt.Errorf("%w: %s can not both generate and check checksums", ErrInvalidRequest, operation))
	}

	if options.Has(OptionGenerateLbaStamp) == true && options.Has(OptionCheckLbaStamp) == true {
		log.Panic(fmt.Errorf("%w: %s can not both generate and check lba-stamps", ErrInvalidRequest, operation))
	}
}

// Status is the data-quality result of the stamp and write operations. It is
// a bitmask; StatusNoError is zero.
type Status uint32

const (
	StatusNoError Status = 0
)

const (
	// StatusChecksumError is reported for both checksum and lba-stamp
	// mismatches.
	StatusChecksumError Status = 1 << iota

	StatusCoherencyError
	StatusTimeStampError
	StatusWriteStampError
	StatusShedStampError

	// StatusBadMemory is reported when data handed to us for writing has a
	// bad checksum that is not a known invalidation.
	StatusBadMemory

	// StatusBadMetadata is reported for stamps that are not legal on their
	// own.
	StatusBadMetadata

	// StatusConsistencyError is reported for stamps that disagree with
	// parity.
	StatusConsistencyError

	// StatusUnexpectedData is reported when data does not hold the expected
	// pattern.
	StatusUnexpectedData
)

func (s Status) Has(flag Status) bool {
	return s&flag == flag
}

func (s Status) String() string {
	if s == StatusNoError {
		return "no-error"
	}

	names := []struct {
		flag Status
		name string
	}{
		{StatusChecksumError, "checksum-error"},
		{StatusCoherencyError, "coherency-error"},
		{StatusTimeStampError, "time-stamp-error"},
		{StatusWriteStampError, "write-stamp-error"},
		{StatusShedStampError, "shed-stamp-error"},
		{StatusBadMemory, "bad-memory"},
		{StatusBadMetadata, "bad-metadata"},
		{StatusConsistencyError, "consistency-error"},
		{StatusUnexpectedData, "unexpected-data"},
	}

	parts := make([]string, 0)
	for _, n := range names {
		if s&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}

	return strings.Join(parts, "|")
}
