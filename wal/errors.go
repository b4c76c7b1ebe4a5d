// Package wal implements the write-ahead log that makes multi-label
// updates durable and recoverable across crashes: every batch of label
// moves is appended and fsynced before the label files themselves are
// rewritten, and a checkpoint record marks how far recovery can skip.
package wal

import "errors"

var (
	// ErrUnknownRecordType is returned when a record's type byte is
	// neither LabelSet (0) nor Checkpoint (1).
	ErrUnknownRecordType = errors.New("wal: unknown record type")

	// ErrZeroEntries is returned for a LabelSet record declaring zero
	// entries — spec.md §4.8 requires count in [1, 100].
	ErrZeroEntries = errors.New("wal: label set with zero entries")

	// ErrTooManyEntries is returned for a LabelSet record declaring
	// more than 100 entries.
	ErrTooManyEntries = errors.New("wal: label set exceeds 100 entries")

	// ErrInvalidLength is returned when a record's declared length
	// does not match the bytes actually read for it.
	ErrInvalidLength = errors.New("wal: invalid record length")

	// ErrCRCMismatch is returned when a record's trailing checksum does
	// not match the CRC-32 IEEE of its type-and-payload bytes.
	ErrCRCMismatch = errors.New("wal: crc mismatch")

	// ErrLabelTooLong is returned for a label name of 256 bytes or more.
	ErrLabelTooLong = errors.New("wal: label name too long")

	// ErrTornRecord is returned internally when a record is truncated
	// mid-stream; callers see it surface as a truncation during Open,
	// never as a propagated error.
	ErrTornRecord = errors.New("wal: torn record")
)
