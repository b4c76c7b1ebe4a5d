package wal

import (
	"encoding/binary"
	"hash/crc32"
)

type decoderState int

const (
	stateStart decoderState = iota
	stateLabelSetNumEntries
	stateLabelSetEntry
	stateLabelSetIndex
	stateCheckpointBody
	stateReadLength
	stateReadChecksum
)

// decoder is the streaming state machine spec.md §4.8 calls for: it
// consumes bytes from the front of a buffer as they become available
// and never holds more than one partially parsed record's worth of
// state between calls, mirroring original_source's WalFileDecoder.
type decoder struct {
	state   decoderState
	body    []byte // type byte + payload accumulated so far for the in-flight record
	entries int    // LabelSet entries still to read
	length  uint32 // declared record length, valid once stateReadChecksum is reached
}

// decode advances through *buf, consuming as many complete fields as
// are available. It returns (raw, true, nil) once a full record's type
// and payload bytes (length- and CRC-checked) have been read, leaving
// any trailing bytes in *buf for the next record. It returns (nil,
// false, nil) when buf is exhausted mid-record — the caller should feed
// more bytes and call again, or treat remaining buf as a torn trailing
// record if no more bytes are coming. A non-nil error means buf
// contains unrecoverable garbage (unknown type, bad length, bad CRC).
func (d *decoder) decode(buf *[]byte) ([]byte, bool, error) {
	for {
		switch d.state {
		case stateStart:
			if len(*buf) == 0 {
				return nil, false, nil
			}
			typ := (*buf)[0]
			switch typ {
			case typeLabelSet:
				d.body = append(d.body[:0], typ)
				*buf = (*buf)[1:]
				d.state = stateLabelSetNumEntries
			case typeCheckpoint:
				d.body = append(d.body[:0], typ)
				*buf = (*buf)[1:]
				d.state = stateCheckpointBody
			default:
				return nil, false, ErrUnknownRecordType
			}

		case stateLabelSetNumEntries:
			if len(*buf) == 0 {
				return nil, false, nil
			}
			n := int((*buf)[0])
			if n == 0 {
				return nil, false, ErrZeroEntries
			}
			if n > MaxEntries {
				return nil, false, ErrTooManyEntries
			}
			d.body = append(d.body, (*buf)[0])
			*buf = (*buf)[1:]
			d.entries = n
			d.state = stateLabelSetEntry

		case stateLabelSetEntry:
			if d.entries == 0 {
				d.state = stateLabelSetIndex
				continue
			}
			if len(*buf) < 1 {
				return nil, false, nil
			}
			labelLen := int((*buf)[0])
			total := 1 + labelLen + 20
			if len(*buf) < total {
				return nil, false, nil
			}
			d.body = append(d.body, (*buf)[:total]...)
			*buf = (*buf)[total:]
			d.entries--

		case stateLabelSetIndex:
			if len(*buf) < 4 {
				return nil, false, nil
			}
			d.body = append(d.body, (*buf)[:4]...)
			*buf = (*buf)[4:]
			d.state = stateReadLength

		case stateCheckpointBody:
			if len(*buf) < 4 {
				return nil, false, nil
			}
			d.body = append(d.body, (*buf)[:4]...)
			*buf = (*buf)[4:]
			d.state = stateReadLength

		case stateReadLength:
			if len(*buf) < 4 {
				return nil, false, nil
			}
			d.length = binary.BigEndian.Uint32((*buf)[:4])
			*buf = (*buf)[4:]
			d.state = stateReadChecksum

		case stateReadChecksum:
			if len(*buf) < 4 {
				return nil, false, nil
			}
			checksum := binary.BigEndian.Uint32((*buf)[:4])
			*buf = (*buf)[4:]

			if int(d.length) != len(d.body) {
				d.reset()
				return nil, false, ErrInvalidLength
			}
			if computed := crc32.ChecksumIEEE(d.body); computed != checksum {
				d.reset()
				return nil, false, ErrCRCMismatch
			}

			raw := append([]byte(nil), d.body...)
			d.reset()
			return raw, true, nil
		}
	}
}

// pending reports whether a record is currently mid-parse — used to
// detect a torn trailing record once the input is exhausted.
func (d *decoder) pending() bool {
	return d.state != stateStart
}

func (d *decoder) reset() {
	d.body = d.body[:0]
	d.entries = 0
	d.length = 0
	d.state = stateStart
}

// decodedRecord is a fully validated type+payload body, parsed into its
// concrete record.
type decodedRecord struct {
	isCheckpoint bool
	labelSet     LabelSet
	checkpoint   Checkpoint
}

// parseBody interprets a decoder-validated raw body (type byte plus
// payload) into its concrete record.
func parseBody(raw []byte) (decodedRecord, error) {
	typ := raw[0]
	payload := raw[1:]
	switch typ {
	case typeLabelSet:
		ls, err := parseLabelSetPayload(payload)
		if err != nil {
			return decodedRecord{}, err
		}
		return decodedRecord{labelSet: ls}, nil
	case typeCheckpoint:
		cp, err := parseCheckpointPayload(payload)
		if err != nil {
			return decodedRecord{}, err
		}
		return decodedRecord{isCheckpoint: true, checkpoint: cp}, nil
	default:
		return decodedRecord{}, ErrUnknownRecordType
	}
}
