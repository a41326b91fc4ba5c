package examples

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
)

// Records are framed with a CRC-protected length header so a truncated or
// corrupted shard fails loudly instead of yielding garbage records:
//
//	uint64 payload length (little endian)
//	uint32 masked crc32c of the length bytes
//	payload (JSON-encoded Record)
//	uint32 masked crc32c of the payload

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

const crcMaskDelta = 0xa282ead8

func maskedCRC(data []byte) uint32 {
	c := crc32.Checksum(data, castagnoli)
	return ((c >> 15) | (c << 17)) + crcMaskDelta
}

// WriteRecord appends one framed record.
func WriteRecord(w io.Writer, rec *Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", rec.ExampleID, err)
	}
	var hdr [12]byte
	binary.LittleEndian.PutUint64(hdr[:8], uint64(len(payload)))
	binary.LittleEndian.PutUint32(hdr[8:], maskedCRC(hdr[:8]))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	var tail [4]byte
	binary.LittleEndian.PutUint32(tail[:], maskedCRC(payload))
	_, err = w.Write(tail[:])
	return err
}

// ReadRecord reads the next framed record. Returns io.EOF cleanly at the
// end of the stream.
func ReadRecord(r *bufio.Reader) (*Record, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("truncated record header")
		}
		return nil, err
	}
	length := binary.LittleEndian.Uint64(hdr[:8])
	if got := binary.LittleEndian.Uint32(hdr[8:]); got != maskedCRC(hdr[:8]) {
		return nil, fmt.Errorf("record length checksum mismatch")
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("truncated record payload: %w", err)
	}
	var tail [4]byte
	if _, err := io.ReadFull(r, tail[:]); err != nil {
		return nil, fmt.Errorf("truncated record checksum: %w", err)
	}
	if got := binary.LittleEndian.Uint32(tail[:]); got != maskedCRC(payload) {
		return nil, fmt.Errorf("record payload checksum mismatch")
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &rec, nil
}

// ReadAll decodes every record in a stream.
func ReadAll(r io.Reader) ([]*Record, error) {
	br := bufio.NewReader(r)
	var recs []*Record
	for {
		rec, err := ReadRecord(br)
		if err == io.EOF {
			return recs, nil
		}
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
}
