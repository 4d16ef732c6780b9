// Package snapshot serializes a ledger store into a compressed, checksummed
// blob and computes content digests used to compare ledger states.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"SessionBench/internal/storage"
)

const (
	// formatVersion is the current snapshot format version.
	formatVersion = 1

	// headerSize is the version byte plus the payload checksum.
	headerSize = 1 + 32
)

var (
	// ErrUnsupportedVersion is returned for a snapshot written by another format version.
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")

	// ErrChecksumMismatch is returned when the payload does not match its checksum.
	ErrChecksumMismatch = errors.New("snapshot checksum mismatch")

	// ErrTruncated is returned when the snapshot ends mid-record.
	ErrTruncated = errors.New("truncated snapshot")

	// ErrNotEmpty is returned when restoring into a store that already holds keys.
	ErrNotEmpty = errors.New("restore target is not empty")
)

// Info describes a snapshot.
type Info struct {
	Version    uint8    // Version is the format version
	Entries    int      // Entries is the number of key-value pairs
	RawSize    int      // RawSize is the uncompressed payload size
	Compressed int      // Compressed is the size of the whole blob
	Checksum   [32]byte // Checksum is the BLAKE3 hash of the payload
}

// Create serializes every key-value pair of db.
// Layout: version (1) || blake3(payload) (32) || zstd(payload).
func Create(db *storage.Storage) ([]byte, Info, error) {
	payload, count, err := collect(db)
	if err != nil {
		return nil, Info{}, fmt.Errorf("collect entries:\n%w", err)
	}

	compressed, err := compress(payload)
	if err != nil {
		return nil, Info{}, err
	}

	checksum := blake3.Sum256(payload)

	out := make([]byte, 0, headerSize+len(compressed))
	out = append(out, formatVersion)
	out = append(out, checksum[:]...)
	out = append(out, compressed...)

	return out, Info{
		Version:    formatVersion,
		Entries:    count,
		RawSize:    len(payload),
		Compressed: len(out),
		Checksum:   checksum,
	}, nil
}

// Restore verifies data and writes its entries into db atomically.
// db must be empty, so the restored store holds exactly the snapshot.
func Restore(db *storage.Storage, data []byte) (Info, error) {
	pairs, info, err := Decode(data)
	if err != nil {
		return Info{}, err
	}

	empty, err := db.IsEmpty()
	if err != nil {
		return Info{}, fmt.Errorf("inspect target:\n%w", err)
	}

	if !empty {
		return Info{}, ErrNotEmpty
	}

	if err := db.SetBatch(pairs); err != nil {
		return Info{}, fmt.Errorf("write entries:\n%w", err)
	}

	return info, nil
}

// Decode verifies data and returns its entries in key order.
func Decode(data []byte) ([]storage.KeyValue, Info, error) {
	if len(data) < headerSize {
		return nil, Info{}, fmt.Errorf("%w: %d byte header", ErrTruncated, len(data))
	}

	if data[0] != formatVersion {
		return nil, Info{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, data[0])
	}

	payload, err := decompress(data[headerSize:])
	if err != nil {
		return nil, Info{}, err
	}

	checksum := blake3.Sum256(payload)
	if !bytes.Equal(checksum[:], data[1:headerSize]) {
		return nil, Info{}, ErrChecksumMismatch
	}

	pairs, err := parse(payload)
	if err != nil {
		return nil, Info{}, err
	}

	return pairs, Info{
		Version:    data[0],
		Entries:    len(pairs),
		RawSize:    len(payload),
		Compressed: len(data),
		Checksum:   checksum,
	}, nil
}

// Digest hashes every key-value pair of db in key order.
// Two stores with the same live contents have the same digest.
func Digest(db *storage.Storage) ([32]byte, error) {
	h := blake3.New()

	var lenBuf [4]byte
	h.Write([]byte{formatVersion})

	err := db.Iterate(func(key, value []byte) error {
		writeRecord(h, lenBuf[:], key, value)
		return nil
	})
	if err != nil {
		return [32]byte{}, fmt.Errorf("iterate:\n%w", err)
	}

	var out [32]byte
	h.Sum(out[:0])

	return out, nil
}

// collect encodes all entries of db as length-prefixed records.
// Pebble visits keys in order, so the payload is canonical.
func collect(db *storage.Storage) ([]byte, int, error) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	count := 0

	err := db.Iterate(func(key, value []byte) error {
		writeRecord(&buf, lenBuf[:], key, value)
		count++
		return nil
	})

	return buf.Bytes(), count, err
}

// writeRecord writes u32 len(key) || key || u32 len(value) || value.
func writeRecord(w io.Writer, lenBuf, key, value []byte) {
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(key)))
	w.Write(lenBuf)
	w.Write(key)

	binary.LittleEndian.PutUint32(lenBuf, uint32(len(value)))
	w.Write(lenBuf)
	w.Write(value)
}

// parse decodes length-prefixed records.
func parse(payload []byte) ([]storage.KeyValue, error) {
	var pairs []storage.KeyValue

	for len(payload) > 0 {
		key, rest, err := readField(payload)
		if err != nil {
			return nil, fmt.Errorf("record %d key:\n%w", len(pairs), err)
		}

		value, rest, err := readField(rest)
		if err != nil {
			return nil, fmt.Errorf("record %d value:\n%w", len(pairs), err)
		}

		pairs = append(pairs, storage.KeyValue{Key: key, Value: value})
		payload = rest
	}

	return pairs, nil
}

// readField reads one u32-length-prefixed field.
func readField(data []byte) ([]byte, []byte, error) {
	if len(data) < 4 {
		return nil, nil, ErrTruncated
	}

	n := binary.LittleEndian.Uint32(data[:4])
	data = data[4:]

	if uint64(len(data)) < uint64(n) {
		return nil, nil, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, n, len(data))
	}

	return data[:n], data[n:], nil
}

// compress compresses data using zstd.
func compress(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, nil), nil
}

// decompress decompresses zstd data.
func decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}
	defer decoder.Close()

	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress:\n%w", err)
	}

	return out, nil
}
