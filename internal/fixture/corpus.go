package fixture

import (
	"encoding/binary"
	"fmt"

	"github.com/zeebo/blake3"

	"SessionBench/internal/identity"
)

// DuplicateIdentityError reports an identity sharing an account or key with
// an earlier one. It indicates a broken identity source.
type DuplicateIdentityError struct {
	Index    uint64 // Index is the identity being added
	Previous uint64 // Previous is the index already holding the value
	Field    string // Field names the colliding value
}

// Error implements error.
func (e *DuplicateIdentityError) Error() string {
	return fmt.Sprintf("duplicate identity: %s of index %d already used by index %d", e.Field, e.Index, e.Previous)
}

// Corpus is an ordered set of records with pairwise distinct accounts and keys.
type Corpus struct {
	records  []Record
	accounts map[identity.AccountRef]uint64 // participant and controller accounts
	keys     map[string]uint64              // role byte || public key
}

// newCorpus creates an empty corpus sized for n records.
func newCorpus(n int) *Corpus {
	return &Corpus{
		records:  make([]Record, 0, n),
		accounts: make(map[identity.AccountRef]uint64, 2*n),
		keys:     make(map[string]uint64, n*len(identity.RequiredRoles())),
	}
}

// Len returns the number of records.
func (c *Corpus) Len() int {
	return len(c.records)
}

// Record returns the record at position i.
func (c *Corpus) Record(i int) Record {
	return c.records[i]
}

// Records returns a copy of all records in index order.
func (c *Corpus) Records() []Record {
	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out
}

// Check returns a *DuplicateIdentityError if id shares an account or a key
// with a record already in the corpus, or with itself.
func (c *Corpus) Check(id identity.Identity) error {
	if id.Participant == id.Controller {
		return &DuplicateIdentityError{Index: id.Index, Previous: id.Index, Field: "controller"}
	}

	if prev, ok := c.accounts[id.Participant]; ok {
		return &DuplicateIdentityError{Index: id.Index, Previous: prev, Field: "participant"}
	}

	if prev, ok := c.accounts[id.Controller]; ok {
		return &DuplicateIdentityError{Index: id.Index, Previous: prev, Field: "controller"}
	}

	seen := make(map[string]bool, len(id.Keys.Keys))
	for _, key := range id.Keys.Keys {
		k := keyID(key)

		if prev, ok := c.keys[k]; ok {
			return &DuplicateIdentityError{Index: id.Index, Previous: prev, Field: key.Role.String() + " key"}
		}

		if seen[k] {
			return &DuplicateIdentityError{Index: id.Index, Previous: id.Index, Field: key.Role.String() + " key"}
		}
		seen[k] = true
	}

	return nil
}

// Fingerprint hashes every record's accounts and key material in index order.
// Two corpora built from the same seed and size have the same fingerprint.
func (c *Corpus) Fingerprint() [32]byte {
	h := blake3.New()

	var buf [8]byte
	for _, rec := range c.records {
		binary.LittleEndian.PutUint64(buf[:], rec.Index)
		h.Write(buf[:])
		h.Write(rec.Participant[:])
		h.Write(rec.Controller[:])

		for i, key := range rec.Keys.Keys {
			h.Write([]byte{byte(key.Role)})
			writeBytes(h, buf[:4], key.Bytes)
			writeBytes(h, buf[:4], rec.Keys.Proof[i])
		}
	}

	var out [32]byte
	h.Sum(out[:0])

	return out
}

// add appends rec and indexes its accounts and keys.
// The caller must have checked rec's identity.
func (c *Corpus) add(rec Record) {
	c.records = append(c.records, rec)
	c.accounts[rec.Participant] = rec.Index
	c.accounts[rec.Controller] = rec.Index

	for _, key := range rec.Keys.Keys {
		c.keys[keyID(key)] = rec.Index
	}
}

// keyID returns the map key of a public key.
func keyID(key identity.PublicKey) string {
	return string(append([]byte{byte(key.Role)}, key.Bytes...))
}

// writeBytes writes a u32 length prefix and data.
func writeBytes(h *blake3.Hasher, lenBuf []byte, data []byte) {
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(data)))
	h.Write(lenBuf)
	h.Write(data)
}
