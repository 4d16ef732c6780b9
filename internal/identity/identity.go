// Package identity derives deterministic participant identities and session
// key material from an integer index and a fixed seed.
//
// Nothing here is meant to be secret: the derivation only has to be
// reproducible across runs and collision-free across indices.
package identity

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"
)

// DefaultSeed is the domain-separation seed used when none is configured.
const DefaultSeed = "sessionbench/identity/v1"

var (
	// ErrMalformedSeed is returned when the generator seed cannot be used.
	ErrMalformedSeed = errors.New("malformed identity seed")
)

// Derivation tags. None is a prefix of another.
const (
	tagParticipant = "participant"
	tagController  = "controller"
	tagSession     = "session/"
)

// AccountRef is an ed25519 public key standing for a participant or a controller.
type AccountRef [32]byte

// String returns the hex encoding of the account.
func (a AccountRef) String() string {
	return hex.EncodeToString(a[:])
}

// Short returns the first 4 bytes in hex, for log lines.
func (a AccountRef) Short() string {
	return hex.EncodeToString(a[:4])
}

// IsZero reports whether the account is unset.
func (a AccountRef) IsZero() bool {
	return a == AccountRef{}
}

// Identity is everything the fixture needs to enroll one participant.
type Identity struct {
	Index       uint64      // Index is the generator index this identity was derived from
	Participant AccountRef  // Participant is the account seeking validator status
	Controller  AccountRef  // Controller submits key operations for Participant
	Keys        KeyMaterial // Keys is the initial session key material owned by Participant
}

// Equal reports whether two identities are bit-identical.
func (id Identity) Equal(other Identity) bool {
	return id.Index == other.Index &&
		id.Participant == other.Participant &&
		id.Controller == other.Controller &&
		id.Keys.Equal(other.Keys)
}

// Source produces identities. Implementations must be pure: the same index
// always yields the same result.
type Source interface {
	// IdentityFor derives the identity at index.
	IdentityFor(index uint64) (Identity, error)

	// KeysFor derives the key material at index bound to owner.
	KeysFor(index uint64, owner AccountRef) (KeyMaterial, error)
}

// Generator derives identities by hashing the seed, a purpose tag and the index.
type Generator struct {
	seed []byte
}

// NewGenerator creates a generator for the given seed.
// An empty seed is a configuration error.
func NewGenerator(seed []byte) (*Generator, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("%w: seed is empty", ErrMalformedSeed)
	}

	if len(seed) > 1<<16 {
		return nil, fmt.Errorf("%w: seed is %d bytes", ErrMalformedSeed, len(seed))
	}

	return &Generator{seed: bytes.Clone(seed)}, nil
}

// IdentityFor derives the participant, controller and initial keys at index.
func (g *Generator) IdentityFor(index uint64) (Identity, error) {
	participant := g.account(tagParticipant, index)

	keys, err := g.KeysFor(index, participant)
	if err != nil {
		return Identity{}, fmt.Errorf("derive keys for index %d:\n%w", index, err)
	}

	return Identity{
		Index:       index,
		Participant: participant,
		Controller:  g.account(tagController, index),
		Keys:        keys,
	}, nil
}

// KeysFor derives one key per role from index and signs each over owner.
// The keys depend only on index; the proof depends on index and owner.
func (g *Generator) KeysFor(index uint64, owner AccountRef) (KeyMaterial, error) {
	roles := RequiredRoles()
	km := KeyMaterial{
		Keys:  make([]PublicKey, 0, len(roles)),
		Proof: make(OwnershipProof, 0, len(roles)),
	}

	for _, role := range roles {
		seed := g.derive(tagSession+role.String(), index)

		pub, sig, err := signOwnership(role, seed, owner)
		if err != nil {
			return KeyMaterial{}, fmt.Errorf("derive %s key:\n%w", role, err)
		}

		km.Keys = append(km.Keys, PublicKey{Role: role, Bytes: pub})
		km.Proof = append(km.Proof, sig)
	}

	return km, nil
}

// account derives an ed25519 account for tag and index.
func (g *Generator) account(tag string, index uint64) AccountRef {
	seed := g.derive(tag, index)
	pub := ed25519.NewKeyFromSeed(seed[:]).Public().(ed25519.PublicKey)

	var ref AccountRef
	copy(ref[:], pub)

	return ref
}

// derive computes BLAKE3(len(seed) || seed || tag || 0x00 || index).
func (g *Generator) derive(tag string, index uint64) [32]byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(g.seed)))

	var idxBuf [8]byte
	binary.LittleEndian.PutUint64(idxBuf[:], index)

	h := blake3.New()
	h.Write(lenBuf[:])
	h.Write(g.seed)
	h.Write([]byte(tag))
	h.Write([]byte{0})
	h.Write(idxBuf[:])

	var out [32]byte
	h.Sum(out[:0])

	return out
}
