package identity

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"
)

// ownershipDomain prefixes every ownership proof message.
const ownershipDomain = "sessionbench-key-ownership"

var (
	// ErrProofMismatch is returned when the proof does not carry one signature per key.
	ErrProofMismatch = errors.New("proof does not match keys")

	// ErrBadSignature is returned when a key's ownership signature does not verify.
	ErrBadSignature = errors.New("bad ownership signature")

	// ErrUnknownRole is returned for a key whose role is not recognized.
	ErrUnknownRole = errors.New("unknown key role")
)

// Role tags what a session key is used for.
type Role uint8

const (
	RoleBlock     Role = iota + 1 // RoleBlock signs authored blocks (ed25519)
	RoleFinality                  // RoleFinality signs finality votes (ed25519)
	RoleAggregate                 // RoleAggregate signs aggregated attestations (BLS12-381)
)

// RequiredRoles returns the roles every key material carries, in canonical order.
func RequiredRoles() []Role {
	return []Role{RoleBlock, RoleFinality, RoleAggregate}
}

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleBlock:
		return "block"
	case RoleFinality:
		return "finality"
	case RoleAggregate:
		return "aggregate"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// keySize returns the public key length for the role, or 0 if unknown.
func (r Role) keySize() int {
	switch r {
	case RoleBlock, RoleFinality:
		return ed25519.PublicKeySize
	case RoleAggregate:
		return BLSPublicKeySize
	default:
		return 0
	}
}

// PublicKey is a role-tagged public key.
type PublicKey struct {
	Role  Role
	Bytes []byte
}

// OwnershipProof holds one signature per key, in key order.
type OwnershipProof [][]byte

// KeyMaterial is the key bundle a participant presents for a session.
type KeyMaterial struct {
	Keys  []PublicKey    // Keys are ordered by RequiredRoles
	Proof OwnershipProof // Proof binds each key to the owning account
}

// Equal reports whether both bundles carry the same keys and proofs.
func (k KeyMaterial) Equal(other KeyMaterial) bool {
	if len(k.Keys) != len(other.Keys) || len(k.Proof) != len(other.Proof) {
		return false
	}

	for i := range k.Keys {
		if k.Keys[i].Role != other.Keys[i].Role || !bytes.Equal(k.Keys[i].Bytes, other.Keys[i].Bytes) {
			return false
		}
	}

	for i := range k.Proof {
		if !bytes.Equal(k.Proof[i], other.Proof[i]) {
			return false
		}
	}

	return true
}

// IsEmpty reports whether the bundle carries no keys.
func (k KeyMaterial) IsEmpty() bool {
	return len(k.Keys) == 0
}

// HasCanonicalRoles reports whether keys hold exactly one key per required
// role, in canonical order, each of the right length.
func HasCanonicalRoles(keys []PublicKey) bool {
	roles := RequiredRoles()
	if len(keys) != len(roles) {
		return false
	}

	for i, role := range roles {
		if keys[i].Role != role || len(keys[i].Bytes) != role.keySize() {
			return false
		}
	}

	return true
}

// OwnershipMessage returns the message a key signs to prove it belongs to owner.
// Format: BLAKE3(domain || role || u32 len || pubkey || owner).
func OwnershipMessage(role Role, pubkey []byte, owner AccountRef) [32]byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(pubkey)))

	h := blake3.New()
	h.Write([]byte(ownershipDomain))
	h.Write([]byte{byte(role)})
	h.Write(lenBuf[:])
	h.Write(pubkey)
	h.Write(owner[:])

	var out [32]byte
	h.Sum(out[:0])

	return out
}

// VerifyProof checks that every key signed the ownership message for owner.
func VerifyProof(owner AccountRef, keys []PublicKey, proof OwnershipProof) error {
	if len(proof) != len(keys) {
		return fmt.Errorf("%w: %d signatures for %d keys", ErrProofMismatch, len(proof), len(keys))
	}

	for i, key := range keys {
		msg := OwnershipMessage(key.Role, key.Bytes, owner)

		var ok bool

		switch key.Role {
		case RoleBlock, RoleFinality:
			ok = len(key.Bytes) == ed25519.PublicKeySize &&
				len(proof[i]) == ed25519.SignatureSize &&
				ed25519.Verify(ed25519.PublicKey(key.Bytes), msg[:], proof[i])
		case RoleAggregate:
			ok = verifyBLS(proof[i], msg[:], key.Bytes)
		default:
			return fmt.Errorf("%w: %d at position %d", ErrUnknownRole, key.Role, i)
		}

		if !ok {
			return fmt.Errorf("%w: %s key at position %d", ErrBadSignature, key.Role, i)
		}
	}

	return nil
}

// signOwnership derives the role key from seed and signs the ownership message.
// Returns the public key and the signature.
func signOwnership(role Role, seed [32]byte, owner AccountRef) ([]byte, []byte, error) {
	switch role {
	case RoleBlock, RoleFinality:
		priv := ed25519.NewKeyFromSeed(seed[:])
		pub := priv.Public().(ed25519.PublicKey)
		msg := OwnershipMessage(role, pub, owner)

		return []byte(pub), ed25519.Sign(priv, msg[:]), nil

	case RoleAggregate:
		kp, err := blsKeyFromSeed(seed[:])
		if err != nil {
			return nil, nil, err
		}

		pub := kp.publicKeyBytes()
		msg := OwnershipMessage(role, pub, owner)

		return pub, kp.sign(msg[:]), nil

	default:
		return nil, nil, fmt.Errorf("%w: %d", ErrUnknownRole, role)
	}
}
