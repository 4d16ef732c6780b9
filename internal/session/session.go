// Package session manages the session keys registered by bonded participants
// and the index recording which participant owns each key.
package session

import (
	"bytes"
	"errors"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	"SessionBench/internal/identity"
	"SessionBench/internal/storage"
	"SessionBench/internal/types"
)

// Key prefixes for storage.
var (
	prefixKeys  = []byte("k:") // k:<participant> -> SessionKeys
	prefixOwner = []byte("o:") // o:<role><pubkey> -> participant
)

var (
	// ErrInvalidProof is returned when the ownership proof does not verify.
	ErrInvalidProof = errors.New("invalid ownership proof")

	// ErrDuplicatedKey is returned when a key is already owned by another participant.
	ErrDuplicatedKey = errors.New("key already owned by another participant")

	// ErrIncompleteKeys is returned when keys do not hold one key per role in order.
	ErrIncompleteKeys = errors.New("keys must hold one key per role")

	// ErrNoKeys is returned when purging a participant that has no keys registered.
	ErrNoKeys = errors.New("no keys registered")
)

// Ledger resolves controllers to bonded participants.
type Ledger interface {
	// ParticipantOf returns the participant controlled by controller.
	ParticipantOf(controller identity.AccountRef) (identity.AccountRef, error)

	// Participants returns every bonded participant in ascending byte order.
	Participants() ([]identity.AccountRef, error)
}

// EventKind identifies a key registration change.
type EventKind uint8

const (
	KeysSet    EventKind = iota + 1 // KeysSet means a participant registered or replaced its keys
	KeysPurged                      // KeysPurged means a participant removed its keys
)

// String returns the event name.
func (k EventKind) String() string {
	switch k {
	case KeysSet:
		return "keys_set"
	case KeysPurged:
		return "keys_purged"
	default:
		return "unknown"
	}
}

// Event records one registration change.
type Event struct {
	Kind        EventKind
	Participant identity.AccountRef
}

// Module is the session membership subsystem.
// It is not safe for concurrent writers.
type Module struct {
	db      *storage.Storage
	ledger  Ledger
	onEvent func(Event) // onEvent receives every applied change; nil drops them
}

// Option configures a Module.
type Option func(*Module)

// WithEventHandler sets the function called after every applied registration change.
func WithEventHandler(fn func(Event)) Option {
	return func(m *Module) {
		m.onEvent = fn
	}
}

// New creates a session module over db, resolving controllers through ledger.
func New(db *storage.Storage, ledger Ledger, opts ...Option) *Module {
	m := &Module{db: db, ledger: ledger}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// RegisterKeys sets the session keys of the participant controlled by controller.
// Keys previously registered by that participant are released in the same write.
func (m *Module) RegisterKeys(controller identity.AccountRef, keys []identity.PublicKey, proof identity.OwnershipProof) error {
	participant, err := m.ledger.ParticipantOf(controller)
	if err != nil {
		return err
	}

	if !identity.HasCanonicalRoles(keys) {
		return fmt.Errorf("%w: got %d keys", ErrIncompleteKeys, len(keys))
	}

	if err := identity.VerifyProof(participant, keys, proof); err != nil {
		return fmt.Errorf("%w:\n%w", ErrInvalidProof, err)
	}

	for _, key := range keys {
		owner, ok, err := m.KeyOwner(key.Role, key.Bytes)
		if err != nil {
			return err
		}

		if ok && owner != participant {
			return fmt.Errorf("%w: %s key owned by %s", ErrDuplicatedKey, key.Role, owner.Short())
		}
	}

	previous, hadKeys, err := m.KeysOf(participant)
	if err != nil {
		return err
	}

	batch := m.db.NewBatch()
	defer batch.Close()

	// Deletes go first so a key kept across registrations survives the set below.
	if hadKeys {
		for _, key := range previous.Keys {
			_ = batch.Delete(ownerKey(key.Role, key.Bytes))
		}
	}

	for _, key := range keys {
		_ = batch.Set(ownerKey(key.Role, key.Bytes), participant[:])
	}

	_ = batch.Set(keysKey(participant), encodeKeys(participant, keys, proof))

	if err := batch.Commit(); err != nil {
		return fmt.Errorf("commit keys:\n%w", err)
	}

	m.emit(KeysSet, participant)

	return nil
}

// PurgeKeys removes the session keys of the participant controlled by controller.
func (m *Module) PurgeKeys(controller identity.AccountRef) error {
	participant, err := m.ledger.ParticipantOf(controller)
	if err != nil {
		return err
	}

	current, ok, err := m.KeysOf(participant)
	if err != nil {
		return err
	}

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoKeys, participant.Short())
	}

	batch := m.db.NewBatch()
	defer batch.Close()

	for _, key := range current.Keys {
		_ = batch.Delete(ownerKey(key.Role, key.Bytes))
	}

	_ = batch.Delete(keysKey(participant))

	if err := batch.Commit(); err != nil {
		return fmt.Errorf("commit purge:\n%w", err)
	}

	m.emit(KeysPurged, participant)

	return nil
}

// KeysOf returns the key material registered by participant.
func (m *Module) KeysOf(participant identity.AccountRef) (identity.KeyMaterial, bool, error) {
	data, err := m.db.Get(keysKey(participant))
	if err != nil || data == nil {
		return identity.KeyMaterial{}, false, err
	}

	km, err := decodeKeys(data)
	if err != nil {
		return identity.KeyMaterial{}, false, fmt.Errorf("decode keys of %s:\n%w", participant.Short(), err)
	}

	return km, true, nil
}

// HasKeys reports whether participant has keys registered.
func (m *Module) HasKeys(participant identity.AccountRef) (bool, error) {
	return m.db.Has(keysKey(participant))
}

// KeyOwner returns the participant owning the key, if any.
func (m *Module) KeyOwner(role identity.Role, pubkey []byte) (identity.AccountRef, bool, error) {
	data, err := m.db.Get(ownerKey(role, pubkey))
	if err != nil || data == nil {
		return identity.AccountRef{}, false, err
	}

	var owner identity.AccountRef
	copy(owner[:], data)

	return owner, true, nil
}

// OwnedKeys counts the key-ownership entries pointing at participant.
// Scans the whole ownership index.
func (m *Module) OwnedKeys(participant identity.AccountRef) (int, error) {
	count := 0

	err := m.db.IteratePrefix(prefixOwner, func(_, value []byte) error {
		if bytes.Equal(value, participant[:]) {
			count++
		}
		return nil
	})

	return count, err
}

// Registrations returns the number of participants with keys registered.
func (m *Module) Registrations() (int, error) {
	return m.db.CountPrefix(prefixKeys)
}

// Validators returns the bonded participants that have keys registered,
// in ascending byte order. This is the set the next session would activate.
func (m *Module) Validators() ([]identity.AccountRef, error) {
	participants, err := m.ledger.Participants()
	if err != nil {
		return nil, fmt.Errorf("list participants:\n%w", err)
	}

	validators := make([]identity.AccountRef, 0, len(participants))

	for _, p := range participants {
		ok, err := m.HasKeys(p)
		if err != nil {
			return nil, err
		}

		if ok {
			validators = append(validators, p)
		}
	}

	return validators, nil
}

// emit passes a change to the event handler, if any.
func (m *Module) emit(kind EventKind, participant identity.AccountRef) {
	if m.onEvent != nil {
		m.onEvent(Event{Kind: kind, Participant: participant})
	}
}

// keysKey returns the storage key of participant's registration.
func keysKey(participant identity.AccountRef) []byte {
	return append(append([]byte{}, prefixKeys...), participant[:]...)
}

// ownerKey returns the storage key of a key-ownership entry.
func ownerKey(role identity.Role, pubkey []byte) []byte {
	key := make([]byte, 0, len(prefixOwner)+1+len(pubkey))
	key = append(key, prefixOwner...)
	key = append(key, byte(role))
	return append(key, pubkey...)
}

// encodeKeys serializes a registration as a FlatBuffers SessionKeys table.
func encodeKeys(owner identity.AccountRef, keys []identity.PublicKey, proof identity.OwnershipProof) []byte {
	builder := flatbuffers.NewBuilder(512)

	entries := make([]flatbuffers.UOffsetT, len(keys))
	for i, key := range keys {
		pubVec := builder.CreateByteVector(key.Bytes)
		proofVec := builder.CreateByteVector(proof[i])

		types.KeyEntryStart(builder)
		types.KeyEntryAddRole(builder, byte(key.Role))
		types.KeyEntryAddPubkey(builder, pubVec)
		types.KeyEntryAddProof(builder, proofVec)
		entries[i] = types.KeyEntryEnd(builder)
	}

	types.SessionKeysStartKeysVector(builder, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(entries[i])
	}
	keysVec := builder.EndVector(len(entries))

	ownerVec := builder.CreateByteVector(owner[:])

	types.SessionKeysStart(builder)
	types.SessionKeysAddOwner(builder, ownerVec)
	types.SessionKeysAddKeys(builder, keysVec)
	builder.Finish(types.SessionKeysEnd(builder))

	return builder.FinishedBytes()
}

// decodeKeys parses a FlatBuffers SessionKeys table into key material.
// Returned slices are copies and outlive data.
func decodeKeys(data []byte) (identity.KeyMaterial, error) {
	sk := types.GetRootAsSessionKeys(data, 0)

	n := sk.KeysLength()
	if n == 0 {
		return identity.KeyMaterial{}, fmt.Errorf("registration without keys")
	}

	km := identity.KeyMaterial{
		Keys:  make([]identity.PublicKey, n),
		Proof: make(identity.OwnershipProof, n),
	}

	var entry types.KeyEntry
	for i := 0; i < n; i++ {
		if !sk.Keys(&entry, i) {
			return identity.KeyMaterial{}, fmt.Errorf("missing key entry %d", i)
		}

		km.Keys[i] = identity.PublicKey{
			Role:  identity.Role(entry.Role()),
			Bytes: bytes.Clone(entry.PubkeyBytes()),
		}
		km.Proof[i] = bytes.Clone(entry.ProofBytes())
	}

	return km, nil
}
