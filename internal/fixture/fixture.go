// Package fixture builds the corpus of bonded, keyed participants a
// benchmark size point runs against.
//
// The builder talks to the staking ledger and the session membership
// subsystem only through the Staking and Membership interfaces, so tests can
// swap in fakes that reject on demand.
package fixture

import (
	"errors"
	"fmt"
	"time"

	"SessionBench/internal/identity"
	"SessionBench/internal/logger"
)

var (
	// ErrInvalidSize is returned when a corpus size is not positive.
	ErrInvalidSize = errors.New("corpus size must be positive")
)

// Staking is the bonding ledger the builder enrolls participants in.
type Staking interface {
	// MinimumBond returns the smallest stake Bond accepts.
	MinimumBond() uint64

	// Bond locks stake for participant under controller.
	Bond(participant, controller identity.AccountRef, stake uint64) error

	// SetPreferences sets the commission charged by the participant behind controller.
	SetPreferences(controller identity.AccountRef, commission uint32) error

	// Unbond releases the bond controlled by controller.
	Unbond(controller identity.AccountRef) error
}

// Membership is the session membership subsystem.
type Membership interface {
	// RegisterKeys sets the keys of the participant controlled by controller.
	RegisterKeys(controller identity.AccountRef, keys []identity.PublicKey, proof identity.OwnershipProof) error

	// PurgeKeys removes the keys of the participant controlled by controller.
	PurgeKeys(controller identity.AccountRef) error

	// HasKeys reports whether participant has keys registered.
	HasKeys(participant identity.AccountRef) (bool, error)

	// KeysOf returns the key material registered by participant.
	KeysOf(participant identity.AccountRef) (identity.KeyMaterial, bool, error)

	// OwnedKeys counts the key-ownership entries pointing at participant.
	OwnedKeys(participant identity.AccountRef) (int, error)
}

// Config holds the enrollment parameters.
type Config struct {
	StakeMargin uint64 // StakeMargin is added to the minimum bond for every participant
	Commission  uint32 // Commission is set on every bond, in parts per billion
}

// DefaultConfig bonds every participant at minimum plus one.
func DefaultConfig() Config {
	return Config{StakeMargin: 1}
}

// Record is one bonded, keyed participant.
type Record struct {
	Index       uint64               // Index is the identity index the record was derived from
	Participant identity.AccountRef  // Participant is the bonded account
	Controller  identity.AccountRef  // Controller manages Participant's keys
	Stake       uint64               // Stake is the bonded amount
	Keys        identity.KeyMaterial // Keys is the key material registered at enrollment
}

// Builder enrolls participants through the staking and membership collaborators.
type Builder struct {
	src     identity.Source
	staking Staking
	members Membership
	cfg     Config
}

// NewBuilder creates a builder drawing identities from src.
func NewBuilder(src identity.Source, staking Staking, members Membership, cfg Config) *Builder {
	return &Builder{
		src:     src,
		staking: staking,
		members: members,
		cfg:     cfg,
	}
}

// Stake returns the amount every participant is bonded with.
func (b *Builder) Stake() uint64 {
	return b.staking.MinimumBond() + b.cfg.StakeMargin
}

// Build enrolls the identities at indices 0..size-1 and returns them in order.
// The ledger is expected to be clean; a collaborator rejection aborts the
// build and is returned unchanged.
func (b *Builder) Build(size int) (*Corpus, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}

	start := time.Now()
	corpus := newCorpus(size)

	for i := 0; i < size; i++ {
		index := uint64(i)

		id, err := b.src.IdentityFor(index)
		if err != nil {
			return nil, fmt.Errorf("derive identity %d:\n%w", index, err)
		}

		// Collisions are caught before the ledger sees the identity.
		if err := corpus.Check(id); err != nil {
			return nil, err
		}

		rec, err := b.enroll(id)
		if err != nil {
			return nil, err
		}

		corpus.add(rec)
	}

	logger.Debug("corpus built",
		"size", size,
		"stake", b.Stake(),
		logger.Timed(start),
	)

	return corpus, nil
}

// Enroll derives the identity at index and enrolls it.
// Used for subjects outside the corpus index space.
func (b *Builder) Enroll(index uint64) (Record, error) {
	id, err := b.src.IdentityFor(index)
	if err != nil {
		return Record{}, fmt.Errorf("derive identity %d:\n%w", index, err)
	}

	return b.enroll(id)
}

// Retire purges the record's keys if any are registered, then unbonds it.
// The ledger returns to its state before the record was enrolled.
func (b *Builder) Retire(rec Record) error {
	registered, err := b.members.HasKeys(rec.Participant)
	if err != nil {
		return fmt.Errorf("query keys of index %d:\n%w", rec.Index, err)
	}

	if registered {
		if err := b.members.PurgeKeys(rec.Controller); err != nil {
			return fmt.Errorf("purge keys of index %d:\n%w", rec.Index, err)
		}
	}

	if err := b.staking.Unbond(rec.Controller); err != nil {
		return fmt.Errorf("unbond index %d:\n%w", rec.Index, err)
	}

	return nil
}

// enroll bonds id, sets its preferences and registers its initial keys.
// Collaborator errors are wrapped with the index and keep their identity.
func (b *Builder) enroll(id identity.Identity) (Record, error) {
	stake := b.Stake()

	if err := b.staking.Bond(id.Participant, id.Controller, stake); err != nil {
		return Record{}, fmt.Errorf("bond index %d:\n%w", id.Index, err)
	}

	if err := b.staking.SetPreferences(id.Controller, b.cfg.Commission); err != nil {
		return Record{}, b.unwind(id, fmt.Errorf("set preferences of index %d:\n%w", id.Index, err))
	}

	if err := b.members.RegisterKeys(id.Controller, id.Keys.Keys, id.Keys.Proof); err != nil {
		return Record{}, b.unwind(id, fmt.Errorf("register keys of index %d:\n%w", id.Index, err))
	}

	return Record{
		Index:       id.Index,
		Participant: id.Participant,
		Controller:  id.Controller,
		Stake:       stake,
		Keys:        id.Keys,
	}, nil
}

// unwind releases the bond of a half-enrolled identity and returns cause.
func (b *Builder) unwind(id identity.Identity, cause error) error {
	if err := b.staking.Unbond(id.Controller); err != nil {
		return errors.Join(cause, fmt.Errorf("unbond index %d:\n%w", id.Index, err))
	}

	return cause
}
