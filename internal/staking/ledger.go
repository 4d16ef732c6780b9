// Package staking implements the bonding ledger: participants lock stake
// behind a controller account to qualify for the validator set.
package staking

import (
	"encoding/binary"
	"errors"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	"SessionBench/internal/identity"
	"SessionBench/internal/storage"
	"SessionBench/internal/types"
)

// MaxCommission is 100% expressed in parts per billion.
const MaxCommission = 1_000_000_000

// Key prefixes for storage.
var (
	prefixBond       = []byte("b:")         // b:<participant> -> Bond
	prefixController = []byte("c:")         // c:<controller> -> participant
	keyIssuance      = []byte("m:issuance") // remaining fundable stake
)

var (
	// ErrInsufficientStake is returned when a bond is below the minimum or
	// exceeds the stake left in issuance.
	ErrInsufficientStake = errors.New("insufficient stake")

	// ErrAlreadyBonded is returned when the participant already has a bond.
	ErrAlreadyBonded = errors.New("participant already bonded")

	// ErrAlreadyPaired is returned when the controller already controls a participant.
	ErrAlreadyPaired = errors.New("controller already paired")

	// ErrSameAccount is returned when participant and controller are the same account.
	ErrSameAccount = errors.New("participant and controller must differ")

	// ErrNotController is returned when an account controls no bonded participant.
	ErrNotController = errors.New("not a controller")

	// ErrInvalidCommission is returned for a commission above 100%.
	ErrInvalidCommission = errors.New("invalid commission")
)

// Params holds the ledger's economic limits.
type Params struct {
	MinBond  uint64 // MinBond is the smallest accepted stake
	Issuance uint64 // Issuance is the total stake available to all bonds
}

// DefaultParams returns parameters able to fund two hundred thousand minimum bonds.
func DefaultParams() Params {
	return Params{
		MinBond:  1_000,
		Issuance: 1_000 * 200_000,
	}
}

// BondInfo is a decoded bond record.
type BondInfo struct {
	Participant identity.AccountRef
	Controller  identity.AccountRef
	Stake       uint64
	Commission  uint32 // Commission is in parts per billion
}

// Ledger is the bonding ledger persisted in storage.
// It is not safe for concurrent writers.
type Ledger struct {
	db     *storage.Storage
	params Params
}

// New opens a ledger over db. A store without an issuance record is seeded
// with params.Issuance; an existing record is kept.
func New(db *storage.Storage, params Params) (*Ledger, error) {
	l := &Ledger{db: db, params: params}

	data, err := db.Get(keyIssuance)
	if err != nil {
		return nil, fmt.Errorf("read issuance:\n%w", err)
	}

	if data == nil {
		if err := db.Set(keyIssuance, encodeUint64(params.Issuance)); err != nil {
			return nil, fmt.Errorf("seed issuance:\n%w", err)
		}
	}

	return l, nil
}

// MinimumBond returns the smallest stake Bond accepts.
func (l *Ledger) MinimumBond() uint64 {
	return l.params.MinBond
}

// RemainingIssuance returns the stake still available for new bonds.
func (l *Ledger) RemainingIssuance() (uint64, error) {
	data, err := l.db.Get(keyIssuance)
	if err != nil {
		return 0, err
	}

	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt issuance record: %d bytes", len(data))
	}

	return binary.BigEndian.Uint64(data), nil
}

// Bond locks stake for participant under controller.
func (l *Ledger) Bond(participant, controller identity.AccountRef, stake uint64) error {
	if participant == controller {
		return ErrSameAccount
	}

	if stake < l.params.MinBond {
		return fmt.Errorf("%w: stake %d below minimum %d", ErrInsufficientStake, stake, l.params.MinBond)
	}

	remaining, err := l.RemainingIssuance()
	if err != nil {
		return fmt.Errorf("read issuance:\n%w", err)
	}

	if stake > remaining {
		return fmt.Errorf("%w: stake %d exceeds remaining issuance %d", ErrInsufficientStake, stake, remaining)
	}

	bonded, err := l.db.Has(bondKey(participant))
	if err != nil {
		return err
	}
	if bonded {
		return fmt.Errorf("%w: %s", ErrAlreadyBonded, participant.Short())
	}

	paired, err := l.db.Has(controllerKey(controller))
	if err != nil {
		return err
	}
	if paired {
		return fmt.Errorf("%w: %s", ErrAlreadyPaired, controller.Short())
	}

	batch := l.db.NewBatch()
	defer batch.Close()

	_ = batch.Set(bondKey(participant), encodeBond(BondInfo{
		Participant: participant,
		Controller:  controller,
		Stake:       stake,
	}))
	_ = batch.Set(controllerKey(controller), participant[:])
	_ = batch.Set(keyIssuance, encodeUint64(remaining-stake))

	return batch.Commit()
}

// Unbond releases the bond controlled by controller and returns its stake to issuance.
func (l *Ledger) Unbond(controller identity.AccountRef) error {
	participant, err := l.ParticipantOf(controller)
	if err != nil {
		return err
	}

	info, ok, err := l.BondOf(participant)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("controller %s points at missing bond %s", controller.Short(), participant.Short())
	}

	remaining, err := l.RemainingIssuance()
	if err != nil {
		return fmt.Errorf("read issuance:\n%w", err)
	}

	batch := l.db.NewBatch()
	defer batch.Close()

	_ = batch.Delete(bondKey(participant))
	_ = batch.Delete(controllerKey(controller))
	_ = batch.Set(keyIssuance, encodeUint64(remaining+info.Stake))

	return batch.Commit()
}

// SetPreferences sets the commission charged by the participant behind controller.
func (l *Ledger) SetPreferences(controller identity.AccountRef, commission uint32) error {
	if commission > MaxCommission {
		return fmt.Errorf("%w: %d > %d", ErrInvalidCommission, commission, MaxCommission)
	}

	participant, err := l.ParticipantOf(controller)
	if err != nil {
		return err
	}

	info, ok, err := l.BondOf(participant)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("controller %s points at missing bond %s", controller.Short(), participant.Short())
	}

	info.Commission = commission

	return l.db.Set(bondKey(participant), encodeBond(info))
}

// ParticipantOf returns the participant controlled by controller.
func (l *Ledger) ParticipantOf(controller identity.AccountRef) (identity.AccountRef, error) {
	data, err := l.db.Get(controllerKey(controller))
	if err != nil {
		return identity.AccountRef{}, err
	}

	if data == nil {
		return identity.AccountRef{}, fmt.Errorf("%w: %s", ErrNotController, controller.Short())
	}

	var participant identity.AccountRef
	copy(participant[:], data)

	return participant, nil
}

// BondOf returns the bond of participant, if any.
func (l *Ledger) BondOf(participant identity.AccountRef) (BondInfo, bool, error) {
	data, err := l.db.Get(bondKey(participant))
	if err != nil || data == nil {
		return BondInfo{}, false, err
	}

	info, err := decodeBond(data)
	if err != nil {
		return BondInfo{}, false, fmt.Errorf("decode bond %s:\n%w", participant.Short(), err)
	}

	return info, true, nil
}

// Participants returns every bonded participant in ascending byte order.
func (l *Ledger) Participants() ([]identity.AccountRef, error) {
	var out []identity.AccountRef

	err := l.db.IteratePrefix(prefixBond, func(key, _ []byte) error {
		var p identity.AccountRef
		copy(p[:], key[len(prefixBond):])
		out = append(out, p)
		return nil
	})

	return out, err
}

// Count returns the number of bonds.
func (l *Ledger) Count() (int, error) {
	return l.db.CountPrefix(prefixBond)
}

// bondKey returns the storage key of participant's bond.
func bondKey(participant identity.AccountRef) []byte {
	return append(append([]byte{}, prefixBond...), participant[:]...)
}

// controllerKey returns the storage key of controller's pairing.
func controllerKey(controller identity.AccountRef) []byte {
	return append(append([]byte{}, prefixController...), controller[:]...)
}

// encodeUint64 encodes v as 8 big-endian bytes.
func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

// encodeBond serializes a bond as a FlatBuffers Bond table.
func encodeBond(info BondInfo) []byte {
	builder := flatbuffers.NewBuilder(128)

	participantVec := builder.CreateByteVector(info.Participant[:])
	controllerVec := builder.CreateByteVector(info.Controller[:])

	types.BondStart(builder)
	types.BondAddParticipant(builder, participantVec)
	types.BondAddController(builder, controllerVec)
	types.BondAddStake(builder, info.Stake)
	types.BondAddCommission(builder, info.Commission)
	builder.Finish(types.BondEnd(builder))

	return builder.FinishedBytes()
}

// decodeBond parses a FlatBuffers Bond table.
func decodeBond(data []byte) (BondInfo, error) {
	b := types.GetRootAsBond(data, 0)

	participant := b.ParticipantBytes()
	controller := b.ControllerBytes()

	if len(participant) != 32 || len(controller) != 32 {
		return BondInfo{}, fmt.Errorf("invalid account lengths %d/%d", len(participant), len(controller))
	}

	info := BondInfo{
		Stake:      b.Stake(),
		Commission: b.Commission(),
	}
	copy(info.Participant[:], participant)
	copy(info.Controller[:], controller)

	return info, nil
}
