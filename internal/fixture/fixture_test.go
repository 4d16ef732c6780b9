package fixture

import (
	"errors"
	"testing"

	"SessionBench/internal/chain"
	"SessionBench/internal/identity"
	"SessionBench/internal/session"
	"SessionBench/internal/staking"
)

var testParams = staking.Params{MinBond: 10, Issuance: 100_000}

// newTestRuntime opens an in-memory ledger with the given limits.
func newTestRuntime(t *testing.T, params staking.Params) *chain.Runtime {
	t.Helper()

	rt, err := chain.Open(chain.Config{Staking: params})
	if err != nil {
		t.Fatalf("chain.Open failed: %v", err)
	}
	t.Cleanup(func() { rt.Close() })

	return rt
}

// newTestGenerator creates a generator with a fixed seed.
func newTestGenerator(t *testing.T) *identity.Generator {
	t.Helper()

	g, err := identity.NewGenerator([]byte("fixture-test-seed"))
	if err != nil {
		t.Fatalf("NewGenerator failed: %v", err)
	}

	return g
}

// newTestBuilder creates a builder over rt with the default config.
func newTestBuilder(t *testing.T, src identity.Source, rt *chain.Runtime) *Builder {
	t.Helper()
	return NewBuilder(src, rt.Staking, rt.Session, DefaultConfig())
}

// riggedSource replays the identity of one index at another.
type riggedSource struct {
	identity.Source
	at, copyOf uint64
	keysOnly   bool // keysOnly copies only the key material
}

// IdentityFor returns the real identity, except at r.at.
func (r *riggedSource) IdentityFor(index uint64) (identity.Identity, error) {
	id, err := r.Source.IdentityFor(index)
	if err != nil || index != r.at {
		return id, err
	}

	if r.keysOnly {
		// Same keys, proof bound to the real participant.
		id.Keys, err = r.Source.KeysFor(r.copyOf, id.Participant)
		return id, err
	}

	dup, err := r.Source.IdentityFor(r.copyOf)
	if err != nil {
		return identity.Identity{}, err
	}

	dup.Index = index
	return dup, nil
}

// =============================================================================
// Build
// =============================================================================

func TestBuild(t *testing.T) {
	rt := newTestRuntime(t, testParams)
	b := newTestBuilder(t, newTestGenerator(t), rt)

	corpus, err := b.Build(8)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if corpus.Len() != 8 {
		t.Fatalf("Len = %d, want 8", corpus.Len())
	}

	for i, rec := range corpus.Records() {
		if rec.Index != uint64(i) {
			t.Errorf("record %d has index %d", i, rec.Index)
		}

		if rec.Stake < rt.Staking.MinimumBond() {
			t.Errorf("record %d stake %d below minimum", i, rec.Stake)
		}

		info, ok, err := rt.Staking.BondOf(rec.Participant)
		if err != nil || !ok || info.Controller != rec.Controller || info.Stake != rec.Stake {
			t.Errorf("record %d bond = %+v, %v, %v", i, info, ok, err)
		}

		keys, ok, _ := rt.Session.KeysOf(rec.Participant)
		if !ok || !keys.Equal(rec.Keys) {
			t.Errorf("record %d keys not registered", i)
		}
	}

	if n, _ := rt.Session.Registrations(); n != 8 {
		t.Errorf("Registrations = %d, want 8", n)
	}
}

func TestBuild_StakeMargin(t *testing.T) {
	rt := newTestRuntime(t, testParams)
	b := NewBuilder(newTestGenerator(t), rt.Staking, rt.Session, Config{StakeMargin: 0, Commission: 7})

	corpus, err := b.Build(2)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	rec := corpus.Record(1)
	if rec.Stake != testParams.MinBond {
		t.Errorf("Stake = %d, want exact minimum %d", rec.Stake, testParams.MinBond)
	}

	info, _, _ := rt.Staking.BondOf(rec.Participant)
	if info.Commission != 7 {
		t.Errorf("Commission = %d, want 7", info.Commission)
	}
}

func TestBuild_InvalidSize(t *testing.T) {
	rt := newTestRuntime(t, testParams)
	b := newTestBuilder(t, newTestGenerator(t), rt)

	for _, size := range []int{0, -1} {
		if _, err := b.Build(size); !errors.Is(err, ErrInvalidSize) {
			t.Errorf("Build(%d) err = %v, want ErrInvalidSize", size, err)
		}
	}

	if n, _ := rt.Staking.Count(); n != 0 {
		t.Errorf("invalid size mutated the ledger: %d bonds", n)
	}
}

// TestBuild_InsufficientStake verifies the staking rejection is surfaced unchanged.
func TestBuild_InsufficientStake(t *testing.T) {
	// Funds exactly two bonds of minimum+1.
	rt := newTestRuntime(t, staking.Params{MinBond: 10, Issuance: 25})
	b := newTestBuilder(t, newTestGenerator(t), rt)

	_, err := b.Build(3)
	if !errors.Is(err, staking.ErrInsufficientStake) {
		t.Fatalf("err = %v, want ErrInsufficientStake", err)
	}
}

// TestBuild_Idempotent verifies rebuilding from a clean ledger reproduces the corpus.
func TestBuild_Idempotent(t *testing.T) {
	first, err := newTestBuilder(t, newTestGenerator(t), newTestRuntime(t, testParams)).Build(5)
	if err != nil {
		t.Fatalf("first Build failed: %v", err)
	}

	second, err := newTestBuilder(t, newTestGenerator(t), newTestRuntime(t, testParams)).Build(5)
	if err != nil {
		t.Fatalf("second Build failed: %v", err)
	}

	if first.Fingerprint() != second.Fingerprint() {
		t.Fatal("fingerprints differ")
	}

	for i := 0; i < first.Len(); i++ {
		a, b := first.Record(i), second.Record(i)
		if a.Participant != b.Participant || a.Controller != b.Controller || !a.Keys.Equal(b.Keys) {
			t.Errorf("record %d differs between builds", i)
		}
	}
}

// TestBuild_DirtyLedger verifies building twice on one ledger is rejected by staking.
func TestBuild_DirtyLedger(t *testing.T) {
	rt := newTestRuntime(t, testParams)
	b := newTestBuilder(t, newTestGenerator(t), rt)

	if _, err := b.Build(2); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if _, err := b.Build(2); !errors.Is(err, staking.ErrAlreadyBonded) {
		t.Fatalf("err = %v, want ErrAlreadyBonded", err)
	}
}

// =============================================================================
// Collision checks
// =============================================================================

func TestBuild_DuplicateIdentity(t *testing.T) {
	tests := []struct {
		name      string
		src       *riggedSource
		wantField string
	}{
		{"whole identity", &riggedSource{at: 3, copyOf: 1}, "participant"},
		{"keys only", &riggedSource{at: 2, copyOf: 0, keysOnly: true}, "block key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := newTestRuntime(t, testParams)
			tt.src.Source = newTestGenerator(t)
			b := newTestBuilder(t, tt.src, rt)

			_, err := b.Build(5)

			var dup *DuplicateIdentityError
			if !errors.As(err, &dup) {
				t.Fatalf("err = %v, want DuplicateIdentityError", err)
			}

			if dup.Index != tt.src.at || dup.Previous != tt.src.copyOf || dup.Field != tt.wantField {
				t.Errorf("got %+v", dup)
			}

			// The colliding identity never reached the ledger.
			if n, _ := rt.Staking.Count(); n != int(tt.src.at) {
				t.Errorf("Count = %d, want %d", n, tt.src.at)
			}
		})
	}
}

func TestCheck_SelfCollision(t *testing.T) {
	g := newTestGenerator(t)
	id, _ := g.IdentityFor(0)

	id.Controller = id.Participant
	err := newCorpus(1).Check(id)

	var dup *DuplicateIdentityError
	if !errors.As(err, &dup) || dup.Field != "controller" {
		t.Fatalf("err = %v, want controller collision", err)
	}
}

// =============================================================================
// Enroll and Retire
// =============================================================================

// TestEnrollRetire verifies a retired subject leaves no trace in the ledger.
func TestEnrollRetire(t *testing.T) {
	rt := newTestRuntime(t, testParams)
	b := newTestBuilder(t, newTestGenerator(t), rt)

	if _, err := b.Build(3); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	before, _ := rt.Digest()

	rec, err := b.Enroll(3)
	if err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}

	if ok, _ := rt.Session.HasKeys(rec.Participant); !ok {
		t.Fatal("enrolled subject has no keys")
	}

	if err := b.Retire(rec); err != nil {
		t.Fatalf("Retire failed: %v", err)
	}

	after, _ := rt.Digest()
	if after != before {
		t.Error("ledger changed after enroll and retire")
	}
}

// TestRetire_AfterPurge verifies retiring a keyless record only unbonds it.
func TestRetire_AfterPurge(t *testing.T) {
	rt := newTestRuntime(t, testParams)
	b := newTestBuilder(t, newTestGenerator(t), rt)

	rec, err := b.Enroll(0)
	if err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}

	if err := rt.Session.PurgeKeys(rec.Controller); err != nil {
		t.Fatalf("PurgeKeys failed: %v", err)
	}

	if err := b.Retire(rec); err != nil {
		t.Fatalf("Retire failed: %v", err)
	}

	if err := b.Retire(rec); !errors.Is(err, staking.ErrNotController) {
		t.Errorf("second Retire err = %v, want ErrNotController", err)
	}
}

// TestEnroll_KeysTaken verifies a registration rejection is surfaced unchanged.
func TestEnroll_KeysTaken(t *testing.T) {
	rt := newTestRuntime(t, testParams)
	src := &riggedSource{Source: newTestGenerator(t), at: 9, copyOf: 0, keysOnly: true}
	b := newTestBuilder(t, src, rt)

	if _, err := b.Enroll(0); err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}

	before, err := rt.Digest()
	if err != nil {
		t.Fatalf("Digest failed: %v", err)
	}

	if _, err := b.Enroll(9); !errors.Is(err, session.ErrDuplicatedKey) {
		t.Fatalf("err = %v, want ErrDuplicatedKey", err)
	}

	// The rejected identity leaves no bond behind.
	after, err := rt.Digest()
	if err != nil {
		t.Fatalf("Digest failed: %v", err)
	}

	if after != before {
		t.Error("ledger changed by a rejected enrollment")
	}
}
