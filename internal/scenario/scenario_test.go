package scenario

import (
	"errors"
	"testing"
	"time"

	"SessionBench/internal/chain"
	"SessionBench/internal/fixture"
	"SessionBench/internal/identity"
	"SessionBench/internal/session"
	"SessionBench/internal/staking"
)

// exampleSeed is the fixed seed of the end-to-end example.
const exampleSeed = "sessionbench-example-seed"

var testChain = chain.Config{Staking: staking.Params{MinBond: 100, Issuance: 1_000_000}}

// newTestDriver creates a driver over in-memory chain runtimes.
func newTestDriver(t *testing.T, opts ...Option) *Driver {
	t.Helper()
	return NewDriver(newTestGenerator(t), ChainEnv(testChain), fixture.DefaultConfig(), opts...)
}

// newTestGenerator creates a generator with the example seed.
func newTestGenerator(t *testing.T) *identity.Generator {
	t.Helper()

	g, err := identity.NewGenerator([]byte(exampleSeed))
	if err != nil {
		t.Fatalf("NewGenerator failed: %v", err)
	}

	return g
}

// mustSetup opens a size point or fails the test.
func mustSetup(t *testing.T, d *Driver, kind OperationKind, size int) *Point {
	t.Helper()

	p, err := d.Setup(kind, size)
	if err != nil {
		t.Fatalf("Setup(%s, %d) failed: %v", kind, size, err)
	}
	t.Cleanup(func() { p.Close() })

	return p
}

// stepClock advances by step on every reading.
type stepClock struct {
	t    time.Time
	step time.Duration
}

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(c.step)
	return c.t
}

// recordingObserver stores every notification.
type recordingObserver struct {
	built   []int
	elapsed []time.Duration
	samples []Sample
}

func (o *recordingObserver) CorpusBuilt(_ OperationKind, size int, elapsed time.Duration) {
	o.built = append(o.built, size)
	o.elapsed = append(o.elapsed, elapsed)
}

func (o *recordingObserver) SampleRecorded(s Sample) {
	o.samples = append(o.samples, s)
}

// countingFactory wraps a factory and counts opened envs.
func countingFactory(open EnvFactory, opened *int) EnvFactory {
	return func() (*Env, error) {
		*opened++
		return open()
	}
}

// errInjected is returned by faultyMembership.
var errInjected = errors.New("injected rejection")

// faultyMembership fails RegisterKeys on a chosen call and can hide keys.
type faultyMembership struct {
	fixture.Membership
	calls    int
	failAt   int  // failAt is the 1-based RegisterKeys call to reject, 0 for none
	hideKeys bool // hideKeys makes HasKeys always report false
}

func (m *faultyMembership) RegisterKeys(controller identity.AccountRef, keys []identity.PublicKey, proof identity.OwnershipProof) error {
	m.calls++
	if m.calls == m.failAt {
		return errInjected
	}
	return m.Membership.RegisterKeys(controller, keys, proof)
}

func (m *faultyMembership) HasKeys(participant identity.AccountRef) (bool, error) {
	if m.hideKeys {
		return false, nil
	}
	return m.Membership.HasKeys(participant)
}

// faultyFactory opens chain envs with their membership wrapped by m.
func faultyFactory(m *faultyMembership) EnvFactory {
	open := ChainEnv(testChain)

	return func() (*Env, error) {
		env, err := open()
		if err != nil {
			return nil, err
		}

		m.Membership = env.Membership
		env.Membership = m

		return env, nil
	}
}

// =============================================================================
// Plan and operation kinds
// =============================================================================

func TestPlanValidate(t *testing.T) {
	tests := []struct {
		name    string
		plan    Plan
		wantErr error
	}{
		{"valid", Plan{Sizes: []int{1, 10}, Trials: 3}, nil},
		{"no sizes", Plan{Trials: 3}, ErrEmptyPlan},
		{"zero size", Plan{Sizes: []int{1, 0}, Trials: 3}, ErrInvalidPlan},
		{"negative size", Plan{Sizes: []int{-4}, Trials: 3}, ErrInvalidPlan},
		{"zero trials", Plan{Sizes: []int{1}}, ErrInvalidPlan},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.plan.Validate(); !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseOperationKind(t *testing.T) {
	tests := []struct {
		name string
		want OperationKind
	}{
		{"register_keys", RegisterKeys},
		{"Register-Keys", RegisterKeys},
		{" purge_keys ", PurgeKeys},
	}

	for _, tt := range tests {
		got, err := ParseOperationKind(tt.name)
		if err != nil || got != tt.want {
			t.Errorf("ParseOperationKind(%q) = %v, %v; want %v", tt.name, got, err, tt.want)
		}
	}

	if _, err := ParseOperationKind("rotate"); !errors.Is(err, ErrUnknownOperation) {
		t.Errorf("err = %v, want ErrUnknownOperation", err)
	}
}

// =============================================================================
// End-to-end example
// =============================================================================

// TestEndToEndExample builds three participants, re-registers P1 and purges P0 twice.
func TestEndToEndExample(t *testing.T) {
	d := newTestDriver(t)
	p := mustSetup(t, d, RegisterKeys, 3)
	members := p.env.Membership

	if p.Corpus().Len() != 3 {
		t.Fatalf("corpus has %d records, want 3", p.Corpus().Len())
	}

	for i, rec := range p.Corpus().Records() {
		if rec.Stake != testChain.Staking.MinBond+1 {
			t.Errorf("P%d stake = %d, want minimum+1", i, rec.Stake)
		}
	}

	// RegisterKeys on P1 with fresh keys.
	fresh, err := p.RegisterKeys(1, p.FirstFreeIndex())
	if err != nil {
		t.Fatalf("RegisterKeys(P1) failed: %v", err)
	}

	p1 := p.Corpus().Record(1)
	current, ok, err := members.KeysOf(p1.Participant)
	if err != nil || !ok || !current.Equal(fresh) {
		t.Fatalf("P1 keys = %v, %v; want the fresh keys", ok, err)
	}

	if current.Equal(p1.Keys) {
		t.Error("P1 still holds its corpus keys")
	}

	// PurgeKeys on P0.
	if err := p.PurgeKeys(0); err != nil {
		t.Fatalf("PurgeKeys(P0) failed: %v", err)
	}

	p0 := p.Corpus().Record(0)
	if ok, _ := members.HasKeys(p0.Participant); ok {
		t.Error("P0 still has keys")
	}

	// Second purge fails with the membership error.
	err = p.PurgeKeys(0)
	if !errors.Is(err, session.ErrNoKeys) {
		t.Fatalf("second purge err = %v, want ErrNoKeys", err)
	}

	var inv *InvariantError
	if !errors.As(err, &inv) || inv.Index != 0 {
		t.Errorf("second purge not reported against index 0: %v", err)
	}

	// P0 is back to Unregistered and can register again.
	if _, err := p.RegisterKeys(0, p.FirstFreeIndex()+1); err != nil {
		t.Errorf("RegisterKeys(P0) after purge failed: %v", err)
	}
}

// TestRegisterKeys_ReservedFreshIndex verifies indices held by the corpus or
// reserved for trial subjects are refused before the ledger is touched.
func TestRegisterKeys_ReservedFreshIndex(t *testing.T) {
	p := mustSetup(t, newTestDriver(t), RegisterKeys, 3)

	if p.FirstFreeIndex() != 5 {
		t.Fatalf("FirstFreeIndex = %d, want 5", p.FirstFreeIndex())
	}

	rec := p.Corpus().Record(0)

	for _, index := range []uint64{0, 2, 3, 4} {
		_, err := p.RegisterKeys(0, index)

		var inv *InvariantError
		if !errors.As(err, &inv) || inv.Index != rec.Index {
			t.Errorf("RegisterKeys(0, %d) err = %v, want InvariantError for record 0", index, err)
		}
	}

	current, ok, err := p.env.Membership.KeysOf(rec.Participant)
	if err != nil || !ok || !current.Equal(rec.Keys) {
		t.Errorf("record 0 keys changed by a refused call: ok=%v err=%v", ok, err)
	}
}

// TestRegisterKeys_ThenTrials verifies keys registered on a corpus record never
// collide with the keys later trials enroll and submit.
func TestRegisterKeys_ThenTrials(t *testing.T) {
	for _, kind := range Operations() {
		t.Run(kind.String(), func(t *testing.T) {
			p := mustSetup(t, newTestDriver(t), kind, 3)
			p.VerifySteadyState(true)

			if _, err := p.RegisterKeys(1, p.FirstFreeIndex()); err != nil {
				t.Fatalf("RegisterKeys failed: %v", err)
			}

			for trial := 0; trial < 2; trial++ {
				if _, err := p.Trial(trial); err != nil {
					t.Fatalf("trial %d failed: %v", trial, err)
				}
			}
		})
	}
}

func TestPointRecord_OutOfRange(t *testing.T) {
	p := mustSetup(t, newTestDriver(t), PurgeKeys, 2)

	if err := p.PurgeKeys(2); !errors.Is(err, fixture.ErrInvalidSize) {
		t.Fatalf("err = %v, want ErrInvalidSize", err)
	}
}

// =============================================================================
// Trials
// =============================================================================

// TestTrial_RegisterKeys verifies a trial replaces the subject's keys and leaves the ledger unchanged.
func TestTrial_RegisterKeys(t *testing.T) {
	p := mustSetup(t, newTestDriver(t), RegisterKeys, 4)
	p.VerifySteadyState(true)

	for trial := 0; trial < 3; trial++ {
		s, err := p.Trial(trial)
		if err != nil {
			t.Fatalf("trial %d failed: %v", trial, err)
		}

		if s.Kind != RegisterKeys || s.CorpusSize != 4 || s.Trial != trial {
			t.Errorf("unexpected sample %+v", s)
		}
	}
}

func TestTrial_PurgeKeys(t *testing.T) {
	p := mustSetup(t, newTestDriver(t), PurgeKeys, 4)
	p.VerifySteadyState(true)

	before, _ := p.env.Digest()

	for trial := 0; trial < 3; trial++ {
		if _, err := p.Trial(trial); err != nil {
			t.Fatalf("trial %d failed: %v", trial, err)
		}
	}

	after, _ := p.env.Digest()
	if after != before {
		t.Error("trials left state behind")
	}
}

// TestPrepare_SubjectState verifies the subject is registered before the timed action.
func TestPrepare_SubjectState(t *testing.T) {
	for _, kind := range Operations() {
		t.Run(kind.String(), func(t *testing.T) {
			p := mustSetup(t, newTestDriver(t), kind, 2)

			action, err := p.Prepare(0)
			if err != nil {
				t.Fatalf("Prepare failed: %v", err)
			}

			if p.subject.Index != 2 {
				t.Errorf("subject index = %d, want 2", p.subject.Index)
			}

			if ok, _ := p.env.Membership.HasKeys(p.subject.Participant); !ok {
				t.Error("subject not registered before action")
			}

			if _, err := p.Prepare(1); err == nil {
				t.Error("second Prepare without Finish succeeded")
			}

			if err := action(); err != nil {
				t.Fatalf("action failed: %v", err)
			}

			if err := p.Finish(0); err != nil {
				t.Fatalf("Finish failed: %v", err)
			}
		})
	}
}

func TestFinish_WithoutPrepare(t *testing.T) {
	p := mustSetup(t, newTestDriver(t), PurgeKeys, 1)

	var inv *InvariantError
	if err := p.Finish(0); !errors.As(err, &inv) {
		t.Fatalf("err = %v, want InvariantError", err)
	}
}

// TestFinish_ActionSkipped verifies Finish detects an operation that did not take effect.
func TestFinish_ActionSkipped(t *testing.T) {
	for _, kind := range Operations() {
		t.Run(kind.String(), func(t *testing.T) {
			p := mustSetup(t, newTestDriver(t), kind, 2)

			if _, err := p.Prepare(0); err != nil {
				t.Fatalf("Prepare failed: %v", err)
			}

			var inv *InvariantError
			if err := p.Finish(0); !errors.As(err, &inv) || inv.Index != 2 {
				t.Fatalf("err = %v, want InvariantError for index 2", err)
			}
		})
	}
}

func TestPrepare_PurgeUnregistered(t *testing.T) {
	m := &faultyMembership{hideKeys: true}
	d := NewDriver(newTestGenerator(t), faultyFactory(m), fixture.DefaultConfig())
	p := mustSetup(t, d, PurgeKeys, 2)

	_, err := p.Prepare(0)

	var inv *InvariantError
	if !errors.As(err, &inv) {
		t.Fatalf("err = %v, want InvariantError", err)
	}

	if inv.Index != 2 || inv.Kind != PurgeKeys {
		t.Errorf("unexpected invariant error %+v", inv)
	}
}

// =============================================================================
// Run
// =============================================================================

func TestRun(t *testing.T) {
	clock := &stepClock{t: time.Unix(0, 0), step: time.Millisecond}
	obs := &recordingObserver{}
	opened := 0

	d := NewDriver(newTestGenerator(t), countingFactory(ChainEnv(testChain), &opened), fixture.DefaultConfig(),
		WithClock(clock.now),
		WithObserver(obs),
	)

	plan := Plan{Sizes: []int{1, 3, 5}, Trials: 2, VerifySteadyState: true}

	samples, err := d.Run(PurgeKeys, plan)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(samples) != 6 {
		t.Fatalf("got %d samples, want 6", len(samples))
	}

	for i, s := range samples {
		wantSize := plan.Sizes[i/plan.Trials]
		if s.CorpusSize != wantSize || s.Trial != i%plan.Trials || s.Kind != PurgeKeys {
			t.Errorf("sample %d = %+v", i, s)
		}

		if s.Duration != time.Millisecond {
			t.Errorf("sample %d duration = %v, want 1ms", i, s.Duration)
		}
	}

	if opened != len(plan.Sizes) {
		t.Errorf("opened %d ledgers, want %d", opened, len(plan.Sizes))
	}

	if len(obs.built) != 3 || len(obs.samples) != 6 {
		t.Errorf("observer saw %d builds and %d samples", len(obs.built), len(obs.samples))
	}

	// Corpus builds are timed on the same clock as trials.
	for i, elapsed := range obs.elapsed {
		if elapsed != time.Millisecond {
			t.Errorf("build %d elapsed = %v, want 1ms", i, elapsed)
		}
	}
}

// TestRun_InvalidPlan verifies no ledger is opened for a bad plan.
func TestRun_InvalidPlan(t *testing.T) {
	opened := 0
	d := NewDriver(newTestGenerator(t), countingFactory(ChainEnv(testChain), &opened), fixture.DefaultConfig())

	for _, plan := range []Plan{{Trials: 1}, {Sizes: []int{2, -1}, Trials: 1}, {Sizes: []int{2}}} {
		if _, err := d.Run(RegisterKeys, plan); err == nil {
			t.Errorf("plan %+v accepted", plan)
		}
	}

	if opened != 0 {
		t.Errorf("opened %d ledgers for invalid plans", opened)
	}
}

// TestRun_FailFast verifies a rejection of the timed operation aborts the run.
func TestRun_FailFast(t *testing.T) {
	// size registrations for the corpus, one for the subject, then the timed call.
	m := &faultyMembership{failAt: 2 + 2}
	obs := &recordingObserver{}
	d := NewDriver(newTestGenerator(t), faultyFactory(m), fixture.DefaultConfig(), WithObserver(obs))

	samples, err := d.Run(RegisterKeys, Plan{Sizes: []int{2, 4}, Trials: 3})
	if !errors.Is(err, errInjected) {
		t.Fatalf("err = %v, want injected rejection", err)
	}

	if samples != nil {
		t.Errorf("got %d samples from a failed run", len(samples))
	}

	if len(obs.samples) != 0 || len(obs.built) != 1 {
		t.Errorf("observer saw %d builds and %d samples", len(obs.built), len(obs.samples))
	}
}

// TestRun_InsufficientStake verifies a staking rejection during setup is surfaced.
func TestRun_InsufficientStake(t *testing.T) {
	poor := chain.Config{Staking: staking.Params{MinBond: 100, Issuance: 250}}
	d := NewDriver(newTestGenerator(t), ChainEnv(poor), fixture.DefaultConfig())

	_, err := d.Run(RegisterKeys, Plan{Sizes: []int{3}, Trials: 1})
	if !errors.Is(err, staking.ErrInsufficientStake) {
		t.Fatalf("err = %v, want ErrInsufficientStake", err)
	}
}

// TestRun_SteadyStateViolation verifies a drifting ledger digest is reported.
func TestRun_SteadyStateViolation(t *testing.T) {
	open := ChainEnv(testChain)
	drifting := func() (*Env, error) {
		env, err := open()
		if err != nil {
			return nil, err
		}

		var n byte
		env.Digest = func() ([32]byte, error) {
			n++
			return [32]byte{n}, nil
		}

		return env, nil
	}

	d := NewDriver(newTestGenerator(t), drifting, fixture.DefaultConfig())

	_, err := d.Run(PurgeKeys, Plan{Sizes: []int{1}, Trials: 1, VerifySteadyState: true})

	var inv *InvariantError
	if !errors.As(err, &inv) {
		t.Fatalf("err = %v, want InvariantError", err)
	}
}

// TestRun_OnDisk verifies size points on disk use separate directories.
func TestRun_OnDisk(t *testing.T) {
	cfg := testChain
	cfg.Path = t.TempDir()

	d := NewDriver(newTestGenerator(t), ChainEnv(cfg), fixture.DefaultConfig())

	samples, err := d.Run(RegisterKeys, Plan{Sizes: []int{2, 2}, Trials: 1, VerifySteadyState: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(samples) != 2 {
		t.Errorf("got %d samples, want 2", len(samples))
	}
}
