// Package scenario drives the benchmarked membership operations over corpora
// of increasing size and records one timing sample per trial.
//
// A size point owns one clean ledger. Each trial enrolls a subject at the
// first index past the corpus, times the operation on it and retires it, so
// the ledger a trial sees is the same for every trial of the point.
package scenario

import (
	"fmt"
	"time"

	"SessionBench/internal/fixture"
	"SessionBench/internal/identity"
	"SessionBench/internal/logger"
)

// InvariantError reports a broken precondition of the driver itself, as
// opposed to a rejection by a collaborator.
type InvariantError struct {
	Kind   OperationKind // Kind is the operation being prepared or checked
	Size   int           // Size is the corpus size of the point
	Trial  int           // Trial is the trial number, or -1 outside a trial
	Index  uint64        // Index is the identity index of the offending record
	Reason string        // Reason describes the violation
	Err    error         // Err is the underlying collaborator error, if any
}

// Error implements error.
func (e *InvariantError) Error() string {
	msg := fmt.Sprintf("invariant violated: %s (operation=%s size=%d trial=%d index=%d)",
		e.Reason, e.Kind, e.Size, e.Trial, e.Index)

	if e.Err != nil {
		msg += ":\n" + e.Err.Error()
	}

	return msg
}

// Unwrap returns the underlying error.
func (e *InvariantError) Unwrap() error {
	return e.Err
}

// Observer is notified of corpus builds and recorded samples.
// Calls happen outside timed regions.
type Observer interface {
	// CorpusBuilt is called once per size point after the corpus is built.
	CorpusBuilt(kind OperationKind, size int, elapsed time.Duration)

	// SampleRecorded is called once per successful trial.
	SampleRecorded(s Sample)
}

// Driver runs size points against ledgers opened by an EnvFactory.
type Driver struct {
	src      identity.Source
	open     EnvFactory
	fixture  fixture.Config
	now      func() time.Time
	observer Observer
}

// Option configures the Driver during creation.
type Option func(*Driver)

// WithClock sets the time source used to measure trials and corpus builds.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) {
		d.now = now
	}
}

// WithObserver sets the observer notified of builds and samples.
func WithObserver(o Observer) Option {
	return func(d *Driver) {
		d.observer = o
	}
}

// NewDriver creates a driver drawing identities from src and ledgers from open.
func NewDriver(src identity.Source, open EnvFactory, cfg fixture.Config, opts ...Option) *Driver {
	d := &Driver{
		src:     src,
		open:    open,
		fixture: cfg,
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Run validates plan, then runs every size point in order and returns the samples.
// The first error aborts the run; samples gathered so far are discarded.
func (d *Driver) Run(kind OperationKind, plan Plan) ([]Sample, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	samples := make([]Sample, 0, len(plan.Sizes)*plan.Trials)

	for _, size := range plan.Sizes {
		point, err := d.Setup(kind, size)
		if err != nil {
			return nil, err
		}
		point.verify = plan.VerifySteadyState

		start := time.Now()
		for trial := 0; trial < plan.Trials; trial++ {
			s, err := point.Trial(trial)
			if err != nil {
				point.Close()
				return nil, err
			}
			samples = append(samples, s)
		}

		if err := point.Close(); err != nil {
			return nil, fmt.Errorf("close size point %d:\n%w", size, err)
		}

		logger.Info("size point finished",
			"operation", kind,
			"size", size,
			"trials", plan.Trials,
			logger.Timed(start),
		)
	}

	return samples, nil
}

// Setup opens a clean ledger and builds a corpus of size records on it.
func (d *Driver) Setup(kind OperationKind, size int) (*Point, error) {
	if kind != RegisterKeys && kind != PurgeKeys {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, kind)
	}

	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", fixture.ErrInvalidSize, size)
	}

	env, err := d.open()
	if err != nil {
		return nil, fmt.Errorf("open ledger:\n%w", err)
	}

	builder := fixture.NewBuilder(d.src, env.Staking, env.Membership, d.fixture)

	start := d.now()
	corpus, err := builder.Build(size)
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("build corpus of %d:\n%w", size, err)
	}
	elapsed := d.now().Sub(start)

	if d.observer != nil {
		d.observer.CorpusBuilt(kind, size, elapsed)
	}

	logger.Info("corpus built",
		"operation", kind,
		"size", size,
		"stake", builder.Stake(),
		"elapsed", elapsed,
	)

	return &Point{
		d:       d,
		kind:    kind,
		size:    size,
		env:     env,
		builder: builder,
		corpus:  corpus,
	}, nil
}

// Point is one size point: a ledger holding a built corpus.
// Trials on a point must run sequentially.
type Point struct {
	d       *Driver
	kind    OperationKind
	size    int
	env     *Env
	builder *fixture.Builder
	corpus  *fixture.Corpus
	verify  bool

	// Per-trial state, set by Prepare and cleared by Finish.
	subject *fixture.Record
	fresh   identity.KeyMaterial
	before  [32]byte
}

// Kind returns the point's operation.
func (p *Point) Kind() OperationKind {
	return p.kind
}

// Size returns the corpus size.
func (p *Point) Size() int {
	return p.size
}

// Corpus returns the corpus built for the point.
func (p *Point) Corpus() *fixture.Corpus {
	return p.corpus
}

// VerifySteadyState enables or disables the per-trial ledger digest check.
func (p *Point) VerifySteadyState(on bool) {
	p.verify = on
}

// Trial prepares, times and finishes one trial.
func (p *Point) Trial(trial int) (Sample, error) {
	action, err := p.Prepare(trial)
	if err != nil {
		return Sample{}, err
	}

	start := p.d.now()
	err = action()
	elapsed := p.d.now().Sub(start)

	if err != nil {
		return Sample{}, fmt.Errorf("%s trial %d at size %d:\n%w", p.kind, trial, p.size, err)
	}

	if err := p.Finish(trial); err != nil {
		return Sample{}, err
	}

	s := Sample{Kind: p.kind, CorpusSize: p.size, Trial: trial, Duration: elapsed}

	if p.d.observer != nil {
		p.d.observer.SampleRecorded(s)
	}

	logger.Debug("trial recorded",
		"operation", p.kind,
		"size", p.size,
		"trial", trial,
		"duration", elapsed,
	)

	return s, nil
}

// Prepare enrolls the trial's subject and returns the action to time.
// The action performs only the operation under test.
func (p *Point) Prepare(trial int) (func() error, error) {
	index := p.subjectIndex()

	if p.subject != nil {
		return nil, p.invariant(trial, index, "previous trial not finished", nil)
	}

	if p.verify && p.env.Digest != nil {
		digest, err := p.env.Digest()
		if err != nil {
			return nil, fmt.Errorf("digest before trial %d:\n%w", trial, err)
		}
		p.before = digest
	}

	rec, err := p.builder.Enroll(index)
	if err != nil {
		return nil, fmt.Errorf("enroll subject %d:\n%w", index, err)
	}
	p.subject = &rec

	members := p.env.Membership

	switch p.kind {
	case RegisterKeys:
		fresh, err := p.d.src.KeysFor(index+1, rec.Participant)
		if err != nil {
			return nil, fmt.Errorf("derive fresh keys %d:\n%w", index+1, err)
		}

		if fresh.Equal(rec.Keys) {
			return nil, p.invariant(trial, index, "fresh keys equal current keys", nil)
		}
		p.fresh = fresh

		return func() error {
			return members.RegisterKeys(rec.Controller, fresh.Keys, fresh.Proof)
		}, nil

	default:
		registered, err := members.HasKeys(rec.Participant)
		if err != nil {
			return nil, err
		}

		if !registered {
			return nil, p.invariant(trial, index, "purge of unregistered record", nil)
		}

		return func() error {
			return members.PurgeKeys(rec.Controller)
		}, nil
	}
}

// Finish checks the trial's outcome and retires its subject.
func (p *Point) Finish(trial int) error {
	if p.subject == nil {
		return p.invariant(trial, p.subjectIndex(), "finish without prepare", nil)
	}

	rec := *p.subject

	switch p.kind {
	case RegisterKeys:
		if err := p.checkRegistered(trial, rec, p.fresh); err != nil {
			return err
		}

	default:
		if err := p.checkPurged(trial, rec); err != nil {
			return err
		}
	}

	if err := p.builder.Retire(rec); err != nil {
		return fmt.Errorf("retire subject %d:\n%w", rec.Index, err)
	}
	p.subject = nil
	p.fresh = identity.KeyMaterial{}

	if p.verify && p.env.Digest != nil {
		after, err := p.env.Digest()
		if err != nil {
			return fmt.Errorf("digest after trial %d:\n%w", trial, err)
		}

		if after != p.before {
			return p.invariant(trial, rec.Index, "ledger changed across trial", nil)
		}
	}

	return nil
}

// RegisterKeys submits keys derived at freshIndex for the corpus record at
// position target. freshIndex must lie past the corpus and past the indices
// trials reserve for their subject and its fresh keys (see FirstFreeIndex).
// Returns the submitted key material.
func (p *Point) RegisterKeys(target int, freshIndex uint64) (identity.KeyMaterial, error) {
	rec, err := p.record(target)
	if err != nil {
		return identity.KeyMaterial{}, err
	}

	if freshIndex < p.FirstFreeIndex() {
		return identity.KeyMaterial{}, p.invariant(-1, rec.Index,
			fmt.Sprintf("fresh index %d below first free index %d", freshIndex, p.FirstFreeIndex()), nil)
	}

	fresh, err := p.d.src.KeysFor(freshIndex, rec.Participant)
	if err != nil {
		return identity.KeyMaterial{}, fmt.Errorf("derive fresh keys %d:\n%w", freshIndex, err)
	}

	if err := p.env.Membership.RegisterKeys(rec.Controller, fresh.Keys, fresh.Proof); err != nil {
		return identity.KeyMaterial{}, err
	}

	if err := p.checkRegistered(-1, rec, fresh); err != nil {
		return identity.KeyMaterial{}, err
	}

	return fresh, nil
}

// PurgeKeys purges the keys of the corpus record at position target.
// Purging a record without keys returns the membership error wrapped in an
// *InvariantError naming the record.
func (p *Point) PurgeKeys(target int) error {
	rec, err := p.record(target)
	if err != nil {
		return err
	}

	if err := p.env.Membership.PurgeKeys(rec.Controller); err != nil {
		registered, qerr := p.env.Membership.HasKeys(rec.Participant)
		if qerr == nil && !registered {
			return p.invariant(-1, rec.Index, "purge of unregistered record", err)
		}
		return err
	}

	return p.checkPurged(-1, rec)
}

// Close discards the point's ledger.
func (p *Point) Close() error {
	return p.env.Close()
}

// subjectIndex is the first identity index past the corpus.
func (p *Point) subjectIndex() uint64 {
	return uint64(p.size)
}

// FirstFreeIndex is the lowest identity index no trial ever uses: indices
// below size belong to the corpus, size to the trial subject and size+1 to
// the subject's fresh keys.
func (p *Point) FirstFreeIndex() uint64 {
	return p.subjectIndex() + 2
}

// record returns the corpus record at position target.
func (p *Point) record(target int) (fixture.Record, error) {
	if target < 0 || target >= p.corpus.Len() {
		return fixture.Record{}, fmt.Errorf("%w: record %d of %d", fixture.ErrInvalidSize, target, p.corpus.Len())
	}

	return p.corpus.Record(target), nil
}

// checkRegistered verifies rec now holds exactly want.
func (p *Point) checkRegistered(trial int, rec fixture.Record, want identity.KeyMaterial) error {
	got, ok, err := p.env.Membership.KeysOf(rec.Participant)
	if err != nil {
		return err
	}

	if !ok || !got.Equal(want) {
		return p.invariant(trial, rec.Index, "registered keys differ from submitted keys", nil)
	}

	owned, err := p.env.Membership.OwnedKeys(rec.Participant)
	if err != nil {
		return err
	}

	if owned != len(want.Keys) {
		return p.invariant(trial, rec.Index, fmt.Sprintf("participant owns %d keys, want %d", owned, len(want.Keys)), nil)
	}

	return nil
}

// checkPurged verifies rec holds no keys and owns no ownership entries.
func (p *Point) checkPurged(trial int, rec fixture.Record) error {
	registered, err := p.env.Membership.HasKeys(rec.Participant)
	if err != nil {
		return err
	}

	owned, err := p.env.Membership.OwnedKeys(rec.Participant)
	if err != nil {
		return err
	}

	if registered || owned != 0 {
		return p.invariant(trial, rec.Index, fmt.Sprintf("keys remain after purge (owned=%d)", owned), nil)
	}

	return nil
}

// invariant builds an *InvariantError for this point.
func (p *Point) invariant(trial int, index uint64, reason string, err error) *InvariantError {
	return &InvariantError{
		Kind:   p.kind,
		Size:   p.size,
		Trial:  trial,
		Index:  index,
		Reason: reason,
		Err:    err,
	}
}
