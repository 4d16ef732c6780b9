package scenario

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrEmptyPlan is returned when a plan declares no corpus sizes.
	ErrEmptyPlan = errors.New("plan declares no corpus sizes")

	// ErrInvalidPlan is returned for a non-positive size or trial count.
	ErrInvalidPlan = errors.New("invalid plan")

	// ErrUnknownOperation is returned when an operation name is not recognized.
	ErrUnknownOperation = errors.New("unknown operation")
)

// OperationKind identifies a benchmarked membership operation.
type OperationKind uint8

const (
	RegisterKeys OperationKind = iota + 1 // RegisterKeys replaces a participant's keys
	PurgeKeys                             // PurgeKeys removes a participant's keys
)

// Operations returns every operation kind in declaration order.
func Operations() []OperationKind {
	return []OperationKind{RegisterKeys, PurgeKeys}
}

// String returns the operation name.
func (k OperationKind) String() string {
	switch k {
	case RegisterKeys:
		return "register_keys"
	case PurgeKeys:
		return "purge_keys"
	default:
		return fmt.Sprintf("operation(%d)", uint8(k))
	}
}

// ParseOperationKind parses an operation name. Dashes and case are ignored.
func ParseOperationKind(name string) (OperationKind, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")

	for _, k := range Operations() {
		if k.String() == normalized {
			return k, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownOperation, name)
}

// MarshalText encodes the operation as its name.
func (k OperationKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses an operation name.
func (k *OperationKind) UnmarshalText(text []byte) error {
	parsed, err := ParseOperationKind(string(text))
	if err != nil {
		return err
	}

	*k = parsed
	return nil
}

// Sample is one timed invocation of an operation.
type Sample struct {
	Kind       OperationKind `json:"operation"`   // Kind is the timed operation
	CorpusSize int           `json:"corpus_size"` // CorpusSize is the number of records in the ledger
	Trial      int           `json:"trial"`       // Trial is the zero-based trial number within the size point
	Duration   time.Duration `json:"duration_ns"` // Duration is the wall time of the operation alone
}

// Plan declares the size points and trials of a run.
type Plan struct {
	Sizes             []int // Sizes are the corpus sizes, run in order
	Trials            int   // Trials is the number of samples per size
	VerifySteadyState bool  // VerifySteadyState checks the ledger digest after every trial
}

// Validate checks the plan before any ledger is opened.
func (p Plan) Validate() error {
	if len(p.Sizes) == 0 {
		return ErrEmptyPlan
	}

	for i, size := range p.Sizes {
		if size <= 0 {
			return fmt.Errorf("%w: size[%d] = %d", ErrInvalidPlan, i, size)
		}
	}

	if p.Trials < 1 {
		return fmt.Errorf("%w: trials = %d", ErrInvalidPlan, p.Trials)
	}

	return nil
}
