package scenario

import (
	"fmt"
	"testing"

	"SessionBench/internal/chain"
	"SessionBench/internal/fixture"
	"SessionBench/internal/identity"
	"SessionBench/internal/staking"
)

// benchSizes are the corpus sizes each benchmark runs at.
var benchSizes = []int{10, 100, 500}

func BenchmarkRegisterKeys(b *testing.B) {
	benchmarkOperation(b, RegisterKeys)
}

func BenchmarkPurgeKeys(b *testing.B) {
	benchmarkOperation(b, PurgeKeys)
}

// benchmarkOperation times kind at every bench size.
// Only the operation itself runs with the timer on.
func benchmarkOperation(b *testing.B, kind OperationKind) {
	g, err := identity.NewGenerator([]byte(identity.DefaultSeed))
	if err != nil {
		b.Fatalf("NewGenerator failed: %v", err)
	}

	open := ChainEnv(chain.Config{Staking: staking.DefaultParams()})
	d := NewDriver(g, open, fixture.DefaultConfig())

	for _, size := range benchSizes {
		b.Run(fmt.Sprintf("size=%d", size), func(b *testing.B) {
			p, err := d.Setup(kind, size)
			if err != nil {
				b.Fatalf("Setup failed: %v", err)
			}
			defer p.Close()

			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				b.StopTimer()
				action, err := p.Prepare(i)
				if err != nil {
					b.Fatalf("Prepare failed: %v", err)
				}
				b.StartTimer()

				if err := action(); err != nil {
					b.Fatalf("%s failed: %v", kind, err)
				}

				b.StopTimer()
				if err := p.Finish(i); err != nil {
					b.Fatalf("Finish failed: %v", err)
				}
				b.StartTimer()
			}
		})
	}
}
