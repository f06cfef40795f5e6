package report

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/novel/internal/fingerprint"
	"github.com/roach88/novel/internal/policy"
)

// Producers returns the producers that apply to a project, in the order the
// commit runs and writes them. Profile producers need a platform profile;
// the cliché lint needs its own config.
func Producers(profile *policy.Profile, cliche *ClicheConfig) []Producer {
	var out []Producer
	if profile != nil {
		out = append(out, PlatformConstraints{}, TitlePolicy{}, Readability{}, Naming{})
	}
	if cliche != nil {
		out = append(out, Cliche{Config: cliche})
	}
	return out
}

// Precomputed holds text-only reports computed before the lock was taken,
// each tagged with the fingerprint of the chapter it was computed from.
type Precomputed struct {
	mu     sync.Mutex
	guards map[string]fingerprint.Guarded[*Report]
}

func producerCompute(p Producer, in Input) fingerprint.ComputeFunc[*Report] {
	return func(data []byte) (*Report, error) {
		in.Text = string(data)
		return p.Produce(in)
	}
}

// Precompute runs every producer that does not need state over the chapter
// file, with at most workers running at once. Failures are returned as
// warnings; the affected producers simply run again inside the lock.
func Precompute(ctx context.Context, chapterPath string, producers []Producer, in Input, workers int) (*Precomputed, []string) {
	pc := &Precomputed{guards: map[string]fingerprint.Guarded[*Report]{}}
	if workers < 1 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var mu sync.Mutex
	var warnings []string
	for _, p := range producers {
		if p.Spec().UsesState {
			continue
		}
		p := p
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			guard, err := fingerprint.Precompute(chapterPath, producerCompute(p, in))
			if err != nil {
				mu.Lock()
				warnings = append(warnings, fmt.Sprintf("Precompute of %s report failed: %v", p.Spec().Kind, err))
				mu.Unlock()
				return nil
			}
			pc.mu.Lock()
			pc.guards[p.Spec().Kind] = guard
			pc.mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		warnings = append(warnings, fmt.Sprintf("Precompute interrupted: %v", err))
	}
	return pc, warnings
}

// Resolve returns p's report for in. A precomputed report is used only if the
// chapter file still matches its fingerprint; otherwise, and for producers
// that read state, the report is computed now from in.Text.
func (pc *Precomputed) Resolve(p Producer, in Input) (*Report, error) {
	if pc != nil && !p.Spec().UsesState {
		pc.mu.Lock()
		guard, ok := pc.guards[p.Spec().Kind]
		pc.mu.Unlock()
		if ok {
			r, _, err := guard.Resolve(producerCompute(p, in))
			return r, err
		}
	}
	return p.Produce(in)
}
