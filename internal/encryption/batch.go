package encryption

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"portab/internal/model"
)

// SealJob is one input to SealAll.
type SealJob struct {
	Plaintext []byte
	Password  string
}

// SealResult is the outcome of one SealJob.
type SealResult struct {
	Envelope *model.Envelope
	Err      error
}

// OpenJob is one input to OpenAll.
type OpenJob struct {
	Envelope *model.Envelope
	Password string
}

// OpenResult is the outcome of one OpenJob.
type OpenResult struct {
	Plaintext []byte
	Err       error
}

// SealAll seals every job with at most limit derivations in flight
// (GOMAXPROCS when limit <= 0). results[i] belongs to jobs[i]; a failed job
// does not stop the others.
func (s *PasswordSealer) SealAll(ctx context.Context, jobs []SealJob, limit int) []SealResult {
	results := make([]SealResult, len(jobs))
	runBounded(len(jobs), limit, func(i int) {
		env, err := s.Seal(ctx, jobs[i].Plaintext, jobs[i].Password)
		results[i] = SealResult{Envelope: env, Err: err}
	})
	return results
}

// OpenAll opens every job like SealAll seals them.
func (s *PasswordSealer) OpenAll(ctx context.Context, jobs []OpenJob, limit int) []OpenResult {
	results := make([]OpenResult, len(jobs))
	runBounded(len(jobs), limit, func(i int) {
		plaintext, err := s.Open(ctx, jobs[i].Envelope, jobs[i].Password)
		results[i] = OpenResult{Plaintext: plaintext, Err: err}
	})
	return results
}

func runBounded(n, limit int, fn func(i int)) {
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			fn(i)
			return nil
		})
	}
	_ = g.Wait()
}
