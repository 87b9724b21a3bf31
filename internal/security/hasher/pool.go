package hasher

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many key derivations run at once.
//
// PBKDF2 at 100k+ iterations costs tens of milliseconds of CPU. Without a
// bound, a burst of logins starves every other request of CPU.
type Pool struct {
	hasher *Hasher
	sem    *semaphore.Weighted
}

// NewPool wraps h. workers <= 0 selects runtime.NumCPU().
func NewPool(h *Hasher, workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{
		hasher: h,
		sem:    semaphore.NewWeighted(int64(workers)),
	}
}

// Hasher returns the wrapped hasher for salt generation and inspection.
func (p *Pool) Hasher() *Hasher {
	return p.hasher
}

// VerifyCredential waits for a free slot then verifies password against cred.
// It returns ctx.Err() if the context ends while waiting.
func (p *Pool) VerifyCredential(ctx context.Context, password string, cred Credential) (bool, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return false, fmt.Errorf("waiting for hash worker: %w", err)
	}
	defer p.sem.Release(1)

	return p.hasher.VerifyCredential(password, cred)
}

// NewCredential waits for a free slot then derives a credential for password.
func (p *Pool) NewCredential(ctx context.Context, password string) (Credential, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return Credential{}, fmt.Errorf("waiting for hash worker: %w", err)
	}
	defer p.sem.Release(1)

	return p.hasher.NewCredential(password)
}
