package application

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/repscreen/repscreen/internal/domain/model"
	"github.com/repscreen/repscreen/internal/domain/port/driven"
)

// ScanService is the batch scan orchestrator. It admits triggers through the
// governor, pins the active credential for the new job, and drives the job's
// entries one-by-one through the lookup client while keeping the shared usage
// counter honest.
type ScanService struct {
	usage    driven.UsageStore
	lookup   driven.LookupClient
	provider *CredentialProvider
	governor *Governor

	mu   sync.Mutex
	jobs map[string]*Job // by job ID; finished jobs stay retrievable
}

// NewScanService creates a ScanService with all required collaborators.
func NewScanService(
	usage driven.UsageStore,
	lookup driven.LookupClient,
	provider *CredentialProvider,
	governor *Governor,
) *ScanService {
	return &ScanService{
		usage:    usage,
		lookup:   lookup,
		provider: provider,
		governor: governor,
		jobs:     make(map[string]*Job),
	}
}

// StartScan admits and launches one scan job for the actor. It blocks for the
// debounce window; every admission failure is returned synchronously, before
// any network call, and starts nothing. On success the job runs on its own
// goroutine and the returned handle exposes cancellation, progress, and the
// terminal result.
//
// Admission order, first failure wins: governor (ErrAlreadyRunning,
// ErrSuperseded, CooldownActiveError), credential configured
// (ErrCredentialRequired), list bounds (ErrNoEntries, ErrTooManyEntries),
// fresh quota check (InsufficientQuotaError).
func (s *ScanService) StartScan(ctx context.Context, actorID string, entries []string, kind model.EntryKind) (*Job, error) {
	if err := s.governor.Trigger(ctx, actorID); err != nil {
		return nil, err
	}

	credential := s.provider.Active()
	if credential == "" {
		s.governor.Release(actorID)
		return nil, ErrCredentialRequired
	}

	if len(entries) == 0 {
		s.governor.Release(actorID)
		return nil, ErrNoEntries
	}
	if len(entries) > MaxScanEntries {
		s.governor.Release(actorID)
		return nil, ErrTooManyEntries
	}

	used, err := s.usage.Usage(ctx, credential)
	if err != nil {
		// Fail closed: unconfirmed usage is treated as an exhausted credential.
		slog.Error("usage check failed at admission", "actor", actorID, "error", err)
		s.governor.Release(actorID)
		return nil, &InsufficientQuotaError{Remaining: 0}
	}
	if used+len(entries) > HardDailyCap {
		s.governor.Release(actorID)
		remaining := HardDailyCap - used
		if remaining < 0 {
			remaining = 0
		}
		return nil, &InsufficientQuotaError{Remaining: remaining}
	}

	job := newJob(actorID, credential, kind, entries)
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	slog.Info("scan started",
		"job", job.ID,
		"actor", actorID,
		"kind", string(kind),
		"entries", len(entries),
	)

	go s.run(job)
	return job, nil
}

// Job returns a previously started job by ID.
func (s *ScanService) Job(id string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	return job, ok
}

// finishJob records the terminal outcome with the governor before releasing
// Done waiters, so a caller reacting to Done already observes the cooldown.
func (s *ScanService) finishJob(job *Job, status model.ScanStatus) {
	s.governor.Complete(job.ActorID)
	job.finish(status)
}

// run drives the job entry-by-entry. Cancellation and quota are re-checked
// between entries -- these are the only suspension points that matter, since
// there is no intra-job parallelism. A failed lookup skips its entry and never
// aborts the batch; the vendor bills attempted calls whether or not they
// succeed, so usage is incremented exactly once per attempt. A failed
// increment ends the job instead: the counter is no longer trustworthy.
func (s *ScanService) run(job *Job) {
	// The job outlives the request that triggered it, and cancellation is
	// cooperative rather than context-driven: an in-flight lookup is allowed
	// to finish naturally (the client's own timeout bounds a stalled call).
	ctx := context.Background()
	start := time.Now()

	for _, entry := range job.entries {
		if job.cancelled.Load() {
			s.finishJob(job, model.ScanStatusCancelled)
			snap := job.Snapshot()
			slog.Info("scan cancelled",
				"job", job.ID,
				"processed", snap.Processed,
				"total", snap.Total,
			)
			return
		}

		// The same credential may be consumed concurrently elsewhere, so the
		// cap is re-checked against a fresh read before every call.
		used, err := s.usage.Usage(ctx, job.credential)
		if err != nil {
			// Fail closed: if usage cannot be confirmed, the call is not made.
			slog.Error("usage check failed mid-scan", "job", job.ID, "error", err)
			s.finishJob(job, model.ScanStatusQuotaExhausted)
			return
		}
		if used >= HardDailyCap {
			slog.Warn("daily cap reached mid-scan", "job", job.ID, "used", used)
			s.finishJob(job, model.ScanStatusQuotaExhausted)
			return
		}

		signals, lookupErr := s.lookup.Lookup(ctx, job.Kind, entry, job.credential)
		switch {
		case lookupErr != nil:
			slog.Warn("lookup failed, entry skipped", "job", job.ID, "entry", entry, "error", lookupErr)
		case signals > 0:
			job.addFinding(model.Finding{Entry: entry, SignalCount: signals})
		}

		incErr := s.usage.IncrementUsage(ctx, job.credential)
		job.advance()
		if incErr != nil {
			// The counter is now missing a billed call, so every later cap
			// pre-check would run on a stale count. Fail closed: no further
			// calls are made.
			slog.Error("usage increment failed mid-scan", "job", job.ID, "error", incErr)
			s.finishJob(job, model.ScanStatusQuotaExhausted)
			return
		}
	}

	s.finishJob(job, model.ScanStatusCompleted)
	snap := job.Snapshot()
	slog.Info("scan completed",
		"job", job.ID,
		"entries", snap.Total,
		"findings", len(snap.Findings),
		"duration", time.Since(start).Round(time.Millisecond),
	)
}
