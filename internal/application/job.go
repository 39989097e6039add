package application

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/repscreen/repscreen/internal/domain/model"
)

// Job is one scan invocation: an ordered entry list driven through the lookup
// client under a single credential. The credential is pinned for the job's
// entire lifetime; rotation only affects which credential a future job uses.
type Job struct {
	ID      string
	ActorID string
	Kind    model.EntryKind

	credential string
	entries    []string

	mu       sync.Mutex
	cursor   int
	findings []model.Finding
	status   model.ScanStatus

	cancelled  atomic.Bool
	done       chan struct{}
	progressCh chan model.Progress
}

// Snapshot is a point-in-time copy of a job's observable state.
type Snapshot struct {
	ID        string
	Status    model.ScanStatus
	Processed int
	Total     int
	Findings  []model.Finding
}

func newJob(actorID, credential string, kind model.EntryKind, entries []string) *Job {
	return &Job{
		ID:         uuid.NewString(),
		ActorID:    actorID,
		Kind:       kind,
		credential: credential,
		entries:    entries,
		status:     model.ScanStatusRunning,
		done:       make(chan struct{}),
		progressCh: make(chan model.Progress, 1),
	}
}

// Cancel requests cooperative cancellation. An in-flight lookup is allowed to
// finish; no further entries are attempted after it. Once set the flag is
// never cleared. Cancelling a finished job has no effect.
func (j *Job) Cancel() {
	j.cancelled.Store(true)
}

// Done is closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Progress delivers a processed/total update after every entry. The channel
// is latest-wins: a slow observer sees the most recent update rather than
// blocking the scan loop.
func (j *Job) Progress() <-chan model.Progress {
	return j.progressCh
}

// Snapshot returns the job's current status, cursor position, and a copy of
// the findings accumulated so far.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	findings := make([]model.Finding, len(j.findings))
	copy(findings, j.findings)

	return Snapshot{
		ID:        j.ID,
		Status:    j.status,
		Processed: j.cursor,
		Total:     len(j.entries),
		Findings:  findings,
	}
}

// addFinding appends a finding. Findings keep the relative order of their
// input entries since the loop is strictly sequential.
func (j *Job) addFinding(f model.Finding) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.findings = append(j.findings, f)
}

// advance moves the cursor past one attempted entry and emits a progress
// update.
func (j *Job) advance() {
	j.mu.Lock()
	j.cursor++
	p := model.Progress{Processed: j.cursor, Total: len(j.entries)}
	j.mu.Unlock()

	// Latest-wins send: drop the stale update if the observer hasn't drained.
	select {
	case j.progressCh <- p:
	default:
		select {
		case <-j.progressCh:
		default:
		}
		select {
		case j.progressCh <- p:
		default:
		}
	}
}

// finish records the terminal status and releases Done waiters.
func (j *Job) finish(status model.ScanStatus) {
	j.mu.Lock()
	j.status = status
	j.mu.Unlock()
	close(j.done)
}
