package labeling

import (
	"context"
	"time"
)

// CommitKind names what a persistence job writes.
type CommitKind string

const (
	CommitDocumentLabels CommitKind = "document_labels"
	CommitLineItemLabels CommitKind = "line_item_labels"
	CommitSession        CommitKind = "session"
)

// CommitStatus tracks an optimistic write until the store acknowledges it.
type CommitStatus string

const (
	CommitPending CommitStatus = "pending"
	CommitSaved   CommitStatus = "saved"
	CommitFailed  CommitStatus = "failed"
)

// Commit is one optimistic write and its persistence status.
type Commit struct {
	ID         string       `json:"id"`
	DocumentID string       `json:"document_id"`
	PageIndex  int          `json:"page_index"`
	Kind       CommitKind   `json:"kind"`
	Status     CommitStatus `json:"status"`
	Error      string       `json:"error,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// PersistJob carries one write to the document store. Done must be called
// exactly once with the result of Run.
type PersistJob struct {
	Commit Commit
	Run    func(ctx context.Context) error
	Done   func(err error)
}

// Dispatcher executes persistence jobs off the caller's path.
type Dispatcher interface {
	Dispatch(job PersistJob)
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(job PersistJob)

// Dispatch calls f(job).
func (f DispatcherFunc) Dispatch(job PersistJob) { f(job) }

// GoDispatcher runs every job on its own goroutine.
type GoDispatcher struct {
	Timeout time.Duration
}

// Dispatch starts the job and returns immediately.
func (d GoDispatcher) Dispatch(job PersistJob) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		job.Done(job.Run(ctx))
	}()
}
