package main

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"labelstudio/labeling"
)

// Job represents a persistence job: one optimistic label or session commit
// being written to the document store.
type Job struct {
	ID         string
	CommitID   string
	DocumentID string
	PageIndex  int
	Kind       labeling.CommitKind
	Status     string // "pending", "in_progress", "completed", "failed", "cancelled"
	Result     string // error message of a failed job
	Attempts   int
	CreatedAt  time.Time
	UpdatedAt  time.Time

	persist labeling.PersistJob
}

// JobStore manages jobs and their statuses
type JobStore struct {
	sync.RWMutex
	jobs map[string]*Job
}

var (
	logger = logrus.New()

	jobStore = newJobStore()
	jobQueue = make(chan *Job, 100) // Buffered channel with capacity of 100 jobs

	jobTimeout = 30 * time.Second
)

func init() {
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetLevel(logrus.InfoLevel)
}

func newJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*Job)}
}

func generateJobID() string {
	return uuid.New().String()
}

func (store *JobStore) addJob(job *Job) {
	store.Lock()
	defer store.Unlock()
	store.jobs[job.ID] = job
	logger.WithFields(jobFields(job)).Debug("Job added")
}

// getJob returns a copy of the job so callers can read it without locking.
func (store *JobStore) getJob(jobID string) (Job, bool) {
	store.RLock()
	defer store.RUnlock()
	job, exists := store.jobs[jobID]
	if !exists {
		return Job{}, false
	}
	return *job, true
}

// GetAllJobs returns copies of all jobs, newest first.
func (store *JobStore) GetAllJobs() []Job {
	store.RLock()
	defer store.RUnlock()

	jobs := make([]Job, 0, len(store.jobs))
	for _, job := range store.jobs {
		jobs = append(jobs, *job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	return jobs
}

func (store *JobStore) updateJobStatus(jobID, status, result string) {
	store.Lock()
	defer store.Unlock()
	if job, exists := store.jobs[jobID]; exists {
		job.Status = status
		if result != "" {
			job.Result = result
		}
		if status == "in_progress" {
			job.Attempts++
		}
		job.UpdatedAt = time.Now()
		logger.WithFields(jobFields(job)).Debug("Job status updated")
	}
}

func jobFields(job *Job) logrus.Fields {
	return logrus.Fields{
		"job_id":   job.ID,
		"commit":   job.CommitID,
		"document": job.DocumentID,
		"page":     job.PageIndex,
		"kind":     job.Kind,
		"status":   job.Status,
	}
}

// JobDispatcher queues session commits for the worker pool and records them
// in the commit history. It implements labeling.Dispatcher.
type JobDispatcher struct {
	store *JobStore
	queue chan *Job
	db    *gorm.DB
}

func newJobDispatcher(store *JobStore, queue chan *Job, db *gorm.DB) *JobDispatcher {
	return &JobDispatcher{store: store, queue: queue, db: db}
}

// Dispatch implements labeling.Dispatcher.
func (d *JobDispatcher) Dispatch(persist labeling.PersistJob) {
	now := time.Now()
	job := &Job{
		ID:         generateJobID(),
		CommitID:   persist.Commit.ID,
		DocumentID: persist.Commit.DocumentID,
		PageIndex:  persist.Commit.PageIndex,
		Kind:       persist.Commit.Kind,
		Status:     "pending",
		CreatedAt:  now,
		UpdatedAt:  now,
		persist:    persist,
	}
	d.store.addJob(job)

	if d.db != nil {
		record := LabelCommitRecord{
			CommitID:   job.CommitID,
			JobID:      job.ID,
			DocumentID: job.DocumentID,
			PageIndex:  job.PageIndex,
			Kind:       string(job.Kind),
			Status:     string(labeling.CommitPending),
		}
		if err := InsertLabelCommit(d.db, &record); err != nil {
			logger.WithFields(jobFields(job)).WithError(err).Error("Failed to record commit")
		}
	}

	d.queue <- job
}

func startWorkerPool(d *JobDispatcher, numWorkers int) {
	for i := 0; i < numWorkers; i++ {
		go func(workerID int) {
			logger.Infof("Worker %d started", workerID)
			for job := range d.queue {
				logger.Debugf("Worker %d processing job: %s", workerID, job.ID)
				d.processJob(job)
			}
		}(i)
	}
}

func (d *JobDispatcher) processJob(job *Job) {
	d.store.updateJobStatus(job.ID, "in_progress", "")

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	err := job.persist.Run(ctx)
	status := labeling.CommitSaved
	errMsg := ""
	switch {
	case err == nil:
		d.store.updateJobStatus(job.ID, "completed", "")
	case ctx.Err() == context.DeadlineExceeded:
		status, errMsg = labeling.CommitFailed, err.Error()
		d.store.updateJobStatus(job.ID, "cancelled", errMsg)
	default:
		status, errMsg = labeling.CommitFailed, err.Error()
		d.store.updateJobStatus(job.ID, "failed", errMsg)
	}

	if d.db != nil {
		if dbErr := UpdateLabelCommitStatus(d.db, job.CommitID, string(status), errMsg); dbErr != nil {
			logger.WithFields(jobFields(job)).WithError(dbErr).Error("Failed to update commit record")
		}
	}

	if job.persist.Done != nil {
		job.persist.Done(err)
	}
}

var _ labeling.Dispatcher = (*JobDispatcher)(nil)
