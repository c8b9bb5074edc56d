package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"labelstudio/labeling"
)

// BackgroundProcessor is the work done by the background loop, allowing us to
// enable proper testing
type BackgroundProcessor interface {
	recheckPendingSessions(ctx context.Context) (int, error)
}

var (
	minBackoffDuration = 10 * time.Second
	maxBackoffDuration = time.Hour
	pollingInterval    = 30 * time.Second
)

// StartBackgroundTasks periodically re-checks sessions waiting for a document's
// extraction results.
func StartBackgroundTasks(ctx context.Context, app BackgroundProcessor) {
	go func() {
		backoffDuration := minBackoffDuration

		for {
			select {
			case <-ctx.Done():
				log.Infoln("Background tasks shutting down")
				return
			default: // needed to make this non-blocking
			}

			processedCount, err := app.recheckPendingSessions(ctx)

			wait := pollingInterval
			if err != nil {
				log.Errorf("Error re-checking pending documents: %v", err)
				wait = backoffDuration

				// Exponential backoff logic
				backoffDuration *= 2
				if backoffDuration > maxBackoffDuration {
					log.Warnf("Max backoff duration reached. Using %v", maxBackoffDuration)
					backoffDuration = maxBackoffDuration
				}
			} else {
				// Reset backoff when processing succeeds
				backoffDuration = minBackoffDuration
				if processedCount > 0 {
					log.Infof("Loaded %d previously pending documents", processedCount)
				}
			}

			select {
			case <-ctx.Done():
				log.Infoln("Background tasks shutting down")
				return
			case <-time.After(wait):
			}
		}
	}()
}

// recheckPendingSessions reloads every session whose document had no extraction
// results yet. It returns the number of sessions that now have a page loaded.
func (app *App) recheckPendingSessions(ctx context.Context) (int, error) {
	var errs []error
	loaded := 0

	for _, entry := range app.Sessions.All() {
		documentID := entry.Session.PendingDocumentID()
		if documentID == "" {
			continue
		}

		docLogger := documentLogger(documentID).WithField("session", entry.Session.ID)
		docLogger.Debug("Re-checking pending document")

		if err := entry.Session.Reload(ctx); err != nil {
			err = fmt.Errorf("error reloading document %s: %w", documentID, err)
			docLogger.Error(err.Error())
			errs = append(errs, err)
			continue
		}

		if entry.Session.State() == labeling.StateReady {
			docLogger.Info("Pending document is ready for labeling")
			entry.Notes.Notify(labeling.Notification{
				Level:      labeling.NotifyInfo,
				Message:    fmt.Sprintf("Document %s is ready for labeling", documentID),
				DocumentID: documentID,
			})
			app.prefetchPageImages(entry.Session)
			loaded++
		}
	}

	if len(errs) > 0 {
		return loaded, errors.Join(errs...)
	}
	return loaded, nil
}
