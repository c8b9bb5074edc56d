package main

import (
	"context"
	"sort"
	"sync"
	"time"

	"labelstudio/labeling"
)

// sessionEntry is a labeling session together with the notifications it
// produced for the UI.
type sessionEntry struct {
	Session   *labeling.Session
	Notes     *labeling.NotificationLog
	CreatedAt time.Time
}

// SessionRegistry holds the open labeling sessions
type SessionRegistry struct {
	sync.RWMutex
	sessions map[string]*sessionEntry
}

func newSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*sessionEntry)}
}

func (r *SessionRegistry) add(entry *sessionEntry) {
	r.Lock()
	defer r.Unlock()
	r.sessions[entry.Session.ID] = entry
}

func (r *SessionRegistry) get(id string) (*sessionEntry, bool) {
	r.RLock()
	defer r.RUnlock()
	entry, ok := r.sessions[id]
	return entry, ok
}

// All returns the open sessions, oldest first.
func (r *SessionRegistry) All() []*sessionEntry {
	r.RLock()
	defer r.RUnlock()
	out := make([]*sessionEntry, 0, len(r.sessions))
	for _, entry := range r.sessions {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// newSession opens a session configured from the current settings.
func (app *App) newSession(mode string) (*sessionEntry, error) {
	st := currentSettings()
	labelingMode := st.DefaultMode
	if mode != "" {
		parsed, err := labeling.ParseMode(mode)
		if err != nil {
			return nil, err
		}
		labelingMode = parsed
	}

	notes := labeling.NewNotificationLog(100)
	cfg := labeling.SessionConfig{
		Store:      app.Store,
		Adapter:    st.adapter(),
		Mode:       labelingMode,
		Dispatcher: app.Dispatcher,
		Notifier:   notes,
	}
	if app.Images != nil {
		cfg.Sizer = app.Images
	}

	entry := &sessionEntry{
		Session:   labeling.NewSession(cfg),
		Notes:     notes,
		CreatedAt: time.Now(),
	}
	app.Sessions.add(entry)
	log.WithField("session", entry.Session.ID).Debug("Session opened")
	return entry, nil
}

// prefetchPageImages warms the image size cache for every page of the
// session's document.
func (app *App) prefetchPageImages(session *labeling.Session) {
	if app.Images == nil {
		return
	}
	doc := session.Document()
	if doc == nil {
		return
	}
	urls := make([]string, 0, len(doc.Pages))
	for _, p := range doc.Pages {
		urls = append(urls, p.ImageURL)
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := app.Images.Prefetch(ctx, urls); err != nil {
			documentLogger(doc.ID).WithError(err).Warn("Failed to prefetch page images")
		}
	}()
}
