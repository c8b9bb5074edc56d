package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labelstudio/labeling"
)

func TestSessionRegistry_AllOldestFirst(t *testing.T) {
	registry := newSessionRegistry()
	now := time.Now()

	newer := &sessionEntry{Session: labeling.NewSession(labeling.SessionConfig{}), CreatedAt: now}
	older := &sessionEntry{Session: labeling.NewSession(labeling.SessionConfig{}), CreatedAt: now.Add(-time.Minute)}
	registry.add(newer)
	registry.add(older)

	all := registry.All()
	require.Len(t, all, 2)
	assert.Same(t, older, all[0])
	assert.Same(t, newer, all[1])

	got, ok := registry.get(newer.Session.ID)
	require.True(t, ok)
	assert.Same(t, newer, got)

	_, ok = registry.get("missing")
	assert.False(t, ok)
}

func TestNewSessionUsesSettings(t *testing.T) {
	chdirTemp(t)
	loadSettings()
	next := defaultSettings()
	next.DefaultMode = labeling.ModeLineItems
	require.NoError(t, updateSettings(next))

	app, _ := newBackgroundTestApp(t)

	entry, err := app.newSession("")
	require.NoError(t, err)
	assert.Equal(t, labeling.ModeLineItems, entry.Session.Snapshot().Mode)
	assert.NotNil(t, entry.Notes)

	entry, err = app.newSession("document")
	require.NoError(t, err)
	assert.Equal(t, labeling.ModeDocument, entry.Session.Snapshot().Mode)

	_, err = app.newSession("freehand")
	assert.Error(t, err)

	assert.Len(t, app.Sessions.All(), 2)
}
