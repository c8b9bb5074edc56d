// Package labeling implements the document-labeling core: conversion between
// pixel bounding boxes and percentage rectangles, the per-page label store,
// the pointer-driven draw controller, the adapter between extracted page data
// and labels, and the session controller that ties them to a document store.
package labeling

import (
	"errors"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// ErrNotFound is returned by a DocumentStore when the requested document does not exist.
var ErrNotFound = errors.New("document not found")

// SetLogLevel sets the logging level for the labeling package
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}
