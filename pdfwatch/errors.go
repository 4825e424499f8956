package pdfwatch

import (
	"errors"

	"github.com/hazyhaar/pdfwatch/pdfwatch/internal/store"
)

// ErrNotFound is returned when a document id does not exist.
var ErrNotFound = store.ErrNotFound

// ErrInvalidInput is returned when a trigger argument fails validation.
var ErrInvalidInput = errors.New("pdfwatch: invalid input")

// ErrClosed is returned when a run is triggered after Close.
var ErrClosed = errors.New("pdfwatch: service closed")
