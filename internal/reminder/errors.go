package reminder

import (
	"errors"

	"remindbot/internal/storage"
)

var (
	// ErrParse means no schedule could be derived from the command text.
	ErrParse = errors.New("no time expression recognized")

	// ErrNotFound aliases the store's sentinel so callers can match either.
	ErrNotFound = storage.ErrNotFound

	// ErrSchedule means the reminder was persisted but its timer could not
	// be armed; it will be picked up again by startup recovery.
	ErrSchedule = errors.New("timer could not be armed")
)
