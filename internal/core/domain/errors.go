package domain

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration = errors.New("configuration error")
	ErrNoExperts     = errors.New("no experts available")
	ErrRetrieval     = errors.New("retrieval failure")
	ErrGeneration    = errors.New("generation failure")
	ErrSessionLog    = errors.New("session log failure")
	ErrStateCorrupt  = errors.New("tracking state corrupt")
	ErrPassRunning   = errors.New("ingestion pass already running")
	ErrInvalidInput  = errors.New("invalid input")
	ErrTemporary     = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
