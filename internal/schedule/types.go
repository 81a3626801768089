package schedule

import (
	"errors"
	"time"
)

var (
	ErrJobExists   = errors.New("job already registered")
	ErrJobNotFound = errors.New("job not found")
)

// Job describes a registered periodic task.
type Job struct {
	Name     string    `json:"name"`
	Pattern  string    `json:"pattern"`
	Runs     int       `json:"runs"`
	Failures int       `json:"failures"`
	LastRun  time.Time `json:"last_run,omitempty"`
	LastErr  string    `json:"last_error,omitempty"`
	Next     time.Time `json:"next,omitempty"`
}
