package audit

import (
	"context"
	"errors"
	"time"
)

// Actions recorded in the log.
const (
	ActionTurnOn  = "turn_on"
	ActionTurnOff = "turn_off"
	ActionPing    = "ping"
	ActionScene   = "scene"
)

// Outcomes recorded in the log.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// SourceAPI marks entries created by the HTTP API.
const SourceAPI = "api"

const (
	defaultLimit = 50
	maxLimit     = 200
)

// ErrInvalidEntry is returned by Create when a required field is missing.
var ErrInvalidEntry = errors.New("audit: invalid entry")

// Entry is one command log row.
type Entry struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	Target    string         `json:"target"`
	Subject   string         `json:"subject,omitempty"`
	Source    string         `json:"source"`
	Outcome   string         `json:"outcome"`
	Error     string         `json:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Filter selects entries. Zero fields match everything.
type Filter struct {
	Action string
	Target string
	Limit  int // default 50, max 200
	Offset int
}

// ListResult is one page of entries plus the total matching count.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository stores and lists entries.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// normalise clamps paging values into range.
func (f Filter) normalise() Filter {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
