package pool

import (
	"time"

	"github.com/google/uuid"
)

// PriorityThreshold splits the two queues: requests with a priority
// strictly above it are routed to the priority queue.
const PriorityThreshold = 5

// Request is one unit of work submitted by a caller. It lives in exactly
// one queue until dispatched, then belongs to exactly one worker until
// completion or failure.
type Request struct {
	ID                string
	Priority          int
	EstimatedDuration time.Duration
	CreatedAt         time.Time
	Payload           interface{}

	// Callback, when set, is invoked once after execution with the
	// request's outcome.
	Callback func(err error)
}

// NewRequest creates a request with a fresh ID.
func NewRequest(payload interface{}, priority int, estimatedDuration time.Duration) *Request {
	return &Request{
		ID:                uuid.New().String(),
		Priority:          priority,
		EstimatedDuration: estimatedDuration,
		CreatedAt:         time.Now(),
		Payload:           payload,
	}
}
