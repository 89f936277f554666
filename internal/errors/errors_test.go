package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	err := New(ErrorTypeLifecycle, "load balancer is not running")
	assert.Equal(t, "Lifecycle: load balancer is not running", err.Error())

	cause := fmt.Errorf("connection refused")
	wrapped := Wrap(ErrorTypeResource, "sampling failed", cause)
	assert.Equal(t, "Resource: sampling failed: connection refused", wrapped.Error())
}

func TestError_Unwrap(t *testing.T) {
	cause := stderrors.New("root cause")
	err := Wrap(ErrorTypeResource, "sampling failed", cause)

	assert.True(t, stderrors.Is(err, cause))
	assert.Nil(t, New(ErrorTypeCapacity, "full").Unwrap())
}

func TestTypeOf(t *testing.T) {
	assert.Equal(t, ErrorTypeCapacity, TypeOf(QueueFull(10, 10)))
	assert.Equal(t, ErrorTypeValidation, TypeOf(Newf(ErrorTypeValidation, "bad count %d", -1)))
	assert.Equal(t, ErrorType(""), TypeOf(stderrors.New("plain")))
	assert.Equal(t, ErrorType(""), TypeOf(nil))
}

func TestTypeOf_WrappedChain(t *testing.T) {
	inner := New(ErrorTypeCapacity, "queue is full")
	outer := fmt.Errorf("submit failed: %w", inner)

	assert.Equal(t, ErrorTypeCapacity, TypeOf(outer))
	assert.True(t, IsCapacity(outer))
}

func TestQueueFull(t *testing.T) {
	err := QueueFull(1000, 1000)
	assert.True(t, IsCapacity(err))
	assert.Contains(t, err.Error(), "request queue is full (1000/1000)")
}

func TestIsHelpers(t *testing.T) {
	assert.True(t, IsLifecycle(New(ErrorTypeLifecycle, "stopped")))
	assert.False(t, IsLifecycle(New(ErrorTypeCapacity, "full")))
	assert.False(t, IsCapacity(nil))
}
