package graph

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			"code and message",
			&Error{Code: EInvalid, Msg: "property name is required"},
			"<invalid> property name is required",
		},
		{
			"with operation",
			&Error{Op: "grom.CreateNode", Code: EConflict, Msg: "duplicate key"},
			"grom.CreateNode: <conflict> duplicate key",
		},
		{
			"wrapped cause",
			&Error{Op: "memstore.Run", Msg: "apply failed", Err: errors.New("disk full")},
			"memstore.Run: apply failed: disk full",
		},
		{
			"message only",
			&Error{Msg: "boom"},
			"boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestErrorCodeWalksChain(t *testing.T) {
	inner := &Error{Code: ENotFound, Msg: "node missing"}
	outer := &Error{Op: "grom.GetNode", Err: inner}
	wrapped := fmt.Errorf("handler: %w", outer)

	assert.Equal(t, ENotFound, ErrorCode(outer))
	assert.Equal(t, ENotFound, ErrorCode(wrapped))
	assert.Equal(t, "node missing", ErrorMessage(wrapped))
	assert.Equal(t, "grom.GetNode", ErrorOp(wrapped))
	assert.Equal(t, "", ErrorCode(nil))
	assert.Equal(t, EInternal, ErrorCode(errors.New("bare")))
}

func TestCancellationStaysDistinct(t *testing.T) {
	// Context errors are never wrapped into *Error, so errors.Is always
	// distinguishes cancellation from failure.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ctx.Err()
	assert.True(t, errors.Is(err, context.Canceled))

	var e *Error
	assert.False(t, errors.As(err, &e))
}
