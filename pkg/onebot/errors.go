package onebot

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Call when no socket is open. Retry later.
	ErrNotConnected = errors.New("onebot: not connected")
	// ErrTimeout is returned when no response with the call's echo arrives in time.
	ErrTimeout = errors.New("onebot: call timed out")
	// ErrClientClosed is returned by Connect after Close.
	ErrClientClosed = errors.New("onebot: client closed")
)

// GatewayError is a response whose status is not "ok".
type GatewayError struct {
	Action  string
	Status  string
	RetCode int64
	Message string
}

func (e *GatewayError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "API call failed"
	}
	return fmt.Sprintf("onebot %s: %s (status=%s retcode=%d)", e.Action, msg, e.Status, e.RetCode)
}
