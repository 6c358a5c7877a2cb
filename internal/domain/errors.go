package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAdapterClosed = errors.New("feed adapter closed")
	ErrNotConnected  = errors.New("feed not connected")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrOrphanPending = errors.New("orphaned position already pending")
	ErrNotStoppedOut = errors.New("not stopped out")
	ErrQueueClosed   = errors.New("tick queue closed")
)
