package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrSourceStopped = errors.New("fill source stopped")
	ErrContextDone   = errors.New("context cancelled")
	ErrLockHeld      = errors.New("lock already held")
	ErrDayCapReached = errors.New("daily spend cap reached")
)
