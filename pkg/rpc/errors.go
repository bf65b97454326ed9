package rpc

import "errors"

var (
	// ErrRequestQueued возвращается Call, когда запрос ушел в очередь:
	// ответ на такой запрос не будет сопоставлен
	ErrRequestQueued = errors.New("request queued while socket is not open")

	// ErrNotConnected возвращается при записи без открытого соединения
	ErrNotConnected = errors.New("socket is not open")

	// ErrConnClosed возвращается соединением после Close
	ErrConnClosed = errors.New("connection closed")
)
