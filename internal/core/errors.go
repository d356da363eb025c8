package core

import "errors"

// Sentinel errors for the signaling protocol. The signal adapter maps
// each to a uniform {type:"error", message} reply and keeps the
// connection open.
var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomExists        = errors.New("room already exists")
	ErrNoRouter          = errors.New("room not properly initialized for media")
	ErrTransportNotFound = errors.New("transport not found")
	ErrProducerNotFound  = errors.New("producer not found")
	ErrConsumerNotFound  = errors.New("consumer not found")
	ErrTeacherOnly       = errors.New("only teachers can broadcast video")
	ErrCannotConsume     = errors.New("cannot consume producer")
	ErrNotJoined         = errors.New("not joined to a room")
)
