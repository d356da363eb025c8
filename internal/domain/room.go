package domain

import (
	"errors"
	"time"
)

const (
	// RoomIDLength is the length of the short join code handed to students.
	RoomIDLength = 6

	// RoomTTL bounds how long a room record may live in the store.
	RoomTTL = 24 * time.Hour

	// MaxChatHistory caps the stored chat backlog per room.
	MaxChatHistory = 100

	// RecentChatLimit is how many buffered messages a late joiner receives.
	RecentChatLimit = 50
)

var ErrInvalidRoomID = errors.New("invalid room id")

type RoomID string

// ValidateRoomID rejects anything that is not a 6-character join code.
func ValidateRoomID(id RoomID) error {
	if len(id) != RoomIDLength {
		return ErrInvalidRoomID
	}
	return nil
}

// Room is the authoritative record kept in the distributed store.
type Room struct {
	ID          RoomID
	TeacherName string
	CreatedAt   time.Time
	InstanceID  string
	PublicIP    string
}

// Instance is the compute placement of a room, as recorded in the store.
type Instance struct {
	ID       string `json:"instanceId"`
	PublicIP string `json:"publicIp"`
}
