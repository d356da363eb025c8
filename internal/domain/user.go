// Package domain contains entities without logic, just meta-data.
package domain

import "errors"

const MaxNameLen = 36

var (
	ErrNameEmpty   = errors.New("name empty")
	ErrNameTooLong = errors.New("name too long")
)

type UserID string

// RoomUser is the read-only view of a present user, as listed to clients.
type RoomUser struct {
	ID        UserID `json:"id"`
	Name      string `json:"name"`
	IsTeacher bool   `json:"isTeacher"`
}

// StoredUser is what the distributed store keeps per present user.
// InstanceID records which process owns the live connection.
type StoredUser struct {
	Name       string `json:"name"`
	IsTeacher  bool   `json:"isTeacher"`
	InstanceID string `json:"instanceId"`
}

// ValidateName keeps display names bounded before they reach the store.
func ValidateName(name string) error {
	if len(name) == 0 {
		return ErrNameEmpty
	}
	if len(name) > MaxNameLen {
		return ErrNameTooLong
	}
	return nil
}
