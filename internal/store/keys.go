package store

import (
	"fmt"

	"github.com/edustream/classroom/internal/domain"
)

const keyPrefixRoom = "room:"

// Hash fields on the room record. The REST boundary reads the same
// fields, so these names are part of the deployment contract.
const (
	fieldTeacherName  = "teacherName"
	fieldCreatedAt    = "createdAt"
	fieldInstanceID   = "instanceId"
	fieldInstanceIP   = "instanceIp"
	fieldCapabilities = "routerRtpCapabilities"
)

func roomKey(id domain.RoomID) string {
	return fmt.Sprintf("%s%s", keyPrefixRoom, id)
}

func usersKey(id domain.RoomID) string {
	return fmt.Sprintf("%s%s:users", keyPrefixRoom, id)
}

func messagesKey(id domain.RoomID) string {
	return fmt.Sprintf("%s%s:messages", keyPrefixRoom, id)
}
