package core

import (
	"context"

	"github.com/edustream/classroom/internal/domain"
)

// RoomStore is the distributed room state shared by every instance.
// Implementations must write synchronously: a caller's own follow-up
// read has to observe its previous write.
type RoomStore interface {
	// CreateRoom writes the room record if absent and arms its TTL.
	// Returns false when the room id is already taken.
	CreateRoom(ctx context.Context, id domain.RoomID, teacherName, instanceID, instanceIP string) (bool, error)
	RoomExists(ctx context.Context, id domain.RoomID) (bool, error)
	DeleteRoom(ctx context.Context, id domain.RoomID) error
	// RoomIDs enumerates every live room record (not the subordinate
	// user/message keys).
	RoomIDs(ctx context.Context) ([]domain.RoomID, error)

	AddUser(ctx context.Context, id domain.RoomID, userID domain.UserID, u domain.StoredUser) error
	// RemoveUser deletes the user and, when the presence set becomes
	// empty, the whole room record including chat history.
	RemoveUser(ctx context.Context, id domain.RoomID, userID domain.UserID) error
	Users(ctx context.Context, id domain.RoomID) ([]domain.RoomUser, error)
	UserCount(ctx context.Context, id domain.RoomID) (int64, error)

	AppendChat(ctx context.Context, id domain.RoomID, msg domain.ChatMessage) error
	RecentChat(ctx context.Context, id domain.RoomID, limit int64) ([]domain.ChatMessage, error)

	SetRouterCapabilities(ctx context.Context, id domain.RoomID, caps domain.RTPCapabilities) error
	// RouterCapabilities reports ok=false when no descriptor is stored.
	RouterCapabilities(ctx context.Context, id domain.RoomID) (domain.RTPCapabilities, bool, error)

	SetInstanceID(ctx context.Context, id domain.RoomID, instanceID string) error
	SetInstanceIP(ctx context.Context, id domain.RoomID, ip string) error
	Instance(ctx context.Context, id domain.RoomID) (domain.Instance, error)
	ClearInstance(ctx context.Context, id domain.RoomID) error
}
