// Package store implements the distributed room state on Redis.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/edustream/classroom/internal/core"
	"github.com/edustream/classroom/internal/domain"
)

type Redis struct {
	rdb *redis.Client
}

var _ core.RoomStore = (*Redis)(nil)

func New(addr, password string) *Redis {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	return &Redis{rdb: rdb}
}

func (s *Redis) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Redis) Close() error {
	return s.rdb.Close()
}

func (s *Redis) CreateRoom(ctx context.Context, id domain.RoomID, teacherName, instanceID, instanceIP string) (bool, error) {
	n, err := s.rdb.Exists(ctx, roomKey(id)).Result()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	fields := map[string]any{
		fieldTeacherName: teacherName,
		fieldCreatedAt:   time.Now().UnixMilli(),
		fieldInstanceID:  instanceID,
		fieldInstanceIP:  instanceIP,
	}
	if err := s.rdb.HSet(ctx, roomKey(id), fields).Err(); err != nil {
		return false, err
	}
	if err := s.rdb.Expire(ctx, roomKey(id), domain.RoomTTL).Err(); err != nil {
		return false, err
	}
	log.Info().Str("module", "store").Str("room", string(id)).Msg("room record created")
	return true, nil
}

func (s *Redis) RoomExists(ctx context.Context, id domain.RoomID) (bool, error) {
	n, err := s.rdb.Exists(ctx, roomKey(id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Redis) DeleteRoom(ctx context.Context, id domain.RoomID) error {
	return s.rdb.Del(ctx, roomKey(id), usersKey(id), messagesKey(id)).Err()
}

func (s *Redis) RoomIDs(ctx context.Context) ([]domain.RoomID, error) {
	var (
		ids    []domain.RoomID
		cursor uint64
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, keyPrefixRoom+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			rest := strings.TrimPrefix(key, keyPrefixRoom)
			if strings.Contains(rest, ":") {
				continue // subordinate users/messages keys
			}
			ids = append(ids, domain.RoomID(rest))
		}
		cursor = next
		if cursor == 0 {
			return ids, nil
		}
	}
}

func (s *Redis) AddUser(ctx context.Context, id domain.RoomID, userID domain.UserID, u domain.StoredUser) error {
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, usersKey(id), string(userID), b).Err()
}

func (s *Redis) RemoveUser(ctx context.Context, id domain.RoomID, userID domain.UserID) error {
	if err := s.rdb.HDel(ctx, usersKey(id), string(userID)).Err(); err != nil {
		return err
	}
	n, err := s.rdb.HLen(ctx, usersKey(id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		log.Info().Str("module", "store").Str("room", string(id)).Msg("room empty, deleting record")
		return s.DeleteRoom(ctx, id)
	}
	return nil
}

func (s *Redis) Users(ctx context.Context, id domain.RoomID) ([]domain.RoomUser, error) {
	raw, err := s.rdb.HGetAll(ctx, usersKey(id)).Result()
	if err != nil {
		return nil, err
	}
	users := make([]domain.RoomUser, 0, len(raw))
	for uid, data := range raw {
		var su domain.StoredUser
		if err := json.Unmarshal([]byte(data), &su); err != nil {
			log.Warn().Err(err).Str("module", "store").Str("room", string(id)).Str("user", uid).Msg("bad user record, skipping")
			continue
		}
		users = append(users, domain.RoomUser{
			ID:        domain.UserID(uid),
			Name:      su.Name,
			IsTeacher: su.IsTeacher,
		})
	}
	return users, nil
}

func (s *Redis) UserCount(ctx context.Context, id domain.RoomID) (int64, error) {
	return s.rdb.HLen(ctx, usersKey(id)).Result()
}

func (s *Redis) AppendChat(ctx context.Context, id domain.RoomID, msg domain.ChatMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := s.rdb.RPush(ctx, messagesKey(id), b).Err(); err != nil {
		return err
	}
	return s.rdb.LTrim(ctx, messagesKey(id), -int64(domain.MaxChatHistory), -1).Err()
}

func (s *Redis) RecentChat(ctx context.Context, id domain.RoomID, limit int64) ([]domain.ChatMessage, error) {
	raw, err := s.rdb.LRange(ctx, messagesKey(id), -limit, -1).Result()
	if err != nil {
		return nil, err
	}
	msgs := make([]domain.ChatMessage, 0, len(raw))
	for _, data := range raw {
		var m domain.ChatMessage
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (s *Redis) SetRouterCapabilities(ctx context.Context, id domain.RoomID, caps domain.RTPCapabilities) error {
	b, err := json.Marshal(caps)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, roomKey(id), fieldCapabilities, b).Err()
}

func (s *Redis) RouterCapabilities(ctx context.Context, id domain.RoomID) (domain.RTPCapabilities, bool, error) {
	data, err := s.rdb.HGet(ctx, roomKey(id), fieldCapabilities).Result()
	if errors.Is(err, redis.Nil) {
		return domain.RTPCapabilities{}, false, nil
	}
	if err != nil {
		return domain.RTPCapabilities{}, false, err
	}
	var caps domain.RTPCapabilities
	if err := json.Unmarshal([]byte(data), &caps); err != nil {
		return domain.RTPCapabilities{}, false, err
	}
	return caps, true, nil
}

func (s *Redis) SetInstanceID(ctx context.Context, id domain.RoomID, instanceID string) error {
	return s.rdb.HSet(ctx, roomKey(id), fieldInstanceID, instanceID).Err()
}

func (s *Redis) SetInstanceIP(ctx context.Context, id domain.RoomID, ip string) error {
	return s.rdb.HSet(ctx, roomKey(id), fieldInstanceIP, ip).Err()
}

func (s *Redis) Instance(ctx context.Context, id domain.RoomID) (domain.Instance, error) {
	vals, err := s.rdb.HMGet(ctx, roomKey(id), fieldInstanceID, fieldInstanceIP).Result()
	if err != nil {
		return domain.Instance{}, err
	}
	var inst domain.Instance
	if v, ok := vals[0].(string); ok {
		inst.ID = v
	}
	if v, ok := vals[1].(string); ok {
		inst.PublicIP = v
	}
	return inst, nil
}

func (s *Redis) ClearInstance(ctx context.Context, id domain.RoomID) error {
	return s.rdb.HDel(ctx, roomKey(id), fieldInstanceID, fieldInstanceIP).Err()
}
