package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"doodlecall-backend/internal/model"
)

// RoomStore mutates the live-membership side of the persisted room record.
// Room creation and password checks live in the external CRUD layer.
type RoomStore struct {
	db *gorm.DB
}

// NewRoomStore creates a RoomStore
func NewRoomStore(db *gorm.DB) *RoomStore {
	return &RoomStore{db: db}
}

// FindByCode returns the room snapshot for a code
func (s *RoomStore) FindByCode(ctx context.Context, code string) (*model.Room, error) {
	var room model.Room
	if err := s.db.WithContext(ctx).Where("code = ?", code).First(&room).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch room: %w", err)
	}
	return &room, nil
}

// AddConnectedUser adds a user to the room's connected set (idempotent) and
// marks the room active. Returns the updated snapshot.
func (s *RoomStore) AddConnectedUser(ctx context.Context, code, userID string) (*model.Room, error) {
	room, err := s.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if !contains(room.ConnectedUsers, userID) {
		room.ConnectedUsers = append(room.ConnectedUsers, userID)
	}
	room.IsActive = true

	err = s.db.WithContext(ctx).Model(room).Updates(map[string]any{
		"connected_users": room.ConnectedUsers,
		"is_active":       true,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to update connected users: %w", err)
	}
	return room, nil
}

// RemoveConnectedUser removes a user from the room's connected set.
// Removing a user that is not in the set is a no-op.
func (s *RoomStore) RemoveConnectedUser(ctx context.Context, code, userID string) (*model.Room, error) {
	room, err := s.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	remaining := make([]string, 0, len(room.ConnectedUsers))
	for _, id := range room.ConnectedUsers {
		if id != userID {
			remaining = append(remaining, id)
		}
	}
	room.ConnectedUsers = remaining

	err = s.db.WithContext(ctx).Model(room).Updates(map[string]any{
		"connected_users": room.ConnectedUsers,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to update connected users: %w", err)
	}
	return room, nil
}

// SetActive flips the room's active flag and returns the updated snapshot
func (s *RoomStore) SetActive(ctx context.Context, code string, active bool) (*model.Room, error) {
	room, err := s.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	room.IsActive = active
	err = s.db.WithContext(ctx).Model(room).Update("is_active", active).Error
	if err != nil {
		return nil, fmt.Errorf("failed to update active flag: %w", err)
	}
	return room, nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
