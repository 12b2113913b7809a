package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"doodlecall-backend/internal/model"
)

// ErrNotFound is returned when a targeted record does not exist.
var ErrNotFound = errors.New("record not found")

// StrokeStore is the durable append-only store of completed strokes.
type StrokeStore struct {
	db *gorm.DB
}

// NewStrokeStore creates a StrokeStore
func NewStrokeStore(db *gorm.DB) *StrokeStore {
	return &StrokeStore{db: db}
}

// FindByRoom returns up to limit strokes for a room ordered by start time
// ascending. A since > 0 restricts the result to strokes started after it.
func (s *StrokeStore) FindByRoom(ctx context.Context, roomID string, limit int, since int64) ([]model.DoodleStroke, error) {
	if roomID == "" {
		return nil, fmt.Errorf("room id is required")
	}

	query := s.db.WithContext(ctx).Where("room_id = ?", roomID)
	if since > 0 {
		query = query.Where("start_time > ?", since)
	}

	var strokes []model.DoodleStroke
	if err := query.Order("start_time ASC").Limit(limit).Find(&strokes).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch strokes: %w", err)
	}
	return strokes, nil
}

// Save persists a completed stroke. Saving a stroke id that already exists
// returns the existing record, so duplicate end delivery is harmless.
func (s *StrokeStore) Save(ctx context.Context, stroke *model.DoodleStroke) (*model.DoodleStroke, error) {
	if stroke.StrokeID == "" {
		return nil, fmt.Errorf("stroke id is required")
	}
	if stroke.RoomID == "" {
		return nil, fmt.Errorf("room id is required")
	}

	var existing model.DoodleStroke
	err := s.db.WithContext(ctx).Where("stroke_id = ?", stroke.StrokeID).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up stroke: %w", err)
	}

	if err := s.db.WithContext(ctx).Create(stroke).Error; err != nil {
		// Lost the race against a duplicate end; return the winner.
		var winner model.DoodleStroke
		if lookupErr := s.db.WithContext(ctx).Where("stroke_id = ?", stroke.StrokeID).First(&winner).Error; lookupErr == nil {
			return &winner, nil
		}
		return nil, fmt.Errorf("failed to save stroke: %w", err)
	}
	return stroke, nil
}

// BulkUpsert inserts strokes that do not exist yet; existing stroke ids are
// left untouched.
func (s *StrokeStore) BulkUpsert(ctx context.Context, strokes []model.DoodleStroke) error {
	if len(strokes) == 0 {
		return fmt.Errorf("no strokes provided")
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stroke_id"}},
		DoNothing: true,
	}).Create(&strokes).Error
	if err != nil {
		return fmt.Errorf("failed to bulk upsert strokes: %w", err)
	}
	return nil
}

// DeleteByRoom removes every stroke of a room
func (s *StrokeStore) DeleteByRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}

	if err := s.db.WithContext(ctx).Where("room_id = ?", roomID).Delete(&model.DoodleStroke{}).Error; err != nil {
		return fmt.Errorf("failed to clear strokes: %w", err)
	}
	return nil
}

// DeleteOne removes a single stroke by stroke id
func (s *StrokeStore) DeleteOne(ctx context.Context, strokeID string) error {
	if strokeID == "" {
		return fmt.Errorf("stroke id is required")
	}

	result := s.db.WithContext(ctx).Where("stroke_id = ?", strokeID).Delete(&model.DoodleStroke{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete stroke: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the number of persisted strokes for a room
func (s *StrokeStore) Count(ctx context.Context, roomID string) (int64, error) {
	if roomID == "" {
		return 0, fmt.Errorf("room id is required")
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&model.DoodleStroke{}).Where("room_id = ?", roomID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count strokes: %w", err)
	}
	return count, nil
}

// PurgeOlderThan deletes strokes past the retention window. Postgres has no
// TTL index, so the server runs this from a background ticker.
func (s *StrokeStore) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&model.DoodleStroke{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge strokes: %w", result.Error)
	}
	return result.RowsAffected, nil
}
