package model

import (
	"time"
)

// Room is the durable room record. Creation and password checks belong to the
// room CRUD layer; this backend only reads snapshots and mutates the
// connected-user set and the active flag as a side effect of join/leave.
type Room struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"-"`
	Code            string    `gorm:"uniqueIndex;size:8;not null" json:"code"`
	Name            string    `gorm:"size:100;not null" json:"name"`
	PasswordHash    string    `gorm:"size:128" json:"-"`
	CreatedBy       string    `gorm:"size:64;not null" json:"createdBy"`
	Participants    []string  `gorm:"type:jsonb;serializer:json" json:"participants"`
	ConnectedUsers  []string  `gorm:"type:jsonb;serializer:json" json:"connectedUsers"`
	MaxParticipants int       `gorm:"default:8" json:"maxParticipants"`
	IsActive        bool      `gorm:"default:true" json:"isActive"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"-"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"-"`
}

func (Room) TableName() string {
	return "rooms"
}

// Point is one normalized drawing sample. Coordinates are in [0,1] so strokes
// replay correctly on differently sized canvases.
type Point struct {
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	Pressure *float64 `json:"pressure,omitempty"`
	T        int64    `json:"t"`
}

// DoodleStroke is one completed freehand gesture.
type DoodleStroke struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"-"`
	StrokeID  string         `gorm:"uniqueIndex;size:36;not null" json:"strokeId"`
	RoomID    string         `gorm:"size:64;not null;index:idx_room_start" json:"roomId"`
	UserID    string         `gorm:"size:64;not null;index" json:"userId"`
	Color     string         `gorm:"size:7;not null" json:"color"`
	Width     int            `gorm:"not null" json:"width"`
	Points    []Point        `gorm:"type:jsonb;serializer:json;not null" json:"points"`
	StartTime int64          `gorm:"not null;index:idx_room_start" json:"startTime"`
	EndTime   *int64         `json:"endTime,omitempty"`
	Meta      map[string]any `gorm:"type:jsonb;serializer:json" json:"meta,omitempty"`
	CreatedAt time.Time      `gorm:"autoCreateTime;index" json:"-"`
}

func (DoodleStroke) TableName() string {
	return "doodle_strokes"
}
