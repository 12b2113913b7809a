package doodle

import (
	"regexp"

	"github.com/google/uuid"

	"doodlecall-backend/internal/model"
)

const (
	// DefaultColor replaces a malformed color on sanitize
	DefaultColor = "#000000"
	// DefaultWidth is assumed when a stroke ends without a buffer entry
	DefaultWidth = 3

	// MinWidth and MaxWidth bound the stroke width
	MinWidth = 1
	MaxWidth = 50

	// MaxPointsPerBatch caps a single points message
	MaxPointsPerBatch = 100
	// MaxPointsPerStroke caps a persisted stroke
	MaxPointsPerStroke = 1000
)

var hexColorRe = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// IsHexColor reports whether s is a 6-hex-digit color string
func IsHexColor(s string) bool {
	return hexColorRe.MatchString(s)
}

// SanitizeColor falls back to the default color for malformed input
func SanitizeColor(color string) string {
	if IsHexColor(color) {
		return color
	}
	return DefaultColor
}

// SanitizeWidth clamps the width into [MinWidth, MaxWidth]
func SanitizeWidth(width int) int {
	if width < MinWidth {
		return MinWidth
	}
	if width > MaxWidth {
		return MaxWidth
	}
	return width
}

// isStrokeID reports whether s is a well-formed stroke id token
func isStrokeID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// validPoint checks a normalized drawing sample
func validPoint(p model.Point) bool {
	if p.X < 0 || p.X > 1 {
		return false
	}
	if p.Y < 0 || p.Y > 1 {
		return false
	}
	if p.Pressure != nil && (*p.Pressure < 0 || *p.Pressure > 1) {
		return false
	}
	return p.T > 0
}

// FieldError describes one invalid payload field.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func validateStrokeStart(p *StrokeStartPayload) []FieldError {
	var errs []FieldError
	if p.RoomID == "" {
		errs = append(errs, FieldError{Field: "roomId", Message: "room id required"})
	}
	if !isStrokeID(p.StrokeID) {
		errs = append(errs, FieldError{Field: "strokeId", Message: "valid uuid required"})
	}
	if p.UserID == "" {
		errs = append(errs, FieldError{Field: "userId", Message: "user id required"})
	}
	if !IsHexColor(p.Color) {
		errs = append(errs, FieldError{Field: "color", Message: "valid hex color required"})
	}
	if p.Width < MinWidth || p.Width > MaxWidth {
		errs = append(errs, FieldError{Field: "width", Message: "width 1-50 required"})
	}
	return errs
}

func validateStrokePoints(p *StrokePointsPayload) []FieldError {
	var errs []FieldError
	if p.RoomID == "" {
		errs = append(errs, FieldError{Field: "roomId", Message: "room id required"})
	}
	if !isStrokeID(p.StrokeID) {
		errs = append(errs, FieldError{Field: "strokeId", Message: "valid uuid required"})
	}
	if len(p.Points) < 1 || len(p.Points) > MaxPointsPerBatch {
		errs = append(errs, FieldError{Field: "points", Message: "points array 1-100 required"})
	} else {
		for _, pt := range p.Points {
			if !validPoint(pt) {
				errs = append(errs, FieldError{Field: "points", Message: "invalid point data"})
				break
			}
		}
	}
	if p.Sequence < 0 {
		errs = append(errs, FieldError{Field: "sequence", Message: "valid sequence number required"})
	}
	return errs
}

func validateStrokeEnd(p *StrokeEndPayload) []FieldError {
	var errs []FieldError
	if p.RoomID == "" {
		errs = append(errs, FieldError{Field: "roomId", Message: "room id required"})
	}
	if !isStrokeID(p.StrokeID) {
		errs = append(errs, FieldError{Field: "strokeId", Message: "valid uuid required"})
	}
	if p.UserID == "" {
		errs = append(errs, FieldError{Field: "userId", Message: "user id required"})
	}
	return errs
}

func validateStrokeUndo(p *StrokeUndoPayload) []FieldError {
	var errs []FieldError
	if p.RoomID == "" {
		errs = append(errs, FieldError{Field: "roomId", Message: "room id required"})
	}
	if !isStrokeID(p.StrokeID) {
		errs = append(errs, FieldError{Field: "strokeId", Message: "valid uuid required"})
	}
	if p.UserID == "" {
		errs = append(errs, FieldError{Field: "userId", Message: "user id required"})
	}
	return errs
}

func validateCanvasClear(p *CanvasClearPayload) []FieldError {
	var errs []FieldError
	if p.RoomID == "" {
		errs = append(errs, FieldError{Field: "roomId", Message: "room id required"})
	}
	if p.UserID == "" {
		errs = append(errs, FieldError{Field: "userId", Message: "user id required"})
	}
	return errs
}

func validateSyncRequest(p *SyncRequestPayload) []FieldError {
	var errs []FieldError
	if p.RoomID == "" {
		errs = append(errs, FieldError{Field: "roomId", Message: "room id required"})
	}
	if p.Since < 0 {
		errs = append(errs, FieldError{Field: "since", Message: "since must be non-negative"})
	}
	return errs
}

// ValidateStroke checks a complete stroke submitted over the REST surface.
func ValidateStroke(s *model.DoodleStroke) []FieldError {
	var errs []FieldError
	if !isStrokeID(s.StrokeID) {
		errs = append(errs, FieldError{Field: "strokeId", Message: "valid uuid required"})
	}
	if s.RoomID == "" {
		errs = append(errs, FieldError{Field: "roomId", Message: "room id required"})
	}
	if s.UserID == "" {
		errs = append(errs, FieldError{Field: "userId", Message: "user id required"})
	}
	if !IsHexColor(s.Color) {
		errs = append(errs, FieldError{Field: "color", Message: "valid hex color required"})
	}
	if s.Width < MinWidth || s.Width > MaxWidth {
		errs = append(errs, FieldError{Field: "width", Message: "width 1-50 required"})
	}
	if len(s.Points) < 1 || len(s.Points) > MaxPointsPerStroke {
		errs = append(errs, FieldError{Field: "points", Message: "points array 1-1000 required"})
	} else {
		for _, pt := range s.Points {
			if !validPoint(pt) {
				errs = append(errs, FieldError{Field: "points", Message: "invalid point data"})
				break
			}
		}
	}
	if s.StartTime <= 0 {
		errs = append(errs, FieldError{Field: "startTime", Message: "start time must be positive"})
	}
	if s.EndTime != nil && *s.EndTime <= 0 {
		errs = append(errs, FieldError{Field: "endTime", Message: "end time must be positive"})
	}
	return errs
}
