package handler

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"doodlecall-backend/internal/doodle"
	"doodlecall-backend/internal/model"
	"doodlecall-backend/internal/store"
)

// DoodleHandler serves stroke history over REST for clients outside the live
// channel (reconnect catch-up, exports).
type DoodleHandler struct {
	store *store.StrokeStore
}

// NewDoodleHandler creates a DoodleHandler
func NewDoodleHandler(s *store.StrokeStore) *DoodleHandler {
	return &DoodleHandler{store: s}
}

// GetStrokes returns up to 200 strokes for a room, oldest first
func (h *DoodleHandler) GetStrokes(c *fiber.Ctx) error {
	roomID := c.Params("roomId")
	if roomID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Room ID is required"})
	}

	var since int64
	if raw := c.Query("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid since parameter"})
		}
		since = parsed
	}

	strokes, err := h.store.FindByRoom(c.Context(), roomID, 200, since)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch strokes"})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"roomId":  roomID,
		"strokes": strokes,
	})
}

// SaveStroke persists one complete stroke (idempotent per stroke id)
func (h *DoodleHandler) SaveStroke(c *fiber.Ctx) error {
	roomID := c.Params("roomId")
	if roomID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Room ID is required"})
	}

	var body struct {
		Stroke *model.DoodleStroke `json:"stroke"`
	}
	if err := c.BodyParser(&body); err != nil || body.Stroke == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Stroke is required"})
	}

	body.Stroke.RoomID = roomID
	if errs := doodle.ValidateStroke(body.Stroke); len(errs) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid stroke data", "errors": errs})
	}

	saved, err := h.store.Save(c.Context(), body.Stroke)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to save stroke"})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"stroke":  saved,
	})
}

// BatchSaveStrokes bulk-upserts up to 100 strokes
func (h *DoodleHandler) BatchSaveStrokes(c *fiber.Ctx) error {
	roomID := c.Params("roomId")
	if roomID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Room ID is required"})
	}

	var body struct {
		Strokes []model.DoodleStroke `json:"strokes"`
	}
	if err := c.BodyParser(&body); err != nil || body.Strokes == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Strokes must be an array"})
	}
	if len(body.Strokes) == 0 || len(body.Strokes) > 100 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Maximum 100 strokes per batch"})
	}

	for i := range body.Strokes {
		body.Strokes[i].RoomID = roomID
		if errs := doodle.ValidateStroke(&body.Strokes[i]); len(errs) > 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid stroke data", "errors": errs})
		}
	}

	if err := h.store.BulkUpsert(c.Context(), body.Strokes); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to save strokes"})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"count":   len(body.Strokes),
	})
}

// DeleteStrokes clears a room's stroke history
func (h *DoodleHandler) DeleteStrokes(c *fiber.Ctx) error {
	roomID := c.Params("roomId")
	if roomID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Room ID is required"})
	}

	if err := h.store.DeleteByRoom(c.Context(), roomID); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to clear strokes"})
	}

	return c.JSON(fiber.Map{"success": true})
}

// DeleteStroke removes a single stroke by id
func (h *DoodleHandler) DeleteStroke(c *fiber.Ctx) error {
	strokeID := c.Params("strokeId")
	if strokeID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Stroke ID is required"})
	}

	if err := h.store.DeleteOne(c.Context(), strokeID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Stroke not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to delete stroke"})
	}

	return c.JSON(fiber.Map{"success": true})
}

// CountStrokes returns the number of persisted strokes for a room
func (h *DoodleHandler) CountStrokes(c *fiber.Ctx) error {
	roomID := c.Params("roomId")
	if roomID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Room ID is required"})
	}

	count, err := h.store.Count(c.Context(), roomID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to count strokes"})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"roomId":  roomID,
		"count":   count,
	})
}
