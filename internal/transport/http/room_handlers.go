package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/parleychat/parley-server/internal/auth"
	"github.com/parleychat/parley-server/internal/core"
	"github.com/parleychat/parley-server/internal/store"
)

// RoomHandlers provides HTTP handlers for room management endpoints.
type RoomHandlers struct {
	store        store.Store
	log          *zerolog.Logger
	historyLimit int
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(st store.Store, logger *zerolog.Logger, historyLimit int) *RoomHandlers {
	return &RoomHandlers{
		store:        st,
		log:          logger,
		historyLimit: historyLimit,
	}
}

// CreateRoomRequest represents the create room request body.
type CreateRoomRequest struct {
	Name        string `json:"name" binding:"required,min=3,max=64"`
	Topic       string `json:"topic" binding:"max=200"`
	Description string `json:"description" binding:"max=200"`
	Secret      string `json:"secret" binding:"omitempty,min=5"`
}

// RoomResponse represents a room in API responses. The secret hash never
// leaves the server; HasSecret tells clients a secret will be required.
type RoomResponse struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Topic        string `json:"topic,omitempty"`
	Description  string `json:"description,omitempty"`
	Owner        string `json:"owner,omitempty"`
	HasSecret    bool   `json:"has_secret"`
	MessageCount int64  `json:"message_count"`
	LastActivity string `json:"last_activity"`
	CreatedAt    string `json:"created_at"`
}

// MessageResponse represents a message in API responses.
type MessageResponse struct {
	ID        int64    `json:"id"`
	Room      string   `json:"room"`
	Sender    string   `json:"sender"`
	Body      string   `json:"body"`
	ReadBy    []string `json:"read_by,omitempty"`
	CreatedAt string   `json:"created_at"`
}

func roomResponse(r *store.Room) RoomResponse {
	return RoomResponse{
		ID:           r.ID,
		Name:         r.Name,
		Topic:        r.Topic,
		Description:  r.Description,
		Owner:        r.Owner,
		HasSecret:    r.SecretHash != "",
		MessageCount: r.MessageCount,
		LastActivity: r.LastActivity.UTC().Format(timeLayout),
		CreatedAt:    r.CreatedAt.UTC().Format(timeLayout),
	}
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

// CreateRoom handles room creation.
// POST /api/rooms
func (h *RoomHandlers) CreateRoom(c *gin.Context) {
	username, ok := usernameFromContext(c)
	if !ok {
		h.log.Error().Msg("username not found in context")
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create room request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	name := core.NormalizeRoomName(req.Name)
	if !core.ValidRoomName(name) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "room name must be 3-30 characters"})
		return
	}

	opts := store.RoomOptions{
		Topic:       req.Topic,
		Description: req.Description,
		Owner:       username,
	}
	if req.Secret != "" {
		hash, err := auth.HashPassword(req.Secret)
		if err != nil {
			h.log.Error().Err(err).Msg("failed to hash room secret")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
			return
		}
		opts.SecretHash = hash
	}

	if _, err := h.store.GetRoomByName(c.Request.Context(), name); err == nil {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "room already exists"})
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		h.log.Error().Err(err).Str("room", name).Msg("failed to check room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	room, err := h.store.UpsertRoom(c.Request.Context(), name, opts)
	if err != nil {
		h.log.Error().Err(err).Str("room", name).Msg("failed to create room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("room", name).Str("owner", username).Msg("room created")
	c.JSON(http.StatusCreated, roomResponse(room))
}

// ListRooms handles room listing.
// GET /api/rooms
func (h *RoomHandlers) ListRooms(c *gin.Context) {
	rooms, err := h.store.ListRooms(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list rooms")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	out := make([]RoomResponse, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, roomResponse(r))
	}
	c.JSON(http.StatusOK, out)
}

// ListMessages returns the recent messages of a room visible to the caller,
// the same snapshot a websocket join backfills.
// GET /api/rooms/:name/messages?limit=
func (h *RoomHandlers) ListMessages(c *gin.Context) {
	username, ok := usernameFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	name := core.NormalizeRoomName(c.Param("name"))
	if _, err := h.store.GetRoomByName(c.Request.Context(), name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
			return
		}
		h.log.Error().Err(err).Str("room", name).Msg("failed to fetch room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	limit := h.historyLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= h.historyLimit {
			limit = n
		}
	}

	msgs, err := h.store.ListRecentMessages(c.Request.Context(), name, limit, username)
	if err != nil {
		h.log.Error().Err(err).Str("room", name).Msg("failed to list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageResponse{
			ID:        m.ID,
			Room:      m.Room,
			Sender:    m.Sender,
			Body:      m.Body,
			ReadBy:    m.ReadBy,
			CreatedAt: m.CreatedAt.UTC().Format(timeLayout),
		})
	}
	c.JSON(http.StatusOK, out)
}

func usernameFromContext(c *gin.Context) (string, bool) {
	v, exists := c.Get(ContextKeyUsername)
	if !exists {
		return "", false
	}
	username, ok := v.(string)
	return username, ok && username != ""
}
