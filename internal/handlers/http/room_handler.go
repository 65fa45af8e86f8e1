package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"signalhub/internal/core/domain"
	"signalhub/internal/core/ports"
	"signalhub/internal/core/services"
	"signalhub/internal/infrastructure/monitoring"
	apperrors "signalhub/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Handler serves the room, stats and auth endpoints.
type Handler struct {
	rooms      ports.RoomService
	stats      ports.StatsService
	auth       *services.AuthService
	health     *monitoring.HealthChecker
	iceServers []webrtc.ICEServer
	logger     *zap.SugaredLogger
}

func NewHandler(rooms ports.RoomService, stats ports.StatsService, auth *services.AuthService, health *monitoring.HealthChecker, iceServers []webrtc.ICEServer, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{
		rooms:      rooms,
		stats:      stats,
		auth:       auth,
		health:     health,
		iceServers: iceServers,
		logger:     logger,
	}
}

// RegisterRoutes wires the public and authenticated route groups.
func (h *Handler) RegisterRoutes(r *gin.Engine, authMW gin.HandlerFunc) {
	r.GET("/health", h.handleHealth)
	r.POST("/api/v1/auth/token", h.handleToken)

	api := r.Group("/api/v1", authMW)
	{
		api.GET("/webrtc/ice-servers", h.handleICEServers)

		api.POST("/rooms", h.handleCreateRoom)
		api.GET("/rooms", h.handleListRooms)
		api.GET("/rooms/:id", h.handleGetRoom)
		api.DELETE("/rooms/:id", h.handleDeleteRoom)
		api.POST("/rooms/:id/join", h.handleJoinRoom)
		api.POST("/rooms/:id/leave", h.handleLeaveRoom)
		api.GET("/rooms/:id/stats", h.handleRoomStats)
		api.GET("/users/:id/stats", h.handleUserStats)
	}
}

func (h *Handler) handleHealth(c *gin.Context) {
	report := h.health.CheckAll(c.Request.Context())

	status := http.StatusOK
	if report.Status == monitoring.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

type tokenRequest struct {
	UserID   string `json:"userId" binding:"required"`
	Username string `json:"username" binding:"required"`
}

func (h *Handler) handleToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperrors.NewInvalidInput("userId and username are required"))
		return
	}

	token, err := h.auth.GenerateToken(domain.UserID(req.UserID), req.Username)
	if err != nil {
		h.respondError(c, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to issue token", http.StatusInternalServerError))
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (h *Handler) handleICEServers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"iceServers": h.iceServers})
}

func (h *Handler) handleCreateRoom(c *gin.Context) {
	var spec domain.RoomSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		h.respondError(c, apperrors.NewInvalidInput("malformed room spec"))
		return
	}

	room, err := h.rooms.CreateRoom(c.Request.Context(), spec, h.callerID(c))
	if err != nil {
		h.respondError(c, mapRoomError(err, true))
		return
	}
	c.JSON(http.StatusCreated, room.Summary())
}

func (h *Handler) handleListRooms(c *gin.Context) {
	filter := domain.RoomFilter{
		Status:         domain.RoomStatus(c.Query("status")),
		IncludePrivate: c.Query("includePrivate") == "true",
		NameSearch:     c.Query("q"),
	}
	if tags := c.Query("tags"); tags != "" {
		filter.Tags = strings.Split(tags, ",")
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))

	result, err := h.rooms.ListRooms(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		h.respondError(c, mapRoomError(err, false))
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) handleGetRoom(c *gin.Context) {
	summary, err := h.rooms.GetRoom(c.Request.Context(), domain.RoomID(c.Param("id")))
	if err != nil {
		h.respondError(c, mapRoomError(err, false))
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) handleDeleteRoom(c *gin.Context) {
	err := h.rooms.DeleteRoom(c.Request.Context(), domain.RoomID(c.Param("id")), h.callerID(c))
	if err != nil {
		h.respondError(c, mapRoomError(err, false))
		return
	}
	c.Status(http.StatusNoContent)
}

type joinRequest struct {
	Role       domain.ParticipantRole `json:"role"`
	Password   string                 `json:"password"`
	DeviceInfo string                 `json:"deviceInfo"`
}

func (h *Handler) handleJoinRoom(c *gin.Context) {
	// The body is optional: a public room needs neither password nor role.
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		req = joinRequest{}
	}
	if req.Role == "" {
		req.Role = domain.RoleViewer
	}

	connID, err := h.rooms.JoinRoom(c.Request.Context(), domain.RoomID(c.Param("id")), domain.JoinRequest{
		UserID:     h.callerID(c),
		Username:   c.GetString("username"),
		Role:       req.Role,
		Password:   req.Password,
		DeviceInfo: req.DeviceInfo,
		UserAgent:  c.Request.UserAgent(),
	})
	if err != nil {
		h.respondError(c, mapRoomError(err, true))
		return
	}
	c.JSON(http.StatusOK, gin.H{"connectionId": connID})
}

func (h *Handler) handleLeaveRoom(c *gin.Context) {
	err := h.rooms.LeaveRoom(c.Request.Context(), domain.RoomID(c.Param("id")), h.callerID(c))
	if err != nil {
		h.respondError(c, mapRoomError(err, false))
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) handleRoomStats(c *gin.Context) {
	summary, err := h.stats.RoomSummary(c.Request.Context(), domain.RoomID(c.Param("id")))
	if err != nil {
		h.respondError(c, mapRoomError(err, false))
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) handleUserStats(c *gin.Context) {
	summary := h.stats.UserSummary(c.Request.Context(), domain.UserID(c.Param("id")))
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) callerID(c *gin.Context) domain.UserID {
	return domain.UserID(c.GetString("user_id"))
}

func (h *Handler) respondError(c *gin.Context, appErr *apperrors.AppError) {
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		h.logger.Errorw("request failed", "path", c.FullPath(), "error", appErr)
	}
	c.JSON(appErr.HTTPStatus, gin.H{
		"error": gin.H{
			"code":    appErr.Code,
			"message": appErr.Message,
		},
	})
}

// mapRoomError translates domain sentinels to API errors. inputFallback
// marks paths where an unclassified error came from request validation
// rather than the store itself.
func mapRoomError(err error, inputFallback bool) *apperrors.AppError {
	if appErr := apperrors.Get(err); appErr != nil {
		return appErr
	}

	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		return apperrors.NewNotFound("room")
	case errors.Is(err, domain.ErrRoomEnded):
		return apperrors.NewGone("room has ended")
	case errors.Is(err, domain.ErrRoomFull):
		return apperrors.NewConflict("room is full")
	case errors.Is(err, domain.ErrInvalidPassword):
		return apperrors.NewForbidden("invalid room password")
	case errors.Is(err, domain.ErrAlreadyJoined):
		return apperrors.NewConflict("user already joined this room")
	case errors.Is(err, domain.ErrNotAParticipant):
		return apperrors.NewNotFound("participant")
	case errors.Is(err, domain.ErrNotCreator):
		return apperrors.NewForbidden("only the room creator may delete it")
	case errors.Is(err, domain.ErrLockTimeout):
		return apperrors.NewTimeout("room is busy, retry shortly")
	case inputFallback:
		return apperrors.NewInvalidInput(err.Error())
	default:
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "internal error", http.StatusInternalServerError)
	}
}
