package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/edustream/classroom/internal/app"
	"github.com/edustream/classroom/internal/app/sfu"
	"github.com/edustream/classroom/internal/core"
	"github.com/edustream/classroom/internal/domain"
	"github.com/edustream/classroom/internal/fleet"
)

type Handlers struct {
	Store      core.RoomStore
	Fleet      *fleet.Coordinator
	Registry   *app.Registry
	Media      *sfu.Manager
	InstanceID string
	AppPort    int

	started time.Time
}

func NewHandlers(store core.RoomStore, fl *fleet.Coordinator, registry *app.Registry, media *sfu.Manager, instanceID string, appPort int) *Handlers {
	return &Handlers{
		Store:      store,
		Fleet:      fl,
		Registry:   registry,
		Media:      media,
		InstanceID: instanceID,
		AppPort:    appPort,
		started:    time.Now(),
	}
}

func (h *Handlers) instanceURL(ip string) string {
	return fmt.Sprintf("http://%s:%d", ip, h.AppPort)
}

type createRoomRequest struct {
	RoomID      domain.RoomID `json:"roomId"`
	TeacherName string        `json:"teacherName"`
}

func (h *Handlers) CreateRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := domain.ValidateRoomID(req.RoomID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	created, err := h.Store.CreateRoom(c.Request.Context(), req.RoomID, req.TeacherName, h.InstanceID, "")
	if err != nil {
		log.Error().Err(err).Str("module", "api").Str("room", string(req.RoomID)).Msg("create room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create room"})
		return
	}
	if !created {
		c.JSON(http.StatusConflict, gin.H{"error": "room already exists"})
		return
	}
	log.Info().Str("module", "api").Str("room", string(req.RoomID)).Str("teacher", req.TeacherName).Msg("room created")

	inst, err := h.Fleet.Acquire(c.Request.Context(), req.RoomID, req.TeacherName)
	if err != nil {
		log.Error().Err(err).Str("module", "api").Str("room", string(req.RoomID)).Msg("provisioning")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create room"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"roomId":      req.RoomID,
		"instanceUrl": h.instanceURL(inst.PublicIP),
	})
}

func (h *Handlers) CheckRoom(c *gin.Context) {
	roomID := domain.RoomID(c.Param("roomId"))
	exists, err := h.Store.RoomExists(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check room"})
		return
	}
	if !exists {
		c.JSON(http.StatusOK, gin.H{"exists": false})
		return
	}
	if inst, ok := h.Fleet.Verify(c.Request.Context(), roomID); ok {
		c.JSON(http.StatusOK, gin.H{"exists": true, "instanceUrl": h.instanceURL(inst.PublicIP)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"exists": true, "instanceUrl": nil})
}

func (h *Handlers) JoinRoom(c *gin.Context) {
	roomID := domain.RoomID(c.Param("roomId"))
	exists, err := h.Store.RoomExists(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	inst, err := h.Store.Instance(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	if inst.PublicIP == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "room server not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"roomId": roomID, "instanceIp": inst.PublicIP})
}

// Redirect sends the browser to the instance hosting the room, or
// returns the URL as JSON when ?json=true.
func (h *Handlers) Redirect(c *gin.Context) {
	roomID := domain.RoomID(c.Param("roomId"))
	inst, ok := h.Fleet.Verify(c.Request.Context(), roomID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found or has no active instance"})
		return
	}
	redirectURL := fmt.Sprintf("https://%s:%d/classroom/%s", inst.PublicIP, h.AppPort, roomID)
	if c.Query("json") == "true" {
		c.JSON(http.StatusOK, gin.H{"redirectUrl": redirectURL})
		return
	}
	c.Redirect(http.StatusFound, redirectURL)
}

func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "OK",
		"instanceId":    h.InstanceID,
		"activeRooms":   h.Registry.RoomCount(),
		"activeWorkers": h.Media.WorkerCount(),
		"uptime":        time.Since(h.started).Seconds(),
	})
}
