package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/soundmesh/internal/app"
	"github.com/dkeye/soundmesh/internal/app/orch"
	"github.com/dkeye/soundmesh/internal/core"
	"github.com/dkeye/soundmesh/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// AdminHandlers serves the operator REST surface over the orchestrator.
type AdminHandlers struct {
	Orch *orch.Orchestrator
}

type channelRequest struct {
	ID          domain.ChannelID `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
}

type channelUpdateRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func (h *AdminHandlers) Register(g *gin.RouterGroup) {
	clients := g.Group("/clients")
	clients.GET("", h.listClients)
	clients.GET("/:id", h.getClient)
	clients.POST("/:id/authorize", h.authorizeClient)
	clients.POST("/:id/reject", h.rejectClient)
	clients.DELETE("/:id", h.disconnectClient)
	clients.GET("/:id/permissions", h.getPermissions)
	clients.PUT("/:id/permissions", h.setPermissions)

	channels := g.Group("/channels")
	channels.GET("", h.listChannels)
	channels.POST("", h.createChannel)
	channels.GET("/:id", h.getChannel)
	channels.PUT("/:id", h.updateChannel)
	channels.DELETE("/:id", h.deleteChannel)

	g.POST("/reconcile", h.reconcile)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orch.ErrSessionNotFound), errors.Is(err, app.ErrChannelNotFound):
		return http.StatusNotFound
	case errors.Is(err, app.ErrChannelExists):
		return http.StatusConflict
	case errors.Is(err, orch.ErrNotPending),
		errors.Is(err, domain.ErrChannelNameEmpty),
		errors.Is(err, domain.ErrChannelNameTooLong),
		errors.Is(err, domain.ErrDescriptionTooLong):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func abortWith(c *gin.Context, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("admin request failed")
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func clientID(c *gin.Context) core.SessionID {
	return core.SessionID(c.Param("id"))
}

func (h *AdminHandlers) listClients(c *gin.Context) {
	c.JSON(http.StatusOK, h.Orch.ListClients())
}

func (h *AdminHandlers) getClient(c *gin.Context) {
	pub, err := h.Orch.Client(clientID(c))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, pub)
}

func (h *AdminHandlers) authorizeClient(c *gin.Context) {
	pub, err := h.Orch.Authorize(clientID(c))
	if err != nil {
		abortWith(c, err)
		return
	}
	log.Info().Str("module", "adapters.http").Str("sid", string(pub.ID)).Msg("client authorized by admin")
	c.JSON(http.StatusOK, pub)
}

func (h *AdminHandlers) rejectClient(c *gin.Context) {
	sid := clientID(c)
	if err := h.Orch.Reject(sid); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Client '" + string(sid) + "' rejected and disconnected."})
}

func (h *AdminHandlers) disconnectClient(c *gin.Context) {
	if err := h.Orch.Disconnect(clientID(c)); err != nil {
		abortWith(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AdminHandlers) getPermissions(c *gin.Context) {
	pub, err := h.Orch.Client(clientID(c))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, pub.Permissions)
}

func (h *AdminHandlers) setPermissions(c *gin.Context) {
	var req domain.Permissions
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid permissions"})
		return
	}
	perms, err := h.Orch.SetPermissions(clientID(c), req)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, perms)
}

func (h *AdminHandlers) reconcile(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"repaired": h.Orch.Sweep()})
}

func (h *AdminHandlers) listChannels(c *gin.Context) {
	c.JSON(http.StatusOK, h.Orch.Channels.List())
}

func (h *AdminHandlers) getChannel(c *gin.Context) {
	ch, ok := h.Orch.Channels.Get(domain.ChannelID(c.Param("id")))
	if !ok {
		abortWith(c, app.ErrChannelNotFound)
		return
	}
	c.JSON(http.StatusOK, ch)
}

func (h *AdminHandlers) createChannel(c *gin.Context) {
	var req channelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid channel"})
		return
	}
	ch, err := h.Orch.CreateChannel(domain.Channel{ID: req.ID, Name: req.Name, Description: req.Description})
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, ch)
}

func (h *AdminHandlers) updateChannel(c *gin.Context) {
	var req channelUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid channel"})
		return
	}
	ch, err := h.Orch.UpdateChannel(domain.ChannelID(c.Param("id")), req.Name, req.Description)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

func (h *AdminHandlers) deleteChannel(c *gin.Context) {
	if err := h.Orch.DeleteChannel(domain.ChannelID(c.Param("id"))); err != nil {
		abortWith(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
