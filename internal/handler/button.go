// Package handler implements the API's HTTP and websocket endpoints.
package handler

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/op/go-logging"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"openfms/flic/internal/middleware"
	"openfms/flic/internal/model"
	"openfms/flic/internal/protocol"
	"openfms/flic/internal/service"
)

var log = logging.MustGetLogger("api")

// ButtonService is the business logic behind ButtonHandler.
// *service.ButtonService implements it.
type ButtonService interface {
	List(ctx context.Context, page, pageSize int) ([]model.Button, int64, error)
	Get(ctx context.Context, address string) (*model.Button, error)
	UpdateName(ctx context.Context, address, name string) (*model.Button, error)
	GetShadow(ctx context.Context, address string) (*model.ButtonShadow, error)
	SendCommand(ctx context.Context, address string, req model.SendCommandRequest) (*model.CommandReply, error)
	Events(ctx context.Context, address string, from, to time.Time, page, pageSize int) ([]model.ButtonEvent, int64, error)
	ExportEvents(ctx context.Context, address string, from, to time.Time) (*bytes.Buffer, error)
}

// ButtonHandler handles button-related requests
type ButtonHandler struct {
	buttons ButtonService
}

// NewButtonHandler creates a new button handler
func NewButtonHandler(buttons ButtonService) *ButtonHandler {
	return &ButtonHandler{buttons: buttons}
}

// addressParam returns the canonical form of the :addr path parameter,
// answering 400 itself when it is malformed.
func addressParam(c *gin.Context) (string, bool) {
	addr, err := protocol.ParseBdAddr(c.Param("addr"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid button address"})
		return "", false
	}
	return addr.String(), true
}

// timeRange reads the optional RFC 3339 from/to query parameters.
func timeRange(c *gin.Context) (from, to time.Time, err error) {
	if v := c.Query("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			return from, to, errors.Wrap(err, "from")
		}
	}
	if v := c.Query("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			return from, to, errors.Wrap(err, "to")
		}
	}
	return from, to, nil
}

// List returns list of buttons
// @Summary List buttons
// @Tags Buttons
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page number" default(1)
// @Param page_size query int false "Page size" default(20)
// @Success 200 {object} map[string]interface{}
// @Router /buttons [get]
func (h *ButtonHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	buttons, total, err := h.buttons.List(c.Request.Context(), page, pageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  buttons,
		"total": total,
		"page":  page,
	})
}

// Get returns a single button
// @Summary Get button
// @Tags Buttons
// @Produce json
// @Security BearerAuth
// @Param addr path string true "Button address"
// @Success 200 {object} model.Button
// @Failure 404 {object} map[string]string
// @Router /buttons/{addr} [get]
func (h *ButtonHandler) Get(c *gin.Context) {
	addr, ok := addressParam(c)
	if !ok {
		return
	}

	button, err := h.buttons.Get(c.Request.Context(), addr)
	if err != nil {
		notFoundOrError(c, err, "button not found")
		return
	}
	c.JSON(http.StatusOK, button)
}

// Update renames a button
// @Summary Update button
// @Tags Buttons
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param addr path string true "Button address"
// @Param body body model.UpdateButtonRequest true "New name"
// @Success 200 {object} model.Button
// @Router /buttons/{addr} [put]
func (h *ButtonHandler) Update(c *gin.Context) {
	addr, ok := addressParam(c)
	if !ok {
		return
	}
	var req model.UpdateButtonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	button, err := h.buttons.UpdateName(c.Request.Context(), addr, req.Name)
	if err != nil {
		notFoundOrError(c, err, "button not found")
		return
	}
	c.JSON(http.StatusOK, button)
}

// GetShadow returns the live button state
// @Summary Get button shadow
// @Tags Buttons
// @Produce json
// @Security BearerAuth
// @Param addr path string true "Button address"
// @Success 200 {object} model.ButtonShadow
// @Router /buttons/{addr}/shadow [get]
func (h *ButtonHandler) GetShadow(c *gin.Context) {
	addr, ok := addressParam(c)
	if !ok {
		return
	}

	shadow, err := h.buttons.GetShadow(c.Request.Context(), addr)
	if errors.Is(err, service.ErrShadowNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, shadow)
}

// SendCommand sends a command to the gateway that owns the button
// @Summary Send button command
// @Tags Buttons
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param addr path string true "Button address"
// @Param body body model.SendCommandRequest true "Command"
// @Success 200 {object} model.CommandReply
// @Failure 409 {object} map[string]string
// @Failure 504 {object} map[string]string
// @Router /buttons/{addr}/commands [post]
func (h *ButtonHandler) SendCommand(c *gin.Context) {
	addr, ok := addressParam(c)
	if !ok {
		return
	}
	var req model.SendCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reply, err := h.buttons.SendCommand(c.Request.Context(), addr, req)
	switch {
	case errors.Is(err, service.ErrInvalidCommand):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrButtonOffline):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		log.Warningf("[Button] Command %s to %s failed: %v", req.Command, addr, err)
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	case !reply.Success:
		c.JSON(http.StatusBadGateway, reply)
	default:
		log.Infof("[Button] Command %s to %s by %s", req.Command, addr, subject(c))
		c.JSON(http.StatusOK, reply)
	}
}

// Events returns recorded events for a button
// @Summary List button events
// @Tags Buttons
// @Produce json
// @Security BearerAuth
// @Param addr path string true "Button address"
// @Param from query string false "RFC 3339 start"
// @Param to query string false "RFC 3339 end"
// @Param page query int false "Page number" default(1)
// @Param page_size query int false "Page size" default(20)
// @Success 200 {object} map[string]interface{}
// @Router /buttons/{addr}/events [get]
func (h *ButtonHandler) Events(c *gin.Context) {
	addr, ok := addressParam(c)
	if !ok {
		return
	}
	from, to, err := timeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	events, total, err := h.buttons.Events(c.Request.Context(), addr, from, to, page, pageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":  events,
		"total": total,
		"page":  page,
	})
}

// ExportEvents downloads recorded events as a spreadsheet
// @Summary Export button events
// @Tags Buttons
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Security BearerAuth
// @Param addr path string true "Button address"
// @Param from query string false "RFC 3339 start"
// @Param to query string false "RFC 3339 end"
// @Success 200 {file} file
// @Router /buttons/{addr}/events/export [get]
func (h *ButtonHandler) ExportEvents(c *gin.Context) {
	addr, ok := addressParam(c)
	if !ok {
		return
	}
	from, to, err := timeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	buf, err := h.buttons.ExportEvents(c.Request.Context(), addr, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	filename := fmt.Sprintf("button_events_%s_%s.xlsx", strings.ReplaceAll(addr, ":", ""), time.Now().Format("20060102150405"))
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

func notFoundOrError(c *gin.Context, err error, notFound string) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": notFound})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func subject(c *gin.Context) string {
	if sub := middleware.Subject(c); sub != "" {
		return sub
	}
	return "anonymous"
}
