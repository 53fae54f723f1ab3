package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/noah-isme/univ-scheduler-api/internal/dto"
	"github.com/noah-isme/univ-scheduler-api/internal/service"
	appErrors "github.com/noah-isme/univ-scheduler-api/pkg/errors"
	corsmiddleware "github.com/noah-isme/univ-scheduler-api/pkg/middleware/cors"
	"github.com/noah-isme/univ-scheduler-api/pkg/realtime"
	"github.com/noah-isme/univ-scheduler-api/pkg/response"
)

type schedulingRunService interface {
	Create(ctx context.Context, req dto.CreateSchedulingRunRequest, actorID string) (*dto.SchedulingRunAccepted, error)
	Get(ctx context.Context, id string) (*dto.SchedulingRunResponse, error)
	Cancel(ctx context.Context, id, actorID string) (*dto.SchedulingRunResponse, error)
	ListFailures(ctx context.Context, id string) ([]dto.RunFailureResponse, error)
}

type progressHub interface {
	Attach(conn *websocket.Conn, topic string, greeting *realtime.Message)
}

// SchedulingRunHandler exposes scheduling run endpoints.
type SchedulingRunHandler struct {
	service   schedulingRunService
	hub       progressHub
	upgrader  websocket.Upgrader
	apiPrefix string
	logger    *zap.Logger
}

// NewSchedulingRunHandler constructs the handler. Websocket upgrades are
// accepted from the same origins as CORS.
func NewSchedulingRunHandler(svc schedulingRunService, hub progressHub, allowedOrigins []string, apiPrefix string, logger *zap.Logger) *SchedulingRunHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := corsmiddleware.OriginSet(allowedOrigins)
	return &SchedulingRunHandler{
		service:   svc,
		hub:       hub,
		apiPrefix: strings.TrimRight(apiPrefix, "/"),
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || corsmiddleware.Allowed(origins, origin)
			},
		},
	}
}

// Create godoc
// @Summary Start a scheduling run
// @Description Queue a scheduling run over a date frame; progress is reported asynchronously
// @Tags SchedulingRuns
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CreateSchedulingRunRequest true "Run parameters"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /scheduling-runs [post]
func (h *SchedulingRunHandler) Create(c *gin.Context) {
	var req dto.CreateSchedulingRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid scheduling run payload"))
		return
	}

	accepted, err := h.service.Create(c.Request.Context(), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, accepted, fmt.Sprintf("%s/scheduling-runs/%s", h.apiPrefix, accepted.ID))
}

// Get godoc
// @Summary Scheduling run status
// @Tags SchedulingRuns
// @Produce json
// @Security BearerAuth
// @Param id path string true "Run ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /scheduling-runs/{id} [get]
func (h *SchedulingRunHandler) Get(c *gin.Context) {
	run, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, run, nil)
}

// Cancel godoc
// @Summary Cancel a scheduling run
// @Description A queued run is cancelled at once; a running run stops after its current pass
// @Tags SchedulingRuns
// @Produce json
// @Security BearerAuth
// @Param id path string true "Run ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /scheduling-runs/{id}/cancel [post]
func (h *SchedulingRunHandler) Cancel(c *gin.Context) {
	run, err := h.service.Cancel(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, run, nil)
}

// Failures godoc
// @Summary Unscheduled requirements of a run
// @Tags SchedulingRuns
// @Produce json
// @Security BearerAuth
// @Param id path string true "Run ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /scheduling-runs/{id}/failures [get]
func (h *SchedulingRunHandler) Failures(c *gin.Context) {
	failures, err := h.service.ListFailures(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, failures, nil)
}

// Progress godoc
// @Summary Stream run progress
// @Description Upgrades to a websocket that receives a snapshot followed by progress and finished messages
// @Tags SchedulingRuns
// @Security BearerAuth
// @Param id path string true "Run ID"
// @Param access_token query string false "Access token for clients that cannot set headers"
// @Success 101
// @Failure 404 {object} response.Envelope
// @Router /scheduling-runs/{id}/progress/ws [get]
func (h *SchedulingRunHandler) Progress(c *gin.Context) {
	runID := c.Param("id")
	run, err := h.service.Get(c.Request.Context(), runID)
	if err != nil {
		response.Error(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		h.logger.Sugar().Debugw("websocket upgrade failed", "run_id", runID, "error", err)
		return
	}

	topic := service.RunTopic(runID)
	if run.Status.Terminal() {
		h.sendFinal(conn, topic, run)
		return
	}
	h.hub.Attach(conn, topic, &realtime.Message{Type: service.MessageSnapshot, Payload: run})
	if claims := claimsFromContext(c); claims != nil {
		h.logger.Sugar().Debugw("progress subscriber attached", "run_id", runID, "user_id", claims.UserID)
	}
}

func (h *SchedulingRunHandler) sendFinal(conn *websocket.Conn, topic string, run *dto.SchedulingRunResponse) {
	defer conn.Close()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(realtime.Message{Type: service.MessageFinished, Topic: topic, Payload: run}); err != nil {
		return
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"))
}
