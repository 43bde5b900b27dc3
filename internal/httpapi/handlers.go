package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"expirybot/internal/dispatch"
	"expirybot/internal/task/scheduler"
	logx "expirybot/pkg/logx"
)

func (s *Server) Health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if s.deps.Dispatch != nil {
		body["in_flight"] = s.deps.Dispatch.InFlight()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) TriggerVendors(c *gin.Context) {
	s.trigger(c, s.deps.Dispatch.RunVendors)
}

func (s *Server) TriggerClients(c *gin.Context) {
	s.trigger(c, s.deps.Dispatch.RunClients)
}

func (s *Server) trigger(c *gin.Context, run func(context.Context, dispatch.Options) (dispatch.Summary, error)) {
	force := false
	if raw := c.Query("force"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			abortWith(c, NewAPIError(ErrInvalidInput, "force must be a boolean", raw))
			return
		}
		force = v
	}

	ctx, cancel := s.runContext(c)
	defer cancel()
	sum, err := run(ctx, dispatch.Options{Force: force, Trigger: dispatch.TriggerManual})
	if err != nil {
		if !errors.Is(err, dispatch.ErrRunInFlight) {
			s.log.Error("manual trigger failed", logx.String("path", c.FullPath()), logx.Err(err))
		}
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *Server) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, NewAPIError(ErrBadRequest, "invalid JSON body", err.Error()))
		return
	}
	if err := req.Validate(); err != nil {
		abortWith(c, NewAPIError(ErrInvalidInput, "validation failed", err))
		return
	}
	ctx, cancel := s.runContext(c)
	defer cancel()
	res, err := s.deps.Dispatch.SendOne(ctx, req.Phone, req.Message)
	s.respondSend(c, res, err)
}

func (s *Server) SendTest(c *gin.Context) {
	var req SendTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, NewAPIError(ErrBadRequest, "invalid JSON body", err.Error()))
		return
	}
	if err := req.Validate(); err != nil {
		abortWith(c, NewAPIError(ErrInvalidInput, "validation failed", err))
		return
	}
	ctx, cancel := s.runContext(c)
	defer cancel()
	res, err := s.deps.Dispatch.SendTest(ctx, req.Phone)
	s.respondSend(c, res, err)
}

// respondSend reports a gateway rejection as 502 with the ledger outcome
// attached; validation and storage errors map as usual.
func (s *Server) respondSend(c *gin.Context, res dispatch.SendResult, err error) {
	if err == nil {
		c.JSON(http.StatusOK, res)
		return
	}
	if res.Status == "failed" {
		abortWith(c, NewAPIError(ErrBadGateway, "gateway rejected the message", res))
		return
	}
	abortWith(c, err)
}

func (s *Server) ListNotifications(c *gin.Context) {
	var q ListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		abortWith(c, NewAPIError(ErrBadRequest, "invalid query", err.Error()))
		return
	}
	if err := q.Validate(); err != nil {
		abortWith(c, NewAPIError(ErrInvalidInput, "validation failed", err))
		return
	}
	if s.deps.History == nil {
		abortWith(c, NewAPIError(ErrUnavailable, "delivery ledger is disabled", nil))
		return
	}
	page, err := s.deps.History.List(c.Request.Context(), q.toQuery())
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

type schedulerStatus struct {
	scheduler.Snapshot
	CurrentTime string                      `json:"current_time"`
	InFlight    map[dispatch.Channel]string `json:"in_flight"`
}

func (s *Server) SchedulerStatus(c *gin.Context) {
	out := schedulerStatus{CurrentTime: time.Now().In(s.deps.Location).Format("02/01/2006 15:04")}
	if s.deps.Scheduler != nil {
		out.Snapshot = s.deps.Scheduler.Snapshot()
	}
	if s.deps.Dispatch != nil {
		out.InFlight = s.deps.Dispatch.InFlight()
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) GatewayStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Gateway.ConnectionState(c.Request.Context()))
}

func (s *Server) GatewayQR(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Gateway.Connect(c.Request.Context()))
}
