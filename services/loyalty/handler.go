package loyalty

import (
	"net/http"

	"smallbiznis-loyalty/pkg/httpapi"
	"smallbiznis-loyalty/services/event"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	engine *Engine
	events *event.Service
}

func NewHandler(engine *Engine, events *event.Service) *Handler {
	return &Handler{engine: engine, events: events}
}

func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/v1/events")
	g.POST("", h.ingest)
	g.POST("/evaluate", h.evaluate)
	g.GET("/:id", h.get)
}

func bindEvent(c *gin.Context) (event.Event, bool) {
	tenantID, err := httpapi.TenantID(c)
	if err != nil {
		httpapi.Fail(c, err)
		return event.Event{}, false
	}
	var ev event.Event
	if err := httpapi.BindJSON(c, &ev); err != nil {
		httpapi.Fail(c, err)
		return event.Event{}, false
	}
	ev.TenantID = tenantID
	return ev, true
}

// ingest stores the event and queues it. A redelivered event answers 200
// with the stored record instead of 202.
func (h *Handler) ingest(c *gin.Context) {
	ev, ok := bindEvent(c)
	if !ok {
		return
	}
	rec, dup, err := h.events.Ingest(c.Request.Context(), ev)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	status := http.StatusAccepted
	if dup {
		status = http.StatusOK
	}
	c.JSON(status, rec)
}

// evaluate runs the engine synchronously and returns the full result.
func (h *Handler) evaluate(c *gin.Context) {
	ev, ok := bindEvent(c)
	if !ok {
		return
	}
	res, err := h.engine.ProcessEvent(c.Request.Context(), ev)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) get(c *gin.Context) {
	tenantID, err := httpapi.TenantID(c)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	rec, err := h.events.Get(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}
