package redemption

import (
	"net/http"

	"smallbiznis-loyalty/pkg/httpapi"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/v1/redemptions")
	g.POST("", h.start)
	g.GET("/:key", h.state)
	g.POST("/:key/confirm", h.confirm)
	g.POST("/:key/cancel", h.cancel)
}

func (h *Handler) start(c *gin.Context) {
	tenantID, err := httpapi.TenantID(c)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	var req Request
	if err := httpapi.BindJSON(c, &req); err != nil {
		httpapi.Fail(c, err)
		return
	}
	req.TenantID = tenantID

	st, err := h.svc.Start(c.Request.Context(), req)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, st)
}

func (h *Handler) state(c *gin.Context) {
	tenantID, err := httpapi.TenantID(c)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	st, err := h.svc.State(c.Request.Context(), tenantID, c.Param("key"))
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) confirm(c *gin.Context) {
	tenantID, err := httpapi.TenantID(c)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	if err := h.svc.Confirm(c.Request.Context(), tenantID, c.Param("key")); err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *Handler) cancel(c *gin.Context) {
	tenantID, err := httpapi.TenantID(c)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body)
	if err := h.svc.Cancel(c.Request.Context(), tenantID, c.Param("key"), body.Reason); err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}
