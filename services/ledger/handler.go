package ledger

import (
	"net/http"

	"smallbiznis-loyalty/pkg/db/pagination"
	"smallbiznis-loyalty/pkg/errutil"
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
	m := r.Group("/v1/memberships/:membershipId")
	m.GET("/balance", h.balance)
	m.GET("/transactions", h.statement)
	m.GET("/verify", h.verify)
	m.POST("/export", h.export)
	m.POST("/adjustments", h.adjust)
	m.POST("/holds", h.hold)
	m.POST("/redemptions", h.redeem)

	tx := r.Group("/v1/transactions")
	tx.GET("/:id", h.get)
	tx.POST("/:id/release", h.release)
	tx.POST("/:id/reverse", h.reverse)
}

// scope resolves the tenant header and the membership path parameter.
func scope(c *gin.Context) (string, string, bool) {
	tenantID, err := httpapi.TenantID(c)
	if err != nil {
		httpapi.Fail(c, err)
		return "", "", false
	}
	return tenantID, c.Param("membershipId"), true
}

func (h *Handler) balance(c *gin.Context) {
	tenantID, membershipID, ok := scope(c)
	if !ok {
		return
	}

	var (
		bal Balance
		err error
	)
	if programID := c.Query("programId"); programID != "" {
		bal, err = h.svc.BalanceByProgram(c.Request.Context(), tenantID, membershipID, programID)
	} else {
		bal, err = h.svc.Balance(c.Request.Context(), tenantID, membershipID)
	}
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

func (h *Handler) statement(c *gin.Context) {
	tenantID, membershipID, ok := scope(c)
	if !ok {
		return
	}
	var p pagination.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		httpapi.Fail(c, errutil.BadRequest("invalid pagination", err))
		return
	}

	rows, info, err := h.svc.Statement(c.Request.Context(), tenantID, membershipID, p)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows, "page_info": info})
}

func (h *Handler) verify(c *gin.Context) {
	tenantID, membershipID, ok := scope(c)
	if !ok {
		return
	}
	valid, err := h.svc.VerifyChain(c.Request.Context(), tenantID, membershipID)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": valid})
}

func (h *Handler) export(c *gin.Context) {
	tenantID, membershipID, ok := scope(c)
	if !ok {
		return
	}
	key, err := h.svc.ExportStatement(c.Request.Context(), tenantID, membershipID)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"object": key})
}

func (h *Handler) adjust(c *gin.Context) {
	tenantID, membershipID, ok := scope(c)
	if !ok {
		return
	}
	var req AdjustRequest
	if err := httpapi.BindJSON(c, &req); err != nil {
		httpapi.Fail(c, err)
		return
	}
	req.TenantID, req.MembershipID = tenantID, membershipID
	if req.IdempotencyKey == "" {
		httpapi.Fail(c, errutil.BadRequest("idempotencyKey is required", ErrMissingKey))
		return
	}

	t, err := h.svc.Adjust(c.Request.Context(), req)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *Handler) hold(c *gin.Context) {
	tenantID, membershipID, ok := scope(c)
	if !ok {
		return
	}
	var req HoldRequest
	if err := httpapi.BindJSON(c, &req); err != nil {
		httpapi.Fail(c, err)
		return
	}
	req.TenantID, req.MembershipID = tenantID, membershipID

	t, err := h.svc.Hold(c.Request.Context(), req)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *Handler) redeem(c *gin.Context) {
	tenantID, membershipID, ok := scope(c)
	if !ok {
		return
	}
	var req RedeemRequest
	if err := httpapi.BindJSON(c, &req); err != nil {
		httpapi.Fail(c, err)
		return
	}
	req.TenantID, req.MembershipID = tenantID, membershipID

	t, err := h.svc.Redeem(c.Request.Context(), req)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *Handler) get(c *gin.Context) {
	tenantID, err := httpapi.TenantID(c)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	t, err := h.svc.Get(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) release(c *gin.Context) {
	tenantID, err := httpapi.TenantID(c)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	t, err := h.svc.Release(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

type reverseRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) reverse(c *gin.Context) {
	tenantID, err := httpapi.TenantID(c)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	var req reverseRequest
	if c.Request.ContentLength > 0 {
		if err := httpapi.BindJSON(c, &req); err != nil {
			httpapi.Fail(c, err)
			return
		}
	}

	t, err := h.svc.Reverse(c.Request.Context(), tenantID, c.Param("id"), req.Reason)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}
