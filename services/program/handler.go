package program

import (
	"net/http"
	"strconv"

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
	programs := r.Group("/v1/programs")
	programs.POST("", h.createProgram)
	programs.GET("", h.listPrograms)
	programs.GET("/:id", h.getProgram)
	programs.POST("/:id/activate", h.activateProgram)
	programs.POST("/:id/deactivate", h.deactivateProgram)
	programs.POST("/:id/versions", h.newProgramVersion)

	rules := r.Group("/v1/rules")
	rules.POST("", h.createRule)
	rules.GET("", h.listRules)
	rules.GET("/:id", h.getRule)
	rules.POST("/:id/activate", h.activateRule)
	rules.POST("/:id/deactivate", h.deactivateRule)
	rules.POST("/:id/versions", h.newRuleVersion)
}

func listParams(c *gin.Context) ListParams {
	limit, _ := strconv.Atoi(c.Query("limit"))
	return ListParams{
		ProgramID: c.Query("programId"),
		Status:    Status(c.Query("status")),
		Limit:     limit,
	}
}

func (h *Handler) createProgram(c *gin.Context) {
	tenantID, err := httpapi.TenantID(c)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	var in ProgramInput
	if err := httpapi.BindJSON(c, &in); err != nil {
		httpapi.Fail(c, err)
		return
	}
	in.TenantID = tenantID

	p, err := h.svc.CreateProgram(c.Request.Context(), in)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) listPrograms(c *gin.Context) {
	tenantID, err := httpapi.TenantID(c)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	out, err := h.svc.ListPrograms(c.Request.Context(), tenantID, listParams(c))
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (h *Handler) getProgram(c *gin.Context) {
	tenantID, err := httpapi.TenantID(c)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	p, err := h.svc.GetProgram(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) activateProgram(c *gin.Context) {
	tenantID, err := httpapi.TenantID(c)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	p, err := h.svc.ActivateProgram(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) deactivateProgram(c *gin.Context) {
	tenantID, err := httpapi.TenantID(c)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	p, err := h.svc.DeactivateProgram(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// newProgramVersion takes the logical program id in the path.
func (h *Handler) newProgramVersion(c *gin.Context) {
	tenantID, err := httpapi.TenantID(c)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	var in ProgramInput
	if err := httpapi.BindJSON(c, &in); err != nil {
		httpapi.Fail(c, err)
		return
	}
	in.TenantID = tenantID

	p, err := h.svc.NewProgramVersion(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) createRule(c *gin.Context) {
	tenantID, err := httpapi.TenantID(c)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	var in RuleInput
	if err := httpapi.BindJSON(c, &in); err != nil {
		httpapi.Fail(c, err)
		return
	}
	in.TenantID = tenantID

	r, err := h.svc.CreateRule(c.Request.Context(), in)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (h *Handler) listRules(c *gin.Context) {
	tenantID, err := httpapi.TenantID(c)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	out, err := h.svc.ListRules(c.Request.Context(), tenantID, listParams(c))
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (h *Handler) getRule(c *gin.Context) {
	tenantID, err := httpapi.TenantID(c)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	r, err := h.svc.GetRule(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) activateRule(c *gin.Context) {
	tenantID, err := httpapi.TenantID(c)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	r, err := h.svc.ActivateRule(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) deactivateRule(c *gin.Context) {
	tenantID, err := httpapi.TenantID(c)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	r, err := h.svc.DeactivateRule(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) newRuleVersion(c *gin.Context) {
	tenantID, err := httpapi.TenantID(c)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	var in RuleInput
	if err := httpapi.BindJSON(c, &in); err != nil {
		httpapi.Fail(c, err)
		return
	}
	in.TenantID = tenantID

	r, err := h.svc.NewRuleVersion(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}
