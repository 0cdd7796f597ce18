package httpapi

import (
	"strings"

	"smallbiznis-loyalty/pkg/errutil"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

const HeaderTenantID = "X-Tenant-ID"

// Route is implemented by every gin handler set mounted on the API server.
type Route interface {
	Register(r gin.IRouter)
}

// AsRoute annotates a constructor so its result joins the "routes" group.
func AsRoute(f any) any {
	return fx.Annotate(
		f,
		fx.As(new(Route)),
		fx.ResultTags(`group:"routes"`),
	)
}

func TenantID(c *gin.Context) (string, error) {
	id := strings.TrimSpace(c.GetHeader(HeaderTenantID))
	if id == "" {
		return "", errutil.BadRequest("missing tenant", nil, errutil.WithDetails(errutil.Detail{
			Field:   HeaderTenantID,
			Message: "header is required",
		}))
	}
	return id, nil
}

// Fail records err for the error middleware and stops the chain.
func Fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

func BindJSON(c *gin.Context, v any) error {
	if err := c.ShouldBindJSON(v); err != nil {
		return errutil.BadRequest("invalid request body", err)
	}
	return nil
}
