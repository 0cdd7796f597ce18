package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"smallbiznis-loyalty/pkg/errutil"

	"github.com/gin-gonic/gin"
	ledgerv1 "github.com/smallbiznis/go-genproto/smallbiznis/ledger/v1"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	m, err := NewHTTPMetrics(noop.NewMeterProvider())
	require.NoError(t, err)

	r := gin.New()
	r.Use(AccessLog(m), Error())
	r.GET("/not-found", func(c *gin.Context) {
		_ = c.Error(errutil.NotFound("membership not found", nil))
	})
	r.GET("/boom", func(c *gin.Context) {
		_ = c.Error(errors.New("disk on fire"))
	})
	r.GET("/ok", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestAccessLogSetsRequestID(t *testing.T) {
	r := newRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	require.Equal(t, http.StatusNoContent, w.Code)
	require.NotEmpty(t, w.Header().Get(HeaderRequestID))

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(HeaderRequestID, "req-1")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, "req-1", w.Header().Get(HeaderRequestID))
}

func TestErrorRendersBaseError(t *testing.T) {
	r := newRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/not-found", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "membership not found", body.Error.Message)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, w.Body.String(), "disk on fire")
}

func TestTenantInterceptor(t *testing.T) {
	interceptor := TenantInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/ledger.v1.LedgerService/GetBalance"}

	var seen string
	handler := func(ctx context.Context, req any) (any, error) {
		seen, _ = TenantFromContext(ctx)
		return "ok", nil
	}

	t.Run("metadata wins when body is empty", func(t *testing.T) {
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(MetadataTenantID, "t1"))
		_, err := interceptor(ctx, &ledgerv1.GetBalanceRequest{MemberId: "m1"}, info, handler)
		require.NoError(t, err)
		require.Equal(t, "t1", seen)
	})

	t.Run("body tenant without metadata", func(t *testing.T) {
		_, err := interceptor(context.Background(), &ledgerv1.GetBalanceRequest{TenantId: "t2"}, info, handler)
		require.NoError(t, err)
		require.Equal(t, "t2", seen)
	})

	t.Run("mismatch is refused", func(t *testing.T) {
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(MetadataTenantID, "t1"))
		_, err := interceptor(ctx, &ledgerv1.GetBalanceRequest{TenantId: "t2"}, info, handler)
		require.Equal(t, codes.PermissionDenied, status.Code(err))
	})
}
