package middleware

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const MetadataTenantID = "x-tenant-id"

type tenantKey struct{}

type tenantScoped interface {
	GetTenantId() string
}

// TenantInterceptor puts the caller's tenant in the context. A request body
// naming a different tenant than the x-tenant-id metadata is refused.
func TenantInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		tenant := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(MetadataTenantID); len(vals) > 0 {
				tenant = strings.TrimSpace(vals[0])
			}
		}

		if scoped, ok := req.(tenantScoped); ok {
			body := scoped.GetTenantId()
			switch {
			case tenant == "":
				tenant = body
			case body != "" && body != tenant:
				return nil, status.Errorf(codes.PermissionDenied, "tenant %q does not match caller", body)
			}
		}

		if tenant != "" {
			ctx = context.WithValue(ctx, tenantKey{}, tenant)
		}
		return handler(ctx, req)
	}
}

func TenantFromContext(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(tenantKey{}).(string)
	return t, ok && t != ""
}
