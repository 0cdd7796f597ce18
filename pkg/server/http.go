package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"

	"smallbiznis-loyalty/pkg/config"
	"smallbiznis-loyalty/pkg/middleware"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc/metadata"
)

var ProvideHTTPServer = fx.Module("http.server",
	fx.Provide(NewHttpServer),
	fx.Invoke(Run),
)

type Server struct {
	server     *http.Server
	unixSocket string
}

const HeaderTenantID = "X-Tenant-ID"

// TenantIDAnnotator forwards the tenant header to gateway-proxied gRPC calls.
func TenantIDAnnotator(ctx context.Context, req *http.Request) metadata.MD {
	md := metadata.New(nil)
	if tenantID := req.Header.Get(HeaderTenantID); tenantID != "" {
		md.Set(middleware.MetadataTenantID, tenantID)
	}
	return md
}

// ListenAddr accepts either a bare port ("8080") or host:port.
func ListenAddr(addr string) string {
	if addr == "" {
		return ":8080"
	}
	if strings.Contains(addr, ":") {
		return addr
	}
	return ":" + addr
}

type Params struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
	Handler   http.Handler
}

func NewHttpServer(p Params) (*Server, error) {
	cfg := p.Config
	srv := &Server{
		server: &http.Server{
			Addr:         ListenAddr(cfg.Server.Addr),
			Handler:      p.Handler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
	}
	if cfg.Server.UseUnixSocket {
		srv.unixSocket = cfg.Server.UnixSocketPath
		if srv.unixSocket == "" {
			return nil, fmt.Errorf("HTTP_SERVER.UNIX_SOCKET_PATH is required when USE_UNIX_SOCKET is set")
		}
	}

	if cfg.TLS.Enable {
		certs, err := NewCertReloader(cfg.TLS.CertPath, cfg.TLS.KeyPath)
		if err != nil {
			return nil, err
		}
		watchOnLifecycle(p.Lifecycle, certs)
		srv.server.TLSConfig = certs.TLSConfig()
	}

	return srv, nil
}

func (s *Server) listen() (net.Listener, error) {
	if s.unixSocket != "" {
		if err := os.Remove(s.unixSocket); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
		return net.Listen("unix", s.unixSocket)
	}
	return net.Listen("tcp", s.server.Addr)
}

func Run(lc fx.Lifecycle, srv *Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			lis, err := srv.listen()
			if err != nil {
				return err
			}
			if srv.server.TLSConfig != nil {
				lis = tls.NewListener(lis, srv.server.TLSConfig)
			}

			zap.L().Info("Starting HTTP server",
				zap.String("addr", lis.Addr().String()),
				zap.Bool("tls", srv.server.TLSConfig != nil))
			go func() {
				if err := srv.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
					zap.L().Fatal("HTTP server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			zap.L().Info("Shutting down HTTP server gracefully...")
			return srv.server.Shutdown(ctx)
		},
	})
}
