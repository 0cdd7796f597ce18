package servicediscover

import (
	"testing"

	"smallbiznis-loyalty/pkg/config"

	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
)

func TestNewConsulRegistry(t *testing.T) {
	r, err := NewConsulRegistry("127.0.0.1:8500", "loyalty", ServiceID("loyalty", "10.0.0.4", 8080), "10.0.0.4", 8080)
	require.NoError(t, err)
	require.Equal(t, "loyalty-10.0.0.4-8080", r.serviceID)
	require.Equal(t, "http://10.0.0.4:8080/readyz", r.service.Check.HTTP)
}

func TestRegisterConsulSkippedWithoutAddr(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	require.NoError(t, registerConsul(lc, &config.Config{}))
	lc.RequireStart().RequireStop()
}

func TestRegisterConsulRejectsBadPort(t *testing.T) {
	cfg := &config.Config{}
	cfg.Consul.Addr = "127.0.0.1:8500"
	cfg.Server.Addr = "http"
	require.Error(t, registerConsul(fxtest.NewLifecycle(t), cfg))
}
