package server

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"smallbiznis-loyalty/pkg/middleware"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func writeKeyPair(t *testing.T, dir string, serial int64) (string, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: "loyalty.local"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPath := filepath.Join(dir, "tls.crt")
	keyPath := filepath.Join(dir, "tls.key")
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certPath, keyPath
}

func serialOf(t *testing.T, r *CertReloader) int64 {
	t.Helper()
	cert, err := r.GetCertificate(nil)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	return leaf.SerialNumber.Int64()
}

func TestCertReloader(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeKeyPair(t, dir, 1)

	r, err := NewCertReloader(certPath, keyPath)
	require.NoError(t, err)
	require.EqualValues(t, 1, serialOf(t, r))

	require.NoError(t, os.WriteFile(keyPath, []byte("garbage"), 0o600))
	require.Error(t, r.Reload())
	require.EqualValues(t, 1, serialOf(t, r))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Watch(ctx))

	writeKeyPair(t, dir, 2)
	require.Eventually(t, func() bool { return serialOf(t, r) == 2 }, 5*time.Second, 20*time.Millisecond)
}

func TestNewCertReloaderMissingFiles(t *testing.T) {
	_, err := NewCertReloader("/nonexistent/tls.crt", "/nonexistent/tls.key")
	require.Error(t, err)
}

func TestListenAddr(t *testing.T) {
	require.Equal(t, ":8080", ListenAddr("8080"))
	require.Equal(t, "127.0.0.1:9090", ListenAddr("127.0.0.1:9090"))
	require.Equal(t, ":8080", ListenAddr(""))
}

func TestTenantIDAnnotator(t *testing.T) {
	req := httptest.NewRequest("GET", "/v1/ledger/balance", nil)
	require.Empty(t, TenantIDAnnotator(context.Background(), req).Get(middleware.MetadataTenantID))

	req.Header.Set(HeaderTenantID, "t-1")
	require.Equal(t, []string{"t-1"}, TenantIDAnnotator(context.Background(), req).Get(middleware.MetadataTenantID))
}

func TestInterceptorLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := InterceptorLogger(zap.New(core))

	l.Log(context.Background(), logging.LevelWarn, "finished call", "grpc.method", "GetBalance", "grpc.code", "NotFound")

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, zapcore.WarnLevel, entries[0].Level)
	require.Equal(t, "GetBalance", entries[0].ContextMap()["grpc.method"])
}

func TestRecoverPanic(t *testing.T) {
	err := recoverPanic("nil map write")
	require.Equal(t, codes.Internal, status.Code(err))
}
