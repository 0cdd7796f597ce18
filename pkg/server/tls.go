package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// CertReloader hands out the most recently loaded key pair. Both servers read
// certificates through it so a rotated secret is picked up without restart.
type CertReloader struct {
	certPath string
	keyPath  string

	mu   sync.RWMutex
	cert *tls.Certificate
}

func NewCertReloader(certPath, keyPath string) (*CertReloader, error) {
	r := &CertReloader{certPath: filepath.Clean(certPath), keyPath: filepath.Clean(keyPath)}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload keeps the previous pair when the new one fails to load.
func (r *CertReloader) Reload() error {
	cert, err := tls.LoadX509KeyPair(r.certPath, r.keyPath)
	if err != nil {
		return fmt.Errorf("load key pair: %w", err)
	}
	r.mu.Lock()
	r.cert = &cert
	r.mu.Unlock()
	return nil
}

func (r *CertReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cert == nil {
		return nil, fmt.Errorf("no TLS cert loaded")
	}
	return r.cert, nil
}

func (r *CertReloader) TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: r.GetCertificate,
	}
}

// Watch reloads on changes until ctx is done. The parent directories are
// watched rather than the files, since secret mounts swap files by rename.
func (r *CertReloader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	for _, dir := range uniqueDirs(r.certPath, r.keyPath) {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !r.relevant(event) {
					continue
				}
				if err := r.Reload(); err != nil {
					zap.L().Warn("TLS certificate reload failed, keeping previous pair", zap.Error(err))
					continue
				}
				zap.L().Info("TLS certificate reloaded", zap.String("cert", r.certPath))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				zap.L().Error("watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

func (r *CertReloader) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Clean(event.Name)
	return name == r.certPath || name == r.keyPath || filepath.Base(name) == "..data"
}

func uniqueDirs(paths ...string) []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range paths {
		d := filepath.Dir(p)
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}

// watchOnLifecycle ties the watcher to the fx app.
func watchOnLifecycle(lc fx.Lifecycle, r *CertReloader) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return r.Watch(ctx)
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
