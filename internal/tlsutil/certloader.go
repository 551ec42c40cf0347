// Package tlsutil terminates TLS for the relay. The certificate is reloaded
// from disk when its files change so certificates can rotate without a
// restart.
package tlsutil

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dskow/order-relay/internal/config"
)

const reloadDebounce = 300 * time.Millisecond

// CertLoader holds the current certificate and swaps it when the cert or
// key file changes. The parent directories are watched rather than the
// files themselves, so atomic replacement (rename over, or a symlink swap
// as done by Kubernetes secret mounts) is picked up too.
type CertLoader struct {
	mu       sync.RWMutex
	cert     *tls.Certificate
	certFile string
	keyFile  string
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
	reloads  chan struct{}
}

// New loads the initial certificate and starts watching for changes.
func New(certFile, keyFile string, logger *slog.Logger) (*CertLoader, error) {
	cl := &CertLoader{
		certFile: filepath.Clean(certFile),
		keyFile:  filepath.Clean(keyFile),
		logger:   logger,
		stopCh:   make(chan struct{}),
		reloads:  make(chan struct{}, 1),
	}

	if err := cl.loadCert(); err != nil {
		return nil, fmt.Errorf("initial certificate load: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	dirs := map[string]bool{filepath.Dir(cl.certFile): true, filepath.Dir(cl.keyFile): true}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("watching %s: %w", dir, err)
		}
	}

	cl.watcher = watcher
	go cl.watchLoop()

	logger.Info("TLS certificate loaded, watching for changes",
		"cert_file", certFile, "key_file", keyFile)

	return cl, nil
}

// ServerConfig returns a tls.Config serving the loader's current certificate.
func (cl *CertLoader) ServerConfig(cfg config.TLSConfig) *tls.Config {
	return &tls.Config{
		MinVersion:     MinVersion(cfg.MinVersion),
		GetCertificate: cl.GetCertificate,
	}
}

// MinVersion maps "1.3" to TLS 1.3; anything else is TLS 1.2.
func MinVersion(v string) uint16 {
	if v == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}

// GetCertificate is the tls.Config.GetCertificate callback.
func (cl *CertLoader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cl.cert, nil
}

// Reload reloads the cert/key from disk, keeping the current pair on failure.
func (cl *CertLoader) Reload() error {
	if err := cl.loadCert(); err != nil {
		cl.logger.Error("TLS certificate reload failed, keeping current",
			"error", err, "cert_file", cl.certFile, "key_file", cl.keyFile)
		return err
	}
	cl.logger.Info("TLS certificate reloaded", "cert_file", cl.certFile, "key_file", cl.keyFile)
	select {
	case cl.reloads <- struct{}{}:
	default:
	}
	return nil
}

// Reloaded signals after each successful reload. Used by tests.
func (cl *CertLoader) Reloaded() <-chan struct{} {
	return cl.reloads
}

// Stop terminates the file watcher. Safe to call more than once.
func (cl *CertLoader) Stop() {
	cl.stopOnce.Do(func() {
		close(cl.stopCh)
		if cl.watcher != nil {
			cl.watcher.Close()
		}
	})
}

func (cl *CertLoader) loadCert() error {
	cert, err := tls.LoadX509KeyPair(cl.certFile, cl.keyFile)
	if err != nil {
		return err
	}
	cl.mu.Lock()
	cl.cert = &cert
	cl.mu.Unlock()
	return nil
}

// relevant reports whether an event in a watched directory can affect the
// served pair. Kubernetes swaps a "..data" symlink, never the files.
func (cl *CertLoader) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	name := filepath.Clean(event.Name)
	return name == cl.certFile || name == cl.keyFile || filepath.Base(name) == "..data"
}

func (cl *CertLoader) watchLoop() {
	var debounce *time.Timer

	for {
		select {
		case event, ok := <-cl.watcher.Events:
			if !ok {
				return
			}
			if !cl.relevant(event) {
				continue
			}
			// cert and key are usually written back to back; reload once.
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				cl.Reload() //nolint:errcheck
			})
		case err, ok := <-cl.watcher.Errors:
			if !ok {
				return
			}
			cl.logger.Error("TLS cert file watcher error", "error", err)
		case <-cl.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return
		}
	}
}
