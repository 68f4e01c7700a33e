// kestreld - interactive MITM proxy daemon.
// Provides the intercepting HTTP/HTTPS/WebSocket proxy with an HTTP
// and WebSocket control plane for GUI/CLI clients.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kestrelmitm/kestrel"
	"github.com/kestrelmitm/kestrel/internal/api"
	kconfig "github.com/kestrelmitm/kestrel/internal/config"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("CRITICAL PANIC RECOVERED: %v", r)
			time.Sleep(2 * time.Second)
			os.Exit(2)
		}
	}()

	lock, err := acquireLock("kestreld")
	if err != nil {
		log.Printf("----------------------------------------------------------------")
		log.Printf("ERROR: could not start kestreld.")
		log.Printf("Detail: %v", err)
		log.Printf("")
		log.Printf("If no other instance is running, please manually delete:")
		log.Printf("%s", filepath.Join(os.TempDir(), "kestreld.lock"))
		log.Printf("----------------------------------------------------------------")
		time.Sleep(3 * time.Second)
		os.Exit(1)
	}
	defer lock.release()

	var (
		bindAddr      = flag.String("listen", "", "proxy listen address (e.g. 127.0.0.1:8080)")
		apiAddr       = flag.String("api", "127.0.0.1:9880", "HTTP/WebSocket control plane listen address")
		intercept     = flag.Bool("intercept", true, "stored in the persisted config; the proxy does not read it (interception is decided per CONNECT by the Handler's ShouldIntercept)")
		http2Outbound = flag.Bool("http2", false, "negotiate HTTP/2 on the client-facing TLS leg")
	)
	flag.Parse()

	loaded, err := kconfig.Load()
	if err != nil {
		log.Printf("Warning: failed to load persisted config: %v", err)
	}

	cfg := kestrel.DefaultConfig()
	if loaded.BindAddr != "" {
		cfg.BindAddr = loaded.BindAddr
	}
	if loaded.CertCacheCapacity > 0 {
		cfg.CertCacheCapacity = loaded.CertCacheCapacity
	}
	if loaded.CertCacheTTLSecs > 0 {
		cfg.CertCacheTTL = loaded.CertCacheTTL()
	}
	if loaded.SSEChannelDepth > 0 {
		cfg.SSEChannelDepth = loaded.SSEChannelDepth
	}
	if loaded.EventChannelDepth > 0 {
		cfg.EventChannelDepth = loaded.EventChannelDepth
	}
	cfg.Intercept = loaded.Intercept || *intercept
	cfg.HTTP2Outbound = loaded.HTTP2Outbound || *http2Outbound

	if *bindAddr != "" {
		cfg.BindAddr = *bindAddr
	}

	log.Println("Starting kestreld...")

	proxy, err := kestrel.NewBuilder().WithConfig(cfg).Build()
	if err != nil {
		log.Fatalf("failed to build proxy: %v", err)
	}

	go func() {
		if err := proxy.Start(); err != nil {
			log.Printf("proxy stopped: %v", err)
		}
	}()

	ctrl := api.New(proxy, *apiAddr)
	if err := ctrl.Start(); err != nil {
		log.Fatalf("failed to start control plane: %v", err)
	}
	log.Printf("control plane listening on %s", ctrl.Addr())

	if err := kconfig.Save(kconfig.File{
		BindAddr:          cfg.BindAddr,
		CertCacheCapacity: cfg.CertCacheCapacity,
		CertCacheTTLSecs:  int(cfg.CertCacheTTL.Seconds()),
		Intercept:         cfg.Intercept,
		HTTP2Outbound:     cfg.HTTP2Outbound,
		SSEChannelDepth:   cfg.SSEChannelDepth,
		EventChannelDepth: cfg.EventChannelDepth,
	}); err != nil {
		log.Printf("Warning: failed to persist config: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := ctrl.Stop(ctx); err != nil {
		log.Printf("Error stopping control plane: %v", err)
	}
	if err := proxy.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down proxy: %v", err)
	}

	log.Println("Goodbye")
}

// instanceLock guards against running two kestreld instances against
// the same lock file simultaneously.
type instanceLock struct {
	file *os.File
	path string
}

// acquireLock opens an exclusive create-only lock file in the OS temp
// directory; a second invocation while the first is still running
// fails with a clear error instead of silently double-binding the
// listen address.
func acquireLock(name string) (*instanceLock, error) {
	path := filepath.Join(os.TempDir(), name+".lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("another instance is already running (lock file %s exists)", path)
		}
		return nil, err
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return &instanceLock{file: f, path: path}, nil
}

func (l *instanceLock) release() {
	l.file.Close()
	os.Remove(l.path)
}
