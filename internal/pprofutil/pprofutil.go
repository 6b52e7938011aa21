// Package pprofutil runs an optional profiling endpoint next to the daemon.
package pprofutil

import (
	"context"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strings"
	"sync"
	"time"

	"allnetd/internal/debuglog"
)

const defaultAddr = "127.0.0.1:6060"

var (
	startOnce sync.Once
	startAddr string
	startErr  error
)

// StartFromEnv starts the pprof server when ALLNET_PPROF=1 and returns the
// address it listens on, or "" when profiling is off.
func StartFromEnv() (string, error) {
	if strings.TrimSpace(os.Getenv("ALLNET_PPROF")) != "1" {
		return "", nil
	}
	startOnce.Do(func() {
		addr := strings.TrimSpace(os.Getenv("ALLNET_PPROF_ADDR"))
		if addr == "" {
			addr = defaultAddr
		}
		allowPublic := strings.TrimSpace(os.Getenv("ALLNET_PPROF_ALLOW_PUBLIC")) == "1"
		startAddr, _, startErr = Start(addr, allowPublic)
	})
	return startAddr, startErr
}

// Start serves http.DefaultServeMux on addr. Non-loopback addresses are
// refused unless allowPublic is set. The returned func shuts the server down.
func Start(addr string, allowPublic bool) (string, func(context.Context) error, error) {
	if !allowPublic && !isLoopbackBind(addr) {
		return "", nil, fmt.Errorf("ALLNET_PPROF_ADDR must be loopback unless ALLNET_PPROF_ALLOW_PUBLIC=1: %s", addr)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("pprof listen failed: %w", err)
	}
	actual := ln.Addr().String()
	debuglog.Logf("pprof enabled: http://%s/debug/pprof/", actual)
	srv := &http.Server{
		Addr:              actual,
		Handler:           http.DefaultServeMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			debuglog.Warnf("pprof server stopped: %v", err)
		}
	}()
	return actual, srv.Shutdown, nil
}

func isLoopbackBind(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	host = strings.TrimSpace(host)
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
