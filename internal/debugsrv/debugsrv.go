// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package debugsrv optionally exposes live goroutine/GC charts over
// HTTP, for chasing worker-goroutine lifecycle issues in the EPC
// accept/serve loop. It is off unless explicitly enabled by the
// embedding host (see config.Debug.ChartsAddr).
package debugsrv

import (
	"context"
	"fmt"
	"net/http"

	// Side-effect import: registers chart handlers on
	// http.DefaultServeMux, the same pattern net/http/pprof uses.
	_ "github.com/mkevac/debugcharts"
)

// Server is a best-effort debug HTTP listener; failures to start it are
// never fatal to the emulated devices.
type Server struct {
	srv *http.Server
}

// Start launches the debug HTTP listener on addr in the background. It
// returns immediately; ListenAndServe errors are reported via errCh if
// non-nil.
func Start(addr string, errCh chan<- error) *Server {
	s := &Server{srv: &http.Server{Addr: addr}}

	go func() {
		err := s.srv.ListenAndServe()
		if err != nil && err != http.ErrServerClosed && errCh != nil {
			select {
			case errCh <- fmt.Errorf("debugsrv: %w", err):
			default:
			}
		}
	}()

	return s
}

// Stop shuts the debug HTTP listener down.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
