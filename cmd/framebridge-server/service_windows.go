// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"

	"golang.org/x/sys/windows/svc"

	"github.com/bureau-foundation/framebridge/lib/config"
)

func runningAsService() (bool, error) {
	return svc.IsWindowsService()
}

// runService runs the server under the Service Control Manager until
// it is asked to stop.
func runService(cfg *config.Config, logger *slog.Logger) error {
	return svc.Run(serviceName, &serviceHandler{cfg: cfg, logger: logger})
}

type serviceHandler struct {
	cfg    *config.Config
	logger *slog.Logger
}

// Execute implements svc.Handler.
func (h *serviceHandler) Execute(args []string, requests <-chan svc.ChangeRequest, status chan<- svc.Status) (bool, uint32) {
	const accepted = svc.AcceptStop | svc.AcceptShutdown
	status <- svc.Status{State: svc.StartPending}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- serve(ctx, h.cfg, h.logger) }()

	status <- svc.Status{State: svc.Running, Accepts: accepted}
	for {
		select {
		case err := <-served:
			if err != nil {
				h.logger.Error("bridge server failed", "error", err)
				status <- svc.Status{State: svc.StopPending}
				return true, 1
			}
			return false, 0

		case request := <-requests:
			switch request.Cmd {
			case svc.Interrogate:
				status <- request.CurrentStatus
			case svc.Stop, svc.Shutdown:
				h.logger.Info("service stop requested")
				status <- svc.Status{State: svc.StopPending}
				cancel()
				if err := <-served; err != nil {
					h.logger.Error("bridge server failed during shutdown", "error", err)
				}
				return false, 0
			default:
				h.logger.Warn("unexpected service control request", "cmd", uint32(request.Cmd))
			}
		}
	}
}
