// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package main

import (
	"errors"
	"log/slog"

	"github.com/bureau-foundation/framebridge/lib/config"
)

func runningAsService() (bool, error) { return false, nil }

func runService(*config.Config, *slog.Logger) error {
	return errors.New("service mode requires windows")
}
