// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"fmt"
	"sync"

	"github.com/Microsoft/go-winio"
)

// sessionLaunchPrivileges are required by CreateProcessAsUser when the
// caller assigns a primary token it did not create. LocalSystem holds
// both but they are disabled by default.
var sessionLaunchPrivileges = []string{
	"SeAssignPrimaryTokenPrivilege",
	"SeIncreaseQuotaPrivilege",
}

var (
	privilegeOnce  sync.Once
	privilegeError error
)

// enableLaunchPrivileges enables sessionLaunchPrivileges on the process
// token. The adjustment is process-wide and permanent, so it runs once;
// later calls return the first call's result.
func enableLaunchPrivileges() error {
	privilegeOnce.Do(func() {
		if err := winio.EnableProcessPrivileges(sessionLaunchPrivileges); err != nil {
			privilegeError = fmt.Errorf("enabling launch privileges: %w", err)
		}
	})
	return privilegeError
}
