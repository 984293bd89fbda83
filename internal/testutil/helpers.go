// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package testutil holds helpers shared by flowbridge tests.
package testutil

import (
	"os"
	"testing"
)

// VMTestEnv enables tests that need real netfilter access.
const VMTestEnv = "FLOWBRIDGE_VM_TEST"

// RequireVM skips the test unless FLOWBRIDGE_VM_TEST is set. Tests that
// touch the live nftables ruleset or an nfqueue only run in a throwaway VM.
func RequireVM(t *testing.T) {
	t.Helper()
	if os.Getenv(VMTestEnv) == "" {
		t.Skip("Skipping test: requires " + VMTestEnv + " environment")
	}
}
