package app

import (
	"os"
	"strconv"
	"strings"
)

// TestModeEnv is set by test binaries that call main so the services start
// without dialing Postgres, Redis or the rates feed.
const TestModeEnv = "PRICING_TEST_MODE"

// InTestMode reports whether TestModeEnv holds a true value.
func InTestMode() bool {
	on, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(TestModeEnv)))
	return err == nil && on
}
