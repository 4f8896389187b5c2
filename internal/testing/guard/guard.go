// Package guard switches the binaries into test mode when imported by a test,
// so calling main never dials Postgres or Redis.
package guard

import (
	"os"

	"github.com/odyssey-erp/demand-pricing/internal/app"
)

func init() {
	if os.Getenv(app.TestModeEnv) == "" {
		_ = os.Setenv(app.TestModeEnv, "1")
	}
}
