package app

import (
	"os"
	"strconv"
)

// TestModeEnv makes the binaries exit before touching Postgres or Redis, so
// they can be started by smoke tests without infrastructure.
const TestModeEnv = "VEREINSKASSE_TEST_MODE"

// InTestMode reports whether TestModeEnv is set to a true value.
func InTestMode() bool {
	on, err := strconv.ParseBool(os.Getenv(TestModeEnv))
	return err == nil && on
}
