package app

import (
	"os"
	"sync"
)

const testModeEnv = "GRANTKEEPER_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	return os.Getenv(testModeEnv) == "1"
})

// InTestMode reports whether binaries should skip connecting to backends.
// The flag is read once per process.
func InTestMode() bool {
	return testMode()
}
