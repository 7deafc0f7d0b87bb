package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("FIELDOPS_TEST_MODE", "1")
		if os.Getenv("RBAC_CACHE_BACKEND") == "" {
			_ = os.Setenv("RBAC_CACHE_BACKEND", "memory")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
