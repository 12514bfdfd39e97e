package params

import "testing"

// SetupTestConfigCleanup preserves the active configuration so a test can
// override parameters without leaking into other tests.
func SetupTestConfigCleanup(t testing.TB) {
	prev := ceremonyConfig
	t.Cleanup(func() {
		ceremonyConfig = prev
	})
}
