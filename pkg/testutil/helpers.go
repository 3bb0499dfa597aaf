package testutil

import (
	"testing"

	"github.com/testcontainers/testcontainers-go"
)

// SkipIfShort skips the test if running with -short flag
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

// RequireDocker skips container-backed tests in short mode or when no
// Docker daemon answers.
func RequireDocker(t *testing.T) {
	t.Helper()
	SkipIfShort(t)
	testcontainers.SkipIfProviderIsNotHealthy(t)
}

// RequireSuite skips the test when TestMain could not start the suite
func RequireSuite(t *testing.T, s *IntegrationSuite) {
	t.Helper()
	SkipIfShort(t)
	if s == nil {
		t.Skip("integration suite unavailable")
	}
}
