package testutil

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/medflow/stockledger/migrations"
	"github.com/medflow/stockledger/pkg/actor"
	"github.com/medflow/stockledger/pkg/database"
	"github.com/medflow/stockledger/pkg/logger"
	"github.com/medflow/stockledger/pkg/tenant"
)

// The application role the suite connects as. It is not a superuser, so
// the tenant isolation policies apply to it.
const (
	appRole     = "stockledger_app"
	appPassword = "stockledger_app"
)

// SearchPath is the search_path the service runs with
const SearchPath = "inventory, public"

var (
	// Global test container (shared across all integration tests)
	globalContainer *PostgresContainer
	globalAdmin     *sqlx.DB
	containerOnce   sync.Once
	containerErr    error
)

// IntegrationSuite provides a base for integration tests with real PostgreSQL
type IntegrationSuite struct {
	Container *PostgresContainer
	// Admin is a superuser connection. It bypasses row level security.
	Admin  *sqlx.DB
	DB     *database.DB
	Logger *logger.Logger
}

// NewIntegrationSuite starts or reuses the shared container, applies the
// migrations and connects as the application role. Call it in TestMain and
// guard each test with RequireSuite.
//
// Usage:
//
//	var suite *testutil.IntegrationSuite
//
//	func TestMain(m *testing.M) {
//	    flag.Parse()
//	    if testing.Short() {
//	        os.Exit(m.Run())
//	    }
//	    ctx := context.Background()
//	    var err error
//	    suite, err = testutil.NewIntegrationSuite(ctx)
//	    if err != nil {
//	        log.Printf("integration suite unavailable: %v", err)
//	    }
//	    code := m.Run()
//	    testutil.TerminateContainer(ctx)
//	    os.Exit(code)
//	}
func NewIntegrationSuite(ctx context.Context) (*IntegrationSuite, error) {
	container, admin, err := getOrCreateContainer(ctx)
	if err != nil {
		return nil, err
	}

	log := logger.New("test", "test")
	if err := database.Wrap(admin, log, SearchPath, 0).Migrate(migrations.FS); err != nil {
		return nil, err
	}
	if err := grantAppRole(ctx, admin); err != nil {
		return nil, err
	}

	app, err := container.ConnectAs(ctx, appRole, appPassword)
	if err != nil {
		return nil, err
	}

	return &IntegrationSuite{
		Container: container,
		Admin:     admin,
		DB:        database.Wrap(app, log, SearchPath, 2*time.Second),
		Logger:    log,
	}, nil
}

// getOrCreateContainer returns the shared test container
func getOrCreateContainer(ctx context.Context) (*PostgresContainer, *sqlx.DB, error) {
	containerOnce.Do(func() {
		globalContainer, containerErr = StartPostgres(ctx)
		if containerErr != nil {
			return
		}
		globalAdmin, containerErr = globalContainer.ConnectAdmin(ctx)
	})

	return globalContainer, globalAdmin, containerErr
}

func grantAppRole(ctx context.Context, admin *sqlx.DB) error {
	stmts := []string{
		fmt.Sprintf(`DO $$ BEGIN
			IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = '%s') THEN
				CREATE ROLE %s LOGIN PASSWORD '%s' NOSUPERUSER NOBYPASSRLS;
			END IF;
		END $$`, appRole, appRole, appPassword),
		"GRANT USAGE ON SCHEMA inventory TO " + appRole,
		"GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA inventory TO " + appRole,
		"GRANT USAGE, SELECT ON ALL SEQUENCES IN SCHEMA inventory TO " + appRole,
		"GRANT EXECUTE ON ALL FUNCTIONS IN SCHEMA inventory TO " + appRole,
	}
	for _, stmt := range stmts {
		if _, err := admin.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to prepare application role: %w", err)
		}
	}
	return nil
}

// NewTenant returns a fresh tenant ID. Tests isolate by tenant instead of
// truncating tables.
func (s *IntegrationSuite) NewTenant() string {
	return uuid.New().String()
}

// TenantContext returns a context carrying the tenant and a test actor
func (s *IntegrationSuite) TenantContext(tenantID string) context.Context {
	ctx := tenant.WithTenantID(context.Background(), tenantID)
	return actor.WithActor(ctx, &actor.Actor{ID: uuid.New().String(), TenantID: tenantID})
}

// TerminateContainer terminates the shared container.
// Only call this in TestMain after all tests have completed.
func TerminateContainer(ctx context.Context) {
	if globalAdmin != nil {
		_ = globalAdmin.Close()
	}
	if globalContainer != nil {
		_ = globalContainer.Terminate(ctx)
	}
}

// GetEnvOrDefault returns the environment variable key, or defaultVal when
// it is unset or empty.
func GetEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
