package integration

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"kiosk-agent/internal/auth"
	"kiosk-agent/internal/billing"
	"kiosk-agent/internal/config"
	"kiosk-agent/internal/database"
	"kiosk-agent/internal/handler"
	"kiosk-agent/internal/model"
	"kiosk-agent/internal/repository"
	"kiosk-agent/internal/router"
	"kiosk-agent/internal/service"
	"kiosk-agent/internal/settlement"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// stubProber reports a fixed host identity.
type stubProber struct {
	machineID string
}

func (p stubProber) MachineID(context.Context) (string, error) { return p.machineID, nil }
func (p stubProber) Hostname(context.Context) (string, error)  { return "kiosk-it", nil }
func (p stubProber) LocalIPv4(context.Context) string          { return "192.168.1.50" }
func (p stubProber) MACAddress(context.Context) *string        { return nil }
func (p stubProber) Specs(context.Context) (model.Specs, error) {
	return model.Specs{Platform: "linux", Arch: "amd64", TotalMemory: 8 << 30, FreeMemory: 4 << 30}, nil
}

// IntegrationTestSuite holds the test dependencies
type IntegrationTestSuite struct {
	DB           *sql.DB
	Store        *repository.PostgresStore
	Registration *service.RegistrationService
	Sessions     *service.SessionService
	Journal      *settlement.Journal
	Router       http.Handler
}

// setupIntegrationTest wires the kiosk against a real Postgres database.
func setupIntegrationTest(t *testing.T) *IntegrationTestSuite {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := initTestDatabase(t, testDSN(t))
	cleanDatabase(t, db)

	store := repository.NewPostgresStore(db)

	journal, err := settlement.Open(filepath.Join(t.TempDir(), "settlements.db"), nil)
	if err != nil {
		t.Fatalf("Failed to open settlement journal: %v", err)
	}

	registration := service.NewRegistrationService(store, stubProber{machineID: "it-" + uuid.NewString()}, nil, time.Hour, nil)
	sessions := service.NewSessionService(service.SessionServiceDeps{
		Sessions:  store,
		Customers: store,
		Computers: store,
		Rates:     service.NewSettingsProvider(store, billing.DefaultRates(), time.Minute, nil),
		Policy:    billing.TieredPolicy{},
		Journal:   journal,
		Kiosk:     registration.Computer,
	})
	customers := service.NewCustomerService(auth.NewPostgresAuthenticator(db, time.Hour), store, nil)

	h := handler.NewKioskHandler(sessions, customers, registration, nil, nil)
	cfg := &config.Config{
		Security: config.SecurityConfig{
			RateLimitRPS:   100,
			RateLimitBurst: 200,
			RequestTimeout: 30 * time.Second,
			EnableCORS:     true,
			AllowedOrigins: []string{"*"},
		},
	}

	suite := &IntegrationTestSuite{
		DB:           db,
		Store:        store,
		Registration: registration,
		Sessions:     sessions,
		Journal:      journal,
		Router:       router.NewRouter(h, cfg, nil),
	}
	t.Cleanup(func() { teardownIntegrationTest(t, suite) })
	return suite
}

// teardownIntegrationTest cleans up test resources
func teardownIntegrationTest(t *testing.T, suite *IntegrationTestSuite) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = suite.Sessions.CloseActiveSession(ctx)
	_ = suite.Registration.SetComputerOffline(ctx)
	suite.Journal.Close()

	cleanDatabase(t, suite.DB)
	suite.DB.Close()
}

// testDSN returns the Postgres DSN for integration tests, skipping when unset.
func testDSN(t *testing.T) string {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set, skipping integration test")
	}
	return dsn
}

// initTestDatabase connects and migrates, skipping when no database is reachable.
func initTestDatabase(t *testing.T, dsn string) *sql.DB {
	t.Helper()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		t.Skipf("Failed to ping test database: %v. Ensure test database is running.", err)
	}
	if err := database.Migrate(ctx, db); err != nil {
		db.Close()
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return db
}

// cleanDatabase removes all test data
func cleanDatabase(t *testing.T, db *sql.DB) {
	t.Helper()

	if _, err := db.Exec("TRUNCATE TABLE sessions, computers, customers CASCADE"); err != nil {
		t.Logf("Warning: Failed to clean database: %v", err)
	}
}

// seedCustomer inserts a customer who can sign in with the given password.
func seedCustomer(t *testing.T, db *sql.DB, email, password string, balance decimal.Decimal) uuid.UUID {
	t.Helper()

	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}

	id := uuid.New()
	_, err = db.Exec(
		`INSERT INTO customers (id, full_name, email, password_hash, balance) VALUES ($1, $2, $3, $4, $5)`,
		id, "Integration Customer", email, hash, balance,
	)
	if err != nil {
		t.Fatalf("Failed to seed customer: %v", err)
	}
	return id
}
