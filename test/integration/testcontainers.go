package integration

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/doodlesbykumbi/vaultsweep/pkg/cipher"
	"github.com/doodlesbykumbi/vaultsweep/pkg/store"
	"github.com/doodlesbykumbi/vaultsweep/pkg/store/sqlstore"
	"github.com/doodlesbykumbi/vaultsweep/pkg/store/vaultapi"
)

const vaultRootToken = "root"

// TestContext holds the containers and store clients shared by all scenarios.
type TestContext struct {
	Postgres       testcontainers.Container
	VaultContainer testcontainers.Container
	DatabaseURL    string
	VaultAddr      string

	SQL         *sqlstore.Store
	VaultClient *vaultapi.Client
}

// NewTestContext starts PostgreSQL, applies the migrations and opens the sql
// store. A Vault dev server is started too unless SKIP_VAULT=1.
func NewTestContext(ctx context.Context) (*TestContext, error) {
	tc := &TestContext{}

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("vaultsweep_test"),
		tcpostgres.WithUsername("vaultsweep"),
		tcpostgres.WithPassword("vaultsweep"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}
	tc.Postgres = pgContainer

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		tc.Close(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}
	tc.DatabaseURL = connStr

	st, err := sqlstore.Migrate(connStr)
	if err != nil {
		tc.Close(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Printf("Migrated test database to version %d", st.Version)

	dataKey := make([]byte, 32)
	for i := range dataKey {
		dataKey[i] = byte(i)
	}
	c, err := cipher.New(dataKey)
	if err != nil {
		tc.Close(ctx)
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	if tc.SQL, err = sqlstore.Open(connStr, c, false); err != nil {
		tc.Close(ctx)
		return nil, fmt.Errorf("failed to open sql store: %w", err)
	}

	if os.Getenv("SKIP_VAULT") == "1" {
		log.Println("Skipping Vault container")
		return tc, nil
	}
	if err := tc.startVault(ctx); err != nil {
		tc.Close(ctx)
		return nil, err
	}
	return tc, nil
}

// startVault runs a Vault dev server, which mounts KV v2 at secret/.
func (tc *TestContext) startVault(ctx context.Context) error {
	req := testcontainers.ContainerRequest{
		Image:        "hashicorp/vault:1.17",
		ExposedPorts: []string{"8200/tcp"},
		Env: map[string]string{
			"VAULT_DEV_ROOT_TOKEN_ID":  vaultRootToken,
			"VAULT_DEV_LISTEN_ADDRESS": "0.0.0.0:8200",
		},
		WaitingFor: wait.ForHTTP("/v1/sys/health").
			WithPort("8200/tcp").
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return fmt.Errorf("failed to start vault container: %w", err)
	}
	tc.VaultContainer = container

	endpoint, err := container.PortEndpoint(ctx, "8200/tcp", "http")
	if err != nil {
		return fmt.Errorf("failed to get vault endpoint: %w", err)
	}
	tc.VaultAddr = endpoint

	tc.VaultClient, err = vaultapi.New(ctx, vaultapi.Config{
		Address: endpoint,
		Token:   vaultRootToken,
		Mount:   "secret",
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to create vault client: %w", err)
	}
	return nil
}

// Client returns the store client for a backend name used in the features.
func (tc *TestContext) Client(backend string) (store.Client, error) {
	switch backend {
	case "sql":
		return tc.SQL, nil
	case "vault":
		if tc.VaultClient == nil {
			return nil, fmt.Errorf("vault container is not running")
		}
		return tc.VaultClient, nil
	}
	return nil, fmt.Errorf("unknown backend %q", backend)
}

// Close cleans up all test resources
func (tc *TestContext) Close(ctx context.Context) {
	if tc.SQL != nil {
		_ = tc.SQL.Close()
	}
	if tc.VaultContainer != nil {
		_ = tc.VaultContainer.Terminate(ctx)
	}
	if tc.Postgres != nil {
		_ = tc.Postgres.Terminate(ctx)
	}
}
