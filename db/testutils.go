package db

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	testDB    *sqlx.DB
	getDbOnce sync.Once
	getDbErr  error
)

// GetDb connects to POSTGRES_URL, starting a container when it is unset. The
// connection is shared by every test in the binary.
func GetDb(t *testing.T) *sqlx.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres test in short mode")
	}

	getDbOnce.Do(func() {
		url := os.Getenv("POSTGRES_URL")
		if url == "" {
			_, url = StartPostgresContainer()
		}

		testDB, getDbErr = Open(url)
		if getDbErr != nil {
			return
		}
		getDbErr = InitializeDatabaseSchema(testDB)
	})
	require.NoError(t, getDbErr)

	return testDB
}

func StartPostgresContainer() (testcontainers.Container, string) {
	ctx := context.Background()
	dbName := "db"
	dbUser := "user"
	dbPassword := "password"

	postgresContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("docker.io/postgres:15.2-alpine"),
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		panic(err)
	}

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable", "application_name=test")
	if err != nil {
		panic(err)
	}

	return postgresContainer, connStr
}
