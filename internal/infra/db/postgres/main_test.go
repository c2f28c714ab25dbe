//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
)

// Integration tests run against ESCROW_TEST_DATABASE_URL when it is set;
// otherwise a throwaway postgres:14 container is started on a random port.

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Str("component", "pg_it").Logger()
	ctx := context.Background()

	dsn := os.Getenv("ESCROW_TEST_DATABASE_URL")
	var containerID string
	if dsn == "" {
		var err error
		containerID, dsn, err = startPostgres()
		if err != nil {
			log.Fatal().Err(err).Msg("start postgres container (is Docker running?)")
		}
	}
	stop := func() {
		if containerID != "" {
			if err := exec.Command("docker", "stop", containerID).Run(); err != nil {
				log.Warn().Err(err).Str("container", containerID).Msg("stop container")
			}
		}
	}

	pool, err := waitForPool(ctx, dsn, 30*time.Second)
	if err != nil {
		stop()
		log.Fatal().Err(err).Msg("connect test database")
	}
	testPool = pool

	if err := applySchema(ctx, pool); err != nil {
		pool.Close()
		stop()
		log.Fatal().Err(err).Msg("apply schema")
	}

	code := m.Run()

	testPool.Close()
	stop()
	os.Exit(code)
}

func startPostgres() (id, dsn string, err error) {
	out, err := exec.Command("docker", "run", "-d", "--rm",
		"-e", "POSTGRES_DB=escrow_test",
		"-e", "POSTGRES_USER=escrow",
		"-e", "POSTGRES_PASSWORD=escrow",
		"-p", "127.0.0.1::5432",
		"postgres:14",
	).Output()
	if err != nil {
		return "", "", fmt.Errorf("docker run: %w", err)
	}
	id = strings.TrimSpace(string(out))

	// "127.0.0.1:49153"
	portOut, err := exec.Command("docker", "port", id, "5432/tcp").Output()
	if err != nil {
		_ = exec.Command("docker", "stop", id).Run()
		return "", "", fmt.Errorf("docker port: %w", err)
	}
	hostPort := strings.TrimSpace(strings.SplitN(string(portOut), "\n", 2)[0])
	return id, fmt.Sprintf("postgres://escrow:escrow@%s/escrow_test?sslmode=disable", hostPort), nil
}

func waitForPool(ctx context.Context, dsn string, within time.Duration) (*pgxpool.Pool, error) {
	deadline := time.Now().Add(within)
	for {
		pool, err := pgxpool.Connect(ctx, dsn)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				return pool, nil
			}
			pool.Close()
		}
		if time.Now().After(deadline) {
			return nil, err
		}
		time.Sleep(time.Second)
	}
}

func applySchema(ctx context.Context, pool *pgxpool.Pool) error {
	root, err := moduleRoot()
	if err != nil {
		return err
	}
	schema, err := os.ReadFile(filepath.Join(root, "deploy", "postgres", "init.sql"))
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, string(schema))
	return err
}

// moduleRoot walks up from the package directory to the go.mod.
func moduleRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("go.mod not found above " + dir)
		}
		dir = parent
	}
}

func cleanup(t *testing.T) {
	t.Helper()
	_, err := testPool.Exec(context.Background(), `
		TRUNCATE notifications, webhook_events, transaction_log,
		         payments, proposals, jobs, users
		RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}
