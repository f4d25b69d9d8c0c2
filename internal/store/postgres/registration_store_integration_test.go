//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/wolfeidau/fleetprov/internal/store"
)

func setupPostgresContainer(t *testing.T, ctx context.Context) *RegistrationStore {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	pool, err := NewPool(ctx, &PoolConfig{
		ConnString: fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port()),
	})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool))
	// a second run is a no-op
	require.NoError(t, RunMigrations(ctx, pool))

	return NewRegistrationStore(pool)
}

func TestIntegration_RegistrationLifecycle(t *testing.T) {
	ctx := context.Background()
	s := setupPostgresContainer(t, ctx)

	reg := &store.Registration{
		RegistrationID: "device-1",
		DeviceID:       "device-1",
		AssignedHub:    "hub-a.example.net",
		ProofKind:      "x509",
		EnrollmentName: "fleet",
		Fingerprint:    "fp-1",
		SubjectDN:      "CN=device-1",
	}

	t.Run("get missing", func(t *testing.T) {
		_, err := s.Get(ctx, "device-1")
		require.ErrorIs(t, err, store.ErrRegistrationNotFound)
	})

	t.Run("put and get", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, reg))

		got, err := s.Get(ctx, "device-1")
		require.NoError(t, err)
		require.Equal(t, "hub-a.example.net", got.AssignedHub)
		require.Equal(t, "fleet", got.EnrollmentName)
		require.Equal(t, 1, got.Attempts)

		got, err = s.GetByFingerprint(ctx, "fp-1")
		require.NoError(t, err)
		require.Equal(t, "device-1", got.RegistrationID)
	})

	t.Run("repeat put counts attempts", func(t *testing.T) {
		first, err := s.Get(ctx, "device-1")
		require.NoError(t, err)

		repeat := *reg
		repeat.Fingerprint = "fp-2"
		require.NoError(t, s.Put(ctx, &repeat))

		got, err := s.Get(ctx, "device-1")
		require.NoError(t, err)
		require.Equal(t, 2, got.Attempts)
		require.True(t, got.CreatedAt.Equal(first.CreatedAt))

		_, err = s.GetByFingerprint(ctx, "fp-1")
		require.ErrorIs(t, err, store.ErrRegistrationNotFound)
	})

	t.Run("module registration has no fingerprint", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, &store.Registration{
			RegistrationID: "module-1",
			DeviceID:       "module-1",
			AssignedHub:    "hub-b.example.net",
			ProofKind:      "module",
		}))

		got, err := s.Get(ctx, "module-1")
		require.NoError(t, err)
		require.Empty(t, got.Fingerprint)
	})

	t.Run("list", func(t *testing.T) {
		all, err := s.List(ctx, store.ListRegistrationsOptions{})
		require.NoError(t, err)
		require.Len(t, all, 2)
		require.Equal(t, "device-1", all[0].RegistrationID)

		byHub, err := s.List(ctx, store.ListRegistrationsOptions{AssignedHub: "hub-b.example.net"})
		require.NoError(t, err)
		require.Len(t, byHub, 1)

		limited, err := s.List(ctx, store.ListRegistrationsOptions{Limit: 1})
		require.NoError(t, err)
		require.Len(t, limited, 1)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, "device-1"))
		require.ErrorIs(t, s.Delete(ctx, "device-1"), store.ErrRegistrationNotFound)
	})

	t.Run("invalid", func(t *testing.T) {
		require.ErrorIs(t, s.Put(ctx, &store.Registration{}), store.ErrInvalidRegistration)
	})
}
