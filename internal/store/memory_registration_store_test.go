package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore() *MemoryRegistrationStore {
	s := NewMemoryRegistrationStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
	return s
}

func TestMemoryRegistrationStore_Put(t *testing.T) {
	ctx := context.Background()

	t.Run("new registration", func(t *testing.T) {
		s := newTestStore()

		err := s.Put(ctx, &Registration{
			RegistrationID: "device-1",
			DeviceID:       "device-1",
			AssignedHub:    "h1.example",
			Fingerprint:    "fp1",
		})
		require.NoError(t, err)

		reg, err := s.Get(ctx, "device-1")
		require.NoError(t, err)
		require.Equal(t, "h1.example", reg.AssignedHub)
		require.Equal(t, 1, reg.Attempts)
		require.Equal(t, reg.CreatedAt, reg.UpdatedAt)
	})

	t.Run("repeat registration keeps created time", func(t *testing.T) {
		s := newTestStore()

		require.NoError(t, s.Put(ctx, &Registration{RegistrationID: "device-1", Fingerprint: "fp1"}))
		first, err := s.Get(ctx, "device-1")
		require.NoError(t, err)

		require.NoError(t, s.Put(ctx, &Registration{RegistrationID: "device-1", Fingerprint: "fp2"}))
		second, err := s.Get(ctx, "device-1")
		require.NoError(t, err)

		require.Equal(t, first.CreatedAt, second.CreatedAt)
		require.True(t, second.UpdatedAt.After(first.UpdatedAt))
		require.Equal(t, 2, second.Attempts)

		_, err = s.GetByFingerprint(ctx, "fp1")
		require.ErrorIs(t, err, ErrRegistrationNotFound)

		byFP, err := s.GetByFingerprint(ctx, "fp2")
		require.NoError(t, err)
		require.Equal(t, "device-1", byFP.RegistrationID)
	})

	t.Run("missing registration id", func(t *testing.T) {
		s := newTestStore()
		require.ErrorIs(t, s.Put(ctx, &Registration{}), ErrInvalidRegistration)
		require.ErrorIs(t, s.Put(ctx, nil), ErrInvalidRegistration)
	})
}

func TestMemoryRegistrationStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	reg := &Registration{RegistrationID: "device-1", AssignedHub: "h1.example"}
	require.NoError(t, s.Put(ctx, reg))

	reg.AssignedHub = "changed"
	got, err := s.Get(ctx, "device-1")
	require.NoError(t, err)
	require.Equal(t, "h1.example", got.AssignedHub)

	got.AssignedHub = "changed"
	again, err := s.Get(ctx, "device-1")
	require.NoError(t, err)
	require.Equal(t, "h1.example", again.AssignedHub)
}

func TestMemoryRegistrationStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	require.NoError(t, s.Put(ctx, &Registration{RegistrationID: "device-1", Fingerprint: "fp1"}))
	require.NoError(t, s.Delete(ctx, "device-1"))

	_, err := s.Get(ctx, "device-1")
	require.ErrorIs(t, err, ErrRegistrationNotFound)
	_, err = s.GetByFingerprint(ctx, "fp1")
	require.ErrorIs(t, err, ErrRegistrationNotFound)

	require.ErrorIs(t, s.Delete(ctx, "device-1"), ErrRegistrationNotFound)
}

func TestMemoryRegistrationStore_List(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	for _, reg := range []*Registration{
		{RegistrationID: "c", AssignedHub: "h1"},
		{RegistrationID: "a", AssignedHub: "h2"},
		{RegistrationID: "b", AssignedHub: "h1"},
	} {
		require.NoError(t, s.Put(ctx, reg))
	}

	all, err := s.List(ctx, ListRegistrationsOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "a", all[0].RegistrationID)
	require.Equal(t, "c", all[2].RegistrationID)

	h1, err := s.List(ctx, ListRegistrationsOptions{AssignedHub: "h1"})
	require.NoError(t, err)
	require.Len(t, h1, 2)
	require.Equal(t, "b", h1[0].RegistrationID)

	limited, err := s.List(ctx, ListRegistrationsOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestMemoryRegistrationStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRegistrationStore()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Put(ctx, &Registration{RegistrationID: "device-1"})
			_, _ = s.Get(ctx, "device-1")
		}()
	}
	wg.Wait()

	reg, err := s.Get(ctx, "device-1")
	require.NoError(t, err)
	require.Equal(t, 50, reg.Attempts)
}
