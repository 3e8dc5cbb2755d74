package inmemory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/racknerd-exporter/model"
	"github.com/and161185/racknerd-exporter/storage"
)

func snapshotAt(ts time.Time, hosts ...string) model.Snapshot {
	s := model.Snapshot{StartedAt: ts, Success: true}
	for _, h := range hosts {
		s.Entries = append(s.Entries, model.Entry{
			VM:      model.VMIdentity{ID: h, Hostname: h, Kind: model.KindKVM},
			Outcome: model.OK(model.VMStats{State: model.StateOnline}),
		})
	}
	return s
}

func TestMemStorage_Empty(t *testing.T) {
	st := NewMemStorage(context.Background())

	_, err := st.Latest(context.Background())
	require.ErrorIs(t, err, storage.ErrNoSnapshot)
	require.Equal(t, 0, st.Saves())
}

func TestMemStorage_SaveReplaces(t *testing.T) {
	ctx := context.Background()
	st := NewMemStorage(ctx)
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, st.Save(ctx, snapshotAt(t0, "host-a")))
	require.NoError(t, st.Save(ctx, snapshotAt(t0.Add(time.Minute), "host-a", "host-b")))

	got, err := st.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, t0.Add(time.Minute), got.StartedAt)
	require.Len(t, got.Entries, 2)
	require.Equal(t, 2, st.Saves())
}

func TestMemStorage_SaveCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st := NewMemStorage(ctx)

	require.ErrorIs(t, st.Save(ctx, snapshotAt(time.Now(), "host-a")), context.Canceled)
	_, err := st.Latest(context.Background())
	require.ErrorIs(t, err, storage.ErrNoSnapshot)
}

func TestMemStorage_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	st := NewMemStorage(ctx)
	t0 := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = st.Save(ctx, snapshotAt(t0.Add(time.Duration(i)*time.Second), "host-a"))
		}(i)
		go func() {
			defer wg.Done()
			if s, err := st.Latest(ctx); err == nil && len(s.Entries) != 1 {
				t.Errorf("want 1 entry, got %d", len(s.Entries))
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 50, st.Saves())
}
