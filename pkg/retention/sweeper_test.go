package retention

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/checkpoint"
	"github.com/parleyhq/parley/pkg/message"
)

func setupStore(t *testing.T) *checkpoint.Store {
	t.Helper()
	store, err := checkpoint.Open(filepath.Join(t.TempDir(), "checkpoints.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSweeper(t *testing.T) {
	t.Run("should prune checkpoints beyond the keep count", func(t *testing.T) {
		store := setupStore(t)
		ctx := context.Background()

		log := message.Log{}
		for i := 0; i < 10; i++ {
			log = log.Append(message.NewHuman(fmt.Sprintf("message %d", i)))
			_, err := store.Append(ctx, "s1", log, checkpoint.StageTurn)
			require.NoError(t, err)
		}

		sweeper := NewSweeper(store, "", 3, zerolog.Nop())
		pruned, err := sweeper.SweepNow(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(7), pruned)

		history, err := store.History(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, int64(10), history[0].Seq)
	})

	t.Run("should keep the latest checkpoint intact", func(t *testing.T) {
		store := setupStore(t)
		ctx := context.Background()

		log := message.Log{}.Append(message.NewHuman("only message"))
		_, err := store.Append(ctx, "s1", log, checkpoint.StageTurn)
		require.NoError(t, err)

		sweeper := NewSweeper(store, "", 1, zerolog.Nop())
		pruned, err := sweeper.SweepNow(ctx)
		require.NoError(t, err)
		assert.Zero(t, pruned)

		cp, err := store.Latest(ctx, "s1")
		require.NoError(t, err)
		assert.Len(t, cp.Log, 1)
	})

	t.Run("should reject an invalid schedule", func(t *testing.T) {
		store := setupStore(t)
		sweeper := NewSweeper(store, "not a schedule", 5, zerolog.Nop())
		assert.Error(t, sweeper.Start())
	})

	t.Run("should start and stop cleanly", func(t *testing.T) {
		store := setupStore(t)
		sweeper := NewSweeper(store, "@daily", 5, zerolog.Nop())
		require.NoError(t, sweeper.Start())
		assert.Error(t, sweeper.Start(), "double start must fail")
		sweeper.Stop()
	})
}
