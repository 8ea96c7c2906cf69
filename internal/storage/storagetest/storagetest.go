// Package storagetest holds conformance tests shared by every storage.Backend.
package storagetest

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/starford/jotter/internal/models"
	"github.com/starford/jotter/internal/storage"
)

// Opener opens a backend over the same underlying medium each time it is
// called. A purely in-memory backend returns a fresh one and sets Durable to
// false.
type Opener struct {
	Open    func(t *testing.T) storage.Backend
	Durable bool
}

func sample(id int64, content string) models.Note {
	title := "title " + content
	ts := time.Date(2024, 5, 1, 10, 0, 0, int(id), time.UTC)
	return models.Note{
		ID:        id,
		Title:     &title,
		Content:   content,
		Summary:   content,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

// Run executes the conformance suite.
func Run(t *testing.T, o Opener) {
	t.Run("SequenceIncreases", func(t *testing.T) {
		b := o.Open(t)
		ctx := context.Background()
		var last int64
		for i := 0; i < 5; i++ {
			id, err := b.NextID(ctx)
			require.NoError(t, err)
			require.Greater(t, id, last)
			last = id
		}
	})

	t.Run("ReserveRaisesSequence", func(t *testing.T) {
		b := o.Open(t)
		ctx := context.Background()
		first, err := b.NextID(ctx)
		require.NoError(t, err)

		require.NoError(t, b.Reserve(ctx, first+10))
		next, err := b.NextID(ctx)
		require.NoError(t, err)
		require.Equal(t, first+11, next)

		// Reserving below the current value leaves the sequence alone.
		require.NoError(t, b.Reserve(ctx, first))
		next, err = b.NextID(ctx)
		require.NoError(t, err)
		require.Equal(t, first+12, next)
	})

	t.Run("InsertReplaceDelete", func(t *testing.T) {
		b := o.Open(t)
		ctx := context.Background()

		id1, err := b.NextID(ctx)
		require.NoError(t, err)
		id2, err := b.NextID(ctx)
		require.NoError(t, err)

		require.NoError(t, b.Insert(ctx, sample(id1, "one")))
		require.NoError(t, b.Insert(ctx, sample(id2, "two")))
		require.Error(t, b.Insert(ctx, sample(id1, "dup")))

		updated := sample(id1, "one v2")
		updated.Title = nil
		updated.UpdatedAt = updated.UpdatedAt.Add(time.Second)
		require.NoError(t, b.Replace(ctx, updated))

		require.NoError(t, b.Delete(ctx, id2))
		require.Error(t, b.Delete(ctx, id2))
		require.Error(t, b.Replace(ctx, sample(id2, "gone")))

		notes, err := b.Load(ctx)
		require.NoError(t, err)
		require.Len(t, notes, 1)
		got := notes[0]
		require.Equal(t, id1, got.ID)
		require.Nil(t, got.Title)
		require.Equal(t, "one v2", got.Content)
		require.True(t, got.UpdatedAt.Equal(updated.UpdatedAt))
		require.True(t, got.CreatedAt.Equal(updated.CreatedAt))
	})

	if !o.Durable {
		return
	}

	t.Run("Reopen", func(t *testing.T) {
		ctx := context.Background()
		b := o.Open(t)
		var ids []int64
		for _, c := range []string{"a", "b", "c"} {
			id, err := b.NextID(ctx)
			require.NoError(t, err)
			require.NoError(t, b.Insert(ctx, sample(id, c)))
			ids = append(ids, id)
		}
		require.NoError(t, b.Delete(ctx, ids[2]))
		require.NoError(t, b.Close())

		b = o.Open(t)
		notes, err := b.Load(ctx)
		require.NoError(t, err)
		sort.Slice(notes, func(i, j int) bool { return notes[i].ID < notes[j].ID })
		require.Len(t, notes, 2)
		require.Equal(t, "a", notes[0].Content)
		require.Equal(t, "title a", *notes[0].Title)
		require.Equal(t, "b", notes[1].Content)

		next, err := b.NextID(ctx)
		require.NoError(t, err)
		require.Greater(t, next, ids[2], "deleted id must not be reused after reopen")
	})

	t.Run("ReservePersists", func(t *testing.T) {
		ctx := context.Background()
		b := o.Open(t)
		require.NoError(t, b.Reserve(ctx, 41))
		require.NoError(t, b.Close())

		b = o.Open(t)
		next, err := b.NextID(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(42), next)
	})
}
