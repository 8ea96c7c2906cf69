package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/starford/jotter/internal/apperr"
	"github.com/starford/jotter/internal/models"
	"github.com/starford/jotter/internal/storage"
	"github.com/starford/jotter/internal/summary"
)

// frozenClock returns the same instant until advanced.
type frozenClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *frozenClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *frozenClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// flakyBackend fails the next write when failNext is set.
type flakyBackend struct {
	*storage.Memory
	mu       sync.Mutex
	failNext bool
}

var errDisk = errors.New("disk on fire")

func (f *flakyBackend) fail() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errDisk
	}
	return nil
}

func (f *flakyBackend) Insert(ctx context.Context, n models.Note) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.Memory.Insert(ctx, n)
}

func (f *flakyBackend) Replace(ctx context.Context, n models.Note) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.Memory.Replace(ctx, n)
}

func (f *flakyBackend) Delete(ctx context.Context, id int64) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.Memory.Delete(ctx, id)
}

func newStore(t testing.TB, opts ...Option) *Store {
	t.Helper()
	s, err := Open(context.Background(), storage.NewMemory(), opts...)
	require.NoError(t, err)
	return s
}

func ptr(s string) *string { return &s }

func TestCreateThenGet(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	n, err := s.Create(ctx, ptr("Shopping"), "  milk and bread ")
	require.NoError(t, err)
	assert.NotZero(t, n.ID)
	assert.Equal(t, "milk and bread", n.Content)
	assert.Equal(t, summary.Derive("milk and bread"), n.Summary)
	assert.True(t, n.CreatedAt.Equal(n.UpdatedAt))

	got, err := s.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, n, got)
}

func TestCreateRejectsBlankContent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	for _, c := range []string{"", "   ", "\n\t"} {
		_, err := s.Create(ctx, nil, c)
		assert.ErrorIs(t, err, apperr.ErrValidation)
	}
	assert.Equal(t, 0, s.Len())
}

func TestGetUnknown(t *testing.T) {
	s := newStore(t)
	_, err := s.Get(context.Background(), 42)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListNewestFirstWithTies(t *testing.T) {
	ctx := context.Background()
	clock := &frozenClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := newStore(t, WithClock(clock))

	a, _ := s.Create(ctx, nil, "A")
	b, _ := s.Create(ctx, nil, "B")
	c, _ := s.Create(ctx, nil, "C")

	notes, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, notes, 3)
	assert.Equal(t, []int64{c.ID, b.ID, a.ID}, []int64{notes[0].ID, notes[1].ID, notes[2].ID})

	clock.Advance(time.Second)
	d, _ := s.Create(ctx, nil, "D")
	// Updating an old note does not move it.
	_, err = s.Update(ctx, a.ID, nil, "A2")
	require.NoError(t, err)

	notes, _ = s.List(ctx)
	assert.Equal(t, []int64{d.ID, c.ID, b.ID, a.ID},
		[]int64{notes[0].ID, notes[1].ID, notes[2].ID, notes[3].ID})
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	clock := &frozenClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := newStore(t, WithClock(clock))

	n, err := s.Create(ctx, ptr("t"), "first")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	long := strings.Repeat("z", 120)
	u, err := s.Update(ctx, n.ID, nil, long)
	require.NoError(t, err)
	assert.Equal(t, n.ID, u.ID)
	assert.True(t, u.CreatedAt.Equal(n.CreatedAt))
	assert.True(t, u.UpdatedAt.After(n.UpdatedAt))
	assert.Nil(t, u.Title)
	assert.Equal(t, long[:100]+"...", u.Summary)

	got, _ := s.Get(ctx, n.ID)
	assert.Equal(t, u, got)

	_, err = s.Update(ctx, n.ID, nil, "  ")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	got, _ = s.Get(ctx, n.ID)
	assert.Equal(t, u, got, "failed validation must not change the note")

	_, err = s.Update(ctx, 999, nil, "x")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpdateIfMatch(t *testing.T) {
	ctx := context.Background()
	clock := &frozenClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := newStore(t, WithClock(clock))
	n, _ := s.Create(ctx, nil, "v1")

	clock.Advance(time.Second)
	u, err := s.UpdateIfMatch(ctx, n.ID, []string{n.Revision()}, nil, "v2")
	require.NoError(t, err)

	_, err = s.UpdateIfMatch(ctx, n.ID, []string{n.Revision()}, nil, "v3")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	clock.Advance(time.Second)
	u, err = s.UpdateIfMatch(ctx, n.ID, []string{"stale", u.Revision()}, nil, "v3")
	require.NoError(t, err, "any listed revision matches")
	assert.Equal(t, "v3", u.Content)

	_, err = s.UpdateIfMatch(ctx, n.ID, []string{"a", "b"}, nil, "v4")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = s.UpdateIfMatch(ctx, n.ID, nil, nil, "v4")
	assert.NoError(t, err)
}

func TestDeleteTwiceAndNoReuse(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	n, _ := s.Create(ctx, nil, "bye")
	require.NoError(t, s.Delete(ctx, n.ID))

	_, err := s.Get(ctx, n.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, n.ID), apperr.ErrNotFound)
	_, err = s.Update(ctx, n.ID, nil, "back?")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	m, _ := s.Create(ctx, nil, "new")
	assert.Greater(t, m.ID, n.ID)
}

func TestStorageFailureLeavesStoreUnchanged(t *testing.T) {
	ctx := context.Background()
	b := &flakyBackend{Memory: storage.NewMemory()}
	s, err := Open(ctx, b)
	require.NoError(t, err)

	n, err := s.Create(ctx, nil, "stable")
	require.NoError(t, err)

	b.failNext = true
	_, err = s.Create(ctx, nil, "lost")
	assert.ErrorIs(t, err, apperr.ErrStorage)
	assert.Equal(t, 1, s.Len())

	b.failNext = true
	_, err = s.Update(ctx, n.ID, nil, "changed")
	assert.ErrorIs(t, err, apperr.ErrStorage)
	got, _ := s.Get(ctx, n.ID)
	assert.Equal(t, "stable", got.Content)

	b.failNext = true
	assert.ErrorIs(t, s.Delete(ctx, n.ID), apperr.ErrStorage)
	_, err = s.Get(ctx, n.ID)
	assert.NoError(t, err)

	err = s.Delete(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestOpenRecomputesSummary(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	long := strings.Repeat("q", 130)
	require.NoError(t, mem.Insert(ctx, models.Note{ID: 1, Content: long, Summary: "stale",
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}))

	s, err := Open(ctx, mem)
	require.NoError(t, err)
	n, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, summary.Derive(long), n.Summary)
}

func TestOpenReservesLoadedIDs(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	now := time.Now().UTC()
	require.NoError(t, mem.Insert(ctx, models.Note{ID: 7, Content: "seven", CreatedAt: now, UpdatedAt: now}))

	s, err := Open(ctx, mem)
	require.NoError(t, err)
	n, err := s.Create(ctx, nil, "next")
	require.NoError(t, err)
	assert.Equal(t, int64(8), n.ID)
}

func TestOpenSurvivesLostSequence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	fs, err := storage.NewFS(dir)
	require.NoError(t, err)
	s, err := Open(ctx, fs)
	require.NoError(t, err)
	var last models.Note
	for _, c := range []string{"a", "b", "c"} {
		last, err = s.Create(ctx, nil, c)
		require.NoError(t, err)
	}
	require.NoError(t, fs.Close())
	require.NoError(t, os.Remove(filepath.Join(dir, "sequence")))

	fs, err = storage.NewFS(dir)
	require.NoError(t, err)
	defer fs.Close()
	s, err = Open(ctx, fs)
	require.NoError(t, err)
	n, err := s.Create(ctx, nil, "d")
	require.NoError(t, err)
	assert.Greater(t, n.ID, last.ID)
	assert.Equal(t, 4, s.Len())
}

func TestChangeFunc(t *testing.T) {
	ctx := context.Background()
	var kinds []string
	s := newStore(t, WithChangeFunc(func(kind string, n models.Note) {
		kinds = append(kinds, fmt.Sprintf("%s:%d", kind, n.ID))
	}))
	n, _ := s.Create(ctx, nil, "x")
	_, _ = s.Update(ctx, n.ID, nil, "y")
	_ = s.Delete(ctx, n.ID)
	_ = s.Delete(ctx, n.ID)
	want := []string{
		fmt.Sprintf("created:%d", n.ID),
		fmt.Sprintf("updated:%d", n.ID),
		fmt.Sprintf("deleted:%d", n.ID),
	}
	assert.Equal(t, want, kinds)
}

func TestReturnedNotesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	n, _ := s.Create(ctx, ptr("orig"), "c")
	*n.Title = "mutated"
	got, _ := s.Get(ctx, n.ID)
	assert.Equal(t, "orig", *got.Title)
}

func TestConcurrentUpdatesAreNotTorn(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	n, err := s.Create(ctx, ptr("0"), "0")
	require.NoError(t, err)

	const writers = 16
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				v := fmt.Sprintf("%d-%d", w, i)
				if _, err := s.Update(ctx, n.ID, ptr(v), v); err != nil {
					t.Errorf("Update: %v", err)
					return
				}
			}
		}(w)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var last time.Time
	for {
		select {
		case <-done:
			final, err := s.Get(ctx, n.ID)
			require.NoError(t, err)
			assert.Equal(t, *final.Title, final.Content)
			return
		default:
		}
		got, err := s.Get(ctx, n.ID)
		require.NoError(t, err)
		require.Equal(t, *got.Title, got.Content, "torn read")
		require.Equal(t, summary.Derive(got.Content), got.Summary, "stale summary")
		require.False(t, got.UpdatedAt.Before(last), "updated_at went backwards")
		last = got.UpdatedAt
	}
}

func TestConcurrentCreatesGetUniqueIDs(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	var (
		mu  sync.Mutex
		ids = make(map[int64]bool)
		wg  sync.WaitGroup
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := s.Create(ctx, nil, fmt.Sprintf("note %d", i))
			if err != nil {
				t.Errorf("Create: %v", err)
				return
			}
			mu.Lock()
			ids[n.ID] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	assert.Len(t, ids, 32)
	assert.Equal(t, 32, s.Len())
}

func TestConcurrentDeleteSucceedsOnce(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	n, _ := s.Create(ctx, nil, "contested")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		notFound int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Delete(ctx, n.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, apperr.ErrNotFound):
				notFound++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, 7, notFound)
}

// testStoreLifecycle_Properties drives a random sequence of operations against
// the store and a simple model of it.
func testStoreLifecycle_Properties(t *rapid.T) {
	ctx := context.Background()
	clock := &frozenClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s, err := Open(ctx, storage.NewMemory(), WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}

	model := map[int64]string{}
	var order []int64 // creation order
	deleted := map[int64]bool{}
	var maxID int64

	content := rapid.StringMatching(`[a-z ]{0,12}`)
	steps := rapid.IntRange(1, 40).Draw(t, "steps")
	for i := 0; i < steps; i++ {
		if rapid.Bool().Draw(t, "tick") {
			clock.Advance(time.Millisecond)
		}
		switch rapid.IntRange(0, 2).Draw(t, "op") {
		case 0:
			c := content.Draw(t, "content")
			n, err := s.Create(ctx, nil, c)
			if strings.TrimSpace(c) == "" {
				if !errors.Is(err, apperr.ErrValidation) {
					t.Fatalf("blank create err = %v", err)
				}
				continue
			}
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if n.ID <= maxID {
				t.Fatalf("id %d not greater than previous %d", n.ID, maxID)
			}
			maxID = n.ID
			model[n.ID] = strings.TrimSpace(c)
			order = append(order, n.ID)
		case 1:
			if len(order) == 0 {
				continue
			}
			id := rapid.SampledFrom(order).Draw(t, "update id")
			c := content.Draw(t, "content")
			_, err := s.Update(ctx, id, nil, c)
			switch {
			case deleted[id]:
				if !errors.Is(err, apperr.ErrNotFound) {
					t.Fatalf("update of deleted id err = %v", err)
				}
			case strings.TrimSpace(c) == "":
				if !errors.Is(err, apperr.ErrValidation) {
					t.Fatalf("blank update err = %v", err)
				}
			case err != nil:
				t.Fatalf("Update: %v", err)
			default:
				model[id] = strings.TrimSpace(c)
			}
		case 2:
			if len(order) == 0 {
				continue
			}
			id := rapid.SampledFrom(order).Draw(t, "delete id")
			err := s.Delete(ctx, id)
			if deleted[id] {
				if !errors.Is(err, apperr.ErrNotFound) {
					t.Fatalf("second delete err = %v", err)
				}
				continue
			}
			if err != nil {
				t.Fatalf("Delete: %v", err)
			}
			deleted[id] = true
			delete(model, id)
		}
	}

	notes, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != len(model) {
		t.Fatalf("list has %d notes, model %d", len(notes), len(model))
	}
	// Newest first: walk creation order backwards skipping deleted ids.
	j := 0
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		if deleted[id] {
			continue
		}
		if notes[j].ID != id {
			t.Fatalf("position %d: got id %d, want %d", j, notes[j].ID, id)
		}
		if notes[j].Content != model[id] {
			t.Fatalf("id %d content %q, want %q", id, notes[j].Content, model[id])
		}
		if notes[j].Summary != summary.Derive(model[id]) {
			t.Fatalf("id %d has stale summary", id)
		}
		j++
	}
}

func TestStoreLifecycle_Properties(t *testing.T) {
	rapid.Check(t, testStoreLifecycle_Properties)
}
