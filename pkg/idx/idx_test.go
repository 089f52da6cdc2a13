package idx_test

import (
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/tokend/pkg/clockx"
	"github.com/aussiebroadwan/tokend/pkg/idx"
	"github.com/stretchr/testify/require"
)

func TestNewAndParse(t *testing.T) {
	id := idx.New()
	require.False(t, id.IsZero())

	parsed, err := idx.Parse(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	_, err = idx.Parse("not-a-ulid")
	require.ErrorIs(t, err, idx.ErrInvalid)

	_, err = idx.Parse("  ")
	require.ErrorIs(t, err, idx.ErrInvalid)
}

func TestGeneratorUsesClock(t *testing.T) {
	tm := time.Unix(1700000000, 0).UTC()
	g := idx.NewGenerator(clockx.NewFake(tm))

	id := g.New()
	require.WithinDuration(t, tm, id.Time(), time.Millisecond)
}

func TestGeneratorMonotonicWithinSameInstant(t *testing.T) {
	g := idx.NewGenerator(clockx.NewFake(time.Unix(1700000000, 0)))

	prev := g.New()
	for range 100 {
		next := g.New()
		require.Less(t, prev.String(), next.String())
		prev = next
	}
}

func TestGeneratorConcurrentUnique(t *testing.T) {
	g := idx.NewGenerator(nil)

	var (
		mu   sync.Mutex
		seen = make(map[idx.ID]struct{})
		wg   sync.WaitGroup
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				id := g.New()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, 20*50)
}
