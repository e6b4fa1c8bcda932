package position

import (
	"bytes"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestGenerator_SameMillisecondIsMonotonic(t *testing.T) {
	instant := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	g := NewGenerator(WithClock(fixedClock{instant}))

	prev := g.Now()
	for i := 0; i < 1000; i++ {
		next := g.Now()
		require.True(t, prev.Less(next), "iteration %d", i)
		prev = next
	}
}

func TestGenerator_MintUsesInstant(t *testing.T) {
	g := NewGenerator()
	old := time.Date(2001, 9, 9, 1, 46, 40, 0, time.UTC)

	tok := g.Mint(old)
	assert.Equal(t, old, tok.Time())
	assert.True(t, tok.Less(g.Now()))
}

func TestGenerator_PreEpochClamps(t *testing.T) {
	tok := NewGenerator().Mint(time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Unix(0, 0).UTC(), tok.Time())
	assert.False(t, tok.IsZero())
}

func TestGenerator_CustomEntropy(t *testing.T) {
	g := NewGenerator(WithEntropy(bytes.NewReader(bytes.Repeat([]byte{0xab}, 10))))
	tok := g.Mint(time.UnixMilli(1))
	for _, b := range tok[6:] {
		assert.Equal(t, byte(0xab), b)
	}
}

func TestGenerator_ConcurrentUnique(t *testing.T) {
	g := NewGenerator(WithClock(fixedClock{time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}))

	const workers = 8
	const perWorker = 200
	var mu sync.Mutex
	seen := make(map[Token]bool)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			local := make([]Token, 0, perWorker)
			for j := 0; j < perWorker; j++ {
				local = append(local, g.Now())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, tok := range local {
				seen[tok] = true
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

func TestDerive_Deterministic(t *testing.T) {
	instant := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := Derive(instant, 7)
	b := Derive(instant, 7)
	assert.Equal(t, a, b)
	assert.Equal(t, instant, a.Time())

	toks := []Token{Derive(instant, 3), Derive(instant, 1), Derive(instant.Add(-time.Millisecond), 9)}
	sort.Slice(toks, func(i, j int) bool { return toks[i].Less(toks[j]) })
	assert.Equal(t, Derive(instant.Add(-time.Millisecond), 9), toks[0])
	assert.Equal(t, Derive(instant, 1), toks[1])
}
