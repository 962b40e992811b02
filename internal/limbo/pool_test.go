package limbo

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	id       int
	acceptOn int // attempt number this sender accepts on, 0 = never
	offers   int
}

func rejectAll(s **fakeSender, acc int) (int, bool) {
	(*s).offers++
	return acc + 1, false
}

func TestPool_AddSenderUpToCapacity(t *testing.T) {
	var p Pool[*fakeSender]

	for i := 0; i < Slots; i++ {
		_, ok := p.AddSender(&fakeSender{id: i})
		require.True(t, ok, "insertion %d", i)
	}
	assert.Equal(t, Slots, p.Len())

	extra := &fakeSender{id: 99}
	back, ok := p.AddSender(extra)
	assert.False(t, ok)
	assert.Same(t, extra, back)
	assert.Equal(t, Slots, p.Len())
	assert.Equal(t, Slots+1, p.Attempts())
}

func TestPool_LinearTryVisitsInOrder(t *testing.T) {
	var p Pool[*fakeSender]
	for i := 0; i < 5; i++ {
		p.AddSender(&fakeSender{id: i, acceptOn: 3})
	}

	var visited []int
	attempt := 0
	_, ok := LinearTry(&p, "payload", func(s **fakeSender, acc string) (string, bool) {
		attempt++
		visited = append(visited, (*s).id)
		if attempt == (*s).acceptOn {
			return "", true
		}
		return acc, false
	})

	require.True(t, ok)
	assert.Equal(t, []int{0, 1, 2}, visited, "later slots must not be offered")
}

func TestPool_LinearTryThreadsAccumulant(t *testing.T) {
	var p Pool[*fakeSender]
	for i := 0; i < 4; i++ {
		p.AddSender(&fakeSender{id: i})
	}

	acc, ok := LinearTry(&p, 0, rejectAll)
	assert.False(t, ok)
	assert.Equal(t, 4, acc, "each rejection hands its result to the next slot")
	for i := 0; i < p.Len(); i++ {
		assert.Equal(t, 1, p.Sender(i).offers)
	}
}

func TestPool_LinearTryEmpty(t *testing.T) {
	var p Pool[*fakeSender]
	acc, ok := LinearTry(&p, 7, rejectAll)
	assert.False(t, ok)
	assert.Equal(t, 7, acc)
}

func TestPool_TryOrCreateCreatesInOrder(t *testing.T) {
	var p Pool[*fakeSender]
	var created []int
	fullCalls := 0

	for i := 0; i < 3; i++ {
		LinearTryOrCreate(&p, 0, rejectAll,
			func(index int, acc int) *fakeSender {
				created = append(created, index)
				return &fakeSender{id: index}
			},
			func(int, int) { fullCalls++ },
		)
	}

	assert.Equal(t, 3, p.Len())
	assert.Equal(t, []int{0, 1, 2}, created)
	assert.Zero(t, fullCalls)
	for i := 0; i < 3; i++ {
		assert.Equal(t, i, p.Sender(i).id)
	}
}

func TestPool_TryOrCreateHandsRegainedAccumulantToCreate(t *testing.T) {
	var p Pool[*fakeSender]
	p.AddSender(&fakeSender{id: 0})
	p.AddSender(&fakeSender{id: 1})

	var got int
	LinearTryOrCreate(&p, 10, rejectAll,
		func(index int, acc int) *fakeSender {
			got = acc
			return &fakeSender{id: index}
		},
		func(int, int) { t.Fatal("pool is not full") },
	)
	assert.Equal(t, 12, got)
	assert.Equal(t, 3, p.Len())
}

func TestPool_TryOrCreateFullCallsPolicy(t *testing.T) {
	var p Pool[*fakeSender]
	for i := 0; i < Slots; i++ {
		p.AddSender(&fakeSender{id: i})
	}

	var attempts []int
	for i := 0; i < 2; i++ {
		LinearTryOrCreate(&p, 0, rejectAll,
			func(int, int) *fakeSender {
				t.Fatal("pool is full")
				return nil
			},
			func(attempt int, acc int) {
				attempts = append(attempts, attempt)
				assert.Equal(t, Slots, acc)
			},
		)
	}

	assert.Equal(t, []int{16, 17}, attempts)
	assert.Equal(t, Slots, p.Len())
}

func TestPool_TryOrCreateReusesAcceptingSlot(t *testing.T) {
	var p Pool[*fakeSender]
	p.AddSender(&fakeSender{id: 0})
	p.AddSender(&fakeSender{id: 1, acceptOn: 1})

	LinearTryOrCreate(&p, 0,
		func(s **fakeSender, acc int) (int, bool) {
			(*s).offers++
			return acc, (*s).acceptOn != 0
		},
		func(int, int) *fakeSender {
			t.Fatal("an existing slot accepted")
			return nil
		},
		func(int, int) { t.Fatal("pool is not full") },
	)
	assert.Equal(t, 2, p.Len())
	assert.Equal(t, 1, p.Sender(1).offers)
}

func TestShared_Concurrent(t *testing.T) {
	var s Shared[int]
	var wg sync.WaitGroup
	var mu sync.Mutex
	full := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Do(func(p *Pool[int]) {
				LinearTryOrCreate(p, i,
					func(_ *int, acc int) (int, bool) { return acc, false },
					func(_ int, acc int) int { return acc },
					func(int, int) {
						mu.Lock()
						full++
						mu.Unlock()
					},
				)
			})
		}(i)
	}
	wg.Wait()

	slots, attempts := s.Stats()
	assert.Equal(t, Slots, slots)
	assert.Equal(t, 100-Slots, full)
	assert.Equal(t, 100, attempts)
}
