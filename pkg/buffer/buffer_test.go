package buffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBorrowFailsWhenFull(t *testing.T) {
	s := New(4)

	region := s.Borrow()
	require.NotNil(t, region)
	s.Return(4, true, false)

	// buffer is now full; borrow must fail until drained.
	region = s.Borrow()
	assert.Nil(t, region)
}

func TestAcquireForProcessingRequiresFullOrEOF(t *testing.T) {
	s := New(4)

	region := s.Borrow()
	require.NotNil(t, region)
	s.Return(2, true, false)

	assert.False(t, s.AcquireForProcessing(), "not full and no eof yet")

	region = s.Borrow()
	require.NotNil(t, region)
	s.Return(0, false, true) // latch eof with zero extra bytes

	assert.True(t, s.AcquireForProcessing(), "eof latched should allow acquire")
}

func TestAcquireForProcessingSucceedsWhenFull(t *testing.T) {
	s := New(4)
	region := s.Borrow()
	require.NotNil(t, region)
	s.Return(4, true, false)

	assert.True(t, s.AcquireForProcessing())
	data, eof := s.Data()
	assert.Equal(t, 4, len(data))
	assert.False(t, eof)
}

func TestSOFIsSticky(t *testing.T) {
	s := New(8)
	r := s.Borrow()
	require.NotNil(t, r)
	s.Return(2, true, false)
	assert.True(t, s.SOF())

	r = s.Borrow()
	require.NotNil(t, r)
	s.Return(2, false, false)
	assert.True(t, s.SOF(), "sof must stay sticky once latched")
}

func TestClearResetsState(t *testing.T) {
	s := New(4)
	r := s.Borrow()
	require.NotNil(t, r)
	s.Return(4, true, true)

	s.Clear()
	assert.Equal(t, 0, s.Size())
	assert.False(t, s.SOF())
	assert.False(t, s.EOF())

	// lock must be back to free: a fresh borrow should succeed.
	assert.NotNil(t, s.Borrow())
}

func TestLockNeverDoubleHeld(t *testing.T) {
	s := New(64)
	var wg sync.WaitGroup
	successes := atomicCounter{}

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Borrow() != nil {
				successes.add(1)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, successes.get(), 1, "only one goroutine may hold borrowed at a time")
}

type atomicCounter struct {
	mu sync.Mutex
	n  int
}

func (c *atomicCounter) add(d int) {
	c.mu.Lock()
	c.n += d
	c.mu.Unlock()
}

func (c *atomicCounter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
