package dedup

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdmit_DistinctIDs(t *testing.T) {
	d := New(16)
	ids := []string{"n1", "n2", "n1", "n3", "n2", "n1"}

	var admitted []string
	for _, id := range ids {
		if d.Admit(id, 0) {
			admitted = append(admitted, id)
		}
	}
	assert.Equal(t, []string{"n1", "n2", "n3"}, admitted)
}

func TestAdmit_OutOfOrderSeqs(t *testing.T) {
	d := New(8)
	assert.True(t, d.Admit("n-43", 43))
	assert.True(t, d.Admit("n-42", 42), "a lower seq is a different notification")
	assert.True(t, d.Admit("n-44", 44))
	assert.False(t, d.Admit("n-42", 42))
	assert.Equal(t, int64(44), d.Watermark())
}

func TestAdmit_WindowEviction(t *testing.T) {
	d := New(2)
	assert.True(t, d.Admit("a", 1))
	assert.True(t, d.Admit("b", 2))
	assert.True(t, d.Admit("c", 3))

	// "a" has left the window; only the id decides.
	assert.True(t, d.Admit("a", 1))
	assert.False(t, d.Admit("c", 3))
	assert.Equal(t, int64(3), d.Watermark())
}

func TestGrow(t *testing.T) {
	d := New(2)
	d.Grow(1)
	assert.Equal(t, 2, d.Window())

	d.Grow(4)
	assert.Equal(t, 4, d.Window())
	for _, id := range []string{"a", "b", "c", "d"} {
		assert.True(t, d.Admit(id, 0))
	}
	for _, id := range []string{"a", "b", "c", "d"} {
		assert.False(t, d.Admit(id, 0), id)
	}
}

func TestObserve_SeedsFromInitialFetch(t *testing.T) {
	d := New(0)
	d.Observe("n1", 0)

	assert.False(t, d.Admit("n1", 0), "fetched item delivered again over the stream")
	assert.True(t, d.Admit("n2", 0))
}

func TestAdvanceAndReset(t *testing.T) {
	d := New(8)
	d.Advance(10)
	d.Advance(5)
	assert.Equal(t, int64(10), d.Watermark())
	assert.True(t, d.Admit("x", 9))
	assert.Equal(t, int64(10), d.Watermark())

	d.Observe("y", 0)
	d.Reset()
	assert.Zero(t, d.Watermark())
	assert.True(t, d.Admit("x", 9))
	assert.True(t, d.Admit("y", 0))
	assert.Equal(t, 8, d.Window())
}

func TestAdmit_Concurrent(t *testing.T) {
	d := New(1000)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if d.Admit(fmt.Sprintf("id-%d", i), 0) {
					mu.Lock()
					admitted++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, admitted)
}
