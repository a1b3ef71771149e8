package runloop

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoRunsInSubmissionOrder(t *testing.T) {
	s := New()
	defer s.Close()

	var got []int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		s.Enqueue(func() {
			got = append(got, i)
			wg.Done()
		})
	}
	wg.Wait()

	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestDoWaitsForCompletion(t *testing.T) {
	s := New()
	defer s.Close()

	var ran bool
	ok := s.Do(func() { ran = true })
	require.True(t, ok)
	assert.True(t, ran)
}

func TestDoAfterCloseReturnsFalse(t *testing.T) {
	s := New()
	s.Close()

	ok := s.Do(func() { t.Fatal("must not run after close") })
	assert.False(t, ok)
	assert.False(t, s.Enqueue(func() {}))
}

func TestCloseIsIdempotent(t *testing.T) {
	s := New()
	s.Close()
	s.Close()
}

func TestPanicInOperationDoesNotStopLoop(t *testing.T) {
	s := New()
	defer s.Close()

	s.Do(func() { panic("boom") })

	var ran bool
	ok := s.Do(func() { ran = true })
	require.True(t, ok)
	assert.True(t, ran)
}
