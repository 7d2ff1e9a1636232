package ringbuffer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCreateError(t *testing.T) {
	_, err := New(0)
	require.EqualError(t, err, "size must be greater than zero")
}

func TestPushBeforePull(t *testing.T) {
	r, err := New(1024)
	require.NoError(t, err)
	defer r.Close()

	ok := r.Push([]byte{1, 2, 3, 4})
	require.True(t, ok)
	require.Equal(t, 1, r.Len())

	ret, ok := r.Pull()
	require.True(t, ok)
	require.Equal(t, []byte{1, 2, 3, 4}, ret)
	require.Equal(t, 0, r.Len())
}

func TestPullBeforePush(t *testing.T) {
	r, err := New(1024)
	require.NoError(t, err)
	defer r.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		ret, ok := r.Pull()
		require.True(t, ok)
		require.Equal(t, []byte{1, 2, 3, 4}, ret)
	}()

	time.Sleep(100 * time.Millisecond)

	ok := r.Push([]byte{1, 2, 3, 4})
	require.True(t, ok)

	<-done
}

func TestClose(t *testing.T) {
	r, err := New(1024)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)

		_, ok := r.Pull()
		require.True(t, ok)

		_, ok = r.Pull()
		require.False(t, ok)
	}()

	ok := r.Push([]byte{1, 2, 3, 4})
	require.True(t, ok)

	time.Sleep(100 * time.Millisecond)

	r.Close()
	<-done

	ok = r.Push([]byte{5, 6, 7, 8})
	require.False(t, ok)

	r.Reset()

	ok = r.Push([]byte{9, 10, 11, 12})
	require.True(t, ok)

	data, ok := r.Pull()
	require.True(t, ok)
	require.Equal(t, []byte{9, 10, 11, 12}, data)
}

func TestOverflow(t *testing.T) {
	r, err := New(30)
	require.NoError(t, err)

	for i := 0; i < 30; i++ {
		ok := r.Push([]byte{1, 2, 3, 4})
		require.True(t, ok)
	}

	ok := r.Push([]byte{5, 6, 7, 8})
	require.False(t, ok)

	for i := 0; i < 30; i++ {
		var data any
		data, ok = r.Pull()
		require.True(t, ok)
		require.Equal(t, []byte{1, 2, 3, 4}, data)
	}
}

func TestOrderManyProducers(t *testing.T) {
	r, err := New(4000)
	require.NoError(t, err)
	defer r.Close()

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				r.Push([2]int{p, i})
			}
		}()
	}
	wg.Wait()

	last := map[int]int{0: -1, 1: -1, 2: -1, 3: -1}
	for i := 0; i < 4000; i++ {
		v, ok := r.Pull()
		require.True(t, ok)
		e := v.([2]int)
		require.Equal(t, last[e[0]]+1, e[1])
		last[e[0]] = e[1]
	}
}

func BenchmarkPushPullContinuous(b *testing.B) {
	r, _ := New(1024 * 8)
	defer r.Close()

	data := make([]byte, 1024)

	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < 1024*8; i++ {
				r.Push(data)
			}
		}()

		for i := 0; i < 1024*8; i++ {
			r.Pull()
		}

		<-done
	}
}
