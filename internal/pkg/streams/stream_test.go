package streams

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendStream_AppendsAfterSource(t *testing.T) {
	base := SliceStream([]int{1, 2, 3})
	appended := AppendStream[int](base, 4, 5)

	result, err := All(appended)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3, 4, 5}, result)
	require.NoError(t, appended.Close())
}

func TestAppendStream_EmptyBase(t *testing.T) {
	base := SliceStream([]int{})
	appended := AppendStream[int](base, 1, 2)

	result, err := All(appended)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, result)
}

func TestAppendStream_ErrorInSource(t *testing.T) {
	testErr := errors.New("test error")
	base := &errorStream[int]{items: []int{1, 2}, err: testErr}
	appended := AppendStream[int](base, 3, 4)

	result, err := All(appended)
	require.ErrorIs(t, err, testErr)
	require.Equal(t, []int{1, 2}, result)
}

type errorStream[T any] struct {
	items []T
	index int
	err   error
}

func (s *errorStream[T]) Next() bool {
	if s.index < len(s.items) {
		s.index++

		return true
	}

	return false
}

func (s *errorStream[T]) Current() T {
	if s.index > 0 && s.index <= len(s.items) {
		return s.items[s.index-1]
	}

	var zero T

	return zero
}

func (s *errorStream[T]) Err() error {
	if s.index >= len(s.items) {
		return s.err
	}

	return nil
}

func (s *errorStream[T]) Close() error { return nil }

func TestMapErr(t *testing.T) {
	src := SliceStream([]int{1, 2, 3})
	doubled := MapErr(src, func(v int) (int, error) { return v * 2, nil })

	result, err := All(doubled)
	require.NoError(t, err)
	require.Equal(t, []int{2, 4, 6}, result)
}

func TestMapErr_PropagatesError(t *testing.T) {
	src := SliceStream([]int{1, 2, 3})
	boom := errors.New("boom")

	mapped := MapErr(src, func(v int) (int, error) {
		if v == 2 {
			return 0, boom
		}

		return v, nil
	})

	result, err := All(mapped)
	require.ErrorIs(t, err, boom)
	require.Equal(t, []int{1}, result)
}

func TestNoNil(t *testing.T) {
	a, b := 1, 2
	src := SliceStream([]*int{&a, nil, &b, nil})

	filtered := NoNil(src)

	result, err := All(filtered)
	require.NoError(t, err)
	require.Equal(t, []*int{&a, &b}, result)
}
