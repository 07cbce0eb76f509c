package artifact

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Store = (*InMemoryStore)(nil)
	_ Store = (*FileStore)(nil)
)

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewInMemoryStore(),
		"file":   NewFileStore(t.TempDir()),
	}
}

func TestStoreSaveGetIsolation(t *testing.T) {
	ctx := context.Background()
	for name, svc := range stores(t) {
		t.Run(name, func(t *testing.T) {
			data := []byte("hello")
			require.NoError(t, svc.Save(ctx, "r1", "a1", data))
			data[0] = 'H'

			out, err := svc.Get(ctx, "r1", "a1")
			require.NoError(t, err)
			assert.Equal(t, "hello", string(out))

			out[0] = 'x'
			out2, err := svc.Get(ctx, "r1", "a1")
			require.NoError(t, err)
			assert.Equal(t, "hello", string(out2))
		})
	}
}

func TestStoreListAndDelete(t *testing.T) {
	ctx := context.Background()
	for name, svc := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, svc.Save(ctx, "r1", "b.json", []byte("2")))
			require.NoError(t, svc.Save(ctx, "r1", "a.json", []byte("1")))

			names, err := svc.List(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, []string{"a.json", "b.json"}, names)

			require.NoError(t, svc.Delete(ctx, "r1", "a.json"))
			_, err = svc.Get(ctx, "r1", "a.json")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, svc.Delete(ctx, "r1", "a.json"), ErrNotFound)

			names, err = svc.List(ctx, "missing")
			require.NoError(t, err)
			assert.Empty(t, names)
		})
	}
}

func TestFileStoreLayout(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := NewFileStore(dir)

	require.NoError(t, s.Save(ctx, "", TranscriptName, []byte("{}")))
	names, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{TranscriptName}, names)

	assert.Error(t, s.Save(ctx, "r1", "../escape", nil))
	assert.Error(t, s.Save(ctx, "../r1", "x", nil))
}

func TestInMemoryStoreConcurrency(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, svc.Save(ctx, "r1", fmt.Sprintf("a%d", i%10), []byte("data")))
			_, _ = svc.List(ctx, "r1")
		}(i)
	}
	wg.Wait()

	names, err := svc.List(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, names, 10)
}
