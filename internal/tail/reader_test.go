package tail

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const userHi = `{"type":"message","message":{"role":"user","content":"hi"}}` + "\n"

func appendFile(t *testing.T, path, data string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestReadNewFirstLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.jsonl")
	appendFile(t, path, "")

	reader := NewReader(NewRegistry())
	reader.Track(path)
	require.EqualValues(t, 0, reader.Registry().Cursor(path))

	appendFile(t, path, userHi)
	ext, err := reader.ReadNew(path)
	require.NoError(t, err)
	require.Equal(t, userHi, string(ext.Data))
	require.EqualValues(t, 60, reader.Registry().Cursor(path))

	events := DecodeLines(ext.Data)
	require.Len(t, events, 1)
	require.Equal(t, "user", events[0].Message.Role)
}

func TestReadNewNoGrowth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.jsonl")
	appendFile(t, path, userHi)

	reader := NewReader(NewRegistry())
	require.EqualValues(t, 60, reader.Prime(path))

	ext, err := reader.ReadNew(path)
	require.NoError(t, err)
	require.True(t, ext.Empty())
	require.EqualValues(t, 60, reader.Registry().Cursor(path))
}

func TestReadNewMonotonicRanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.jsonl")
	reader := NewReader(NewRegistry())
	reader.Track(path)

	var (
		all    []byte
		offset int64
	)
	for _, chunk := range []string{"{\"a\":1}\n", "{\"a\":2}\n{\"a\":3}\n", "", "{\"a\":4}\n"} {
		appendFile(t, path, chunk)
		ext, err := reader.ReadNew(path)
		require.NoError(t, err)
		if ext.Empty() {
			continue
		}
		require.Equal(t, offset, ext.Offset, "ranges must be contiguous")
		offset += int64(len(ext.Data))
		all = append(all, ext.Data...)
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, data, all)
	require.Len(t, DecodeLines(all), 4)
}

func TestReadNewHoldsPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.jsonl")
	reader := NewReader(NewRegistry())
	reader.Track(path)

	appendFile(t, path, "{\"type\":\"message\",\"message\":{\"role\":\"user\",")
	ext, err := reader.ReadNew(path)
	require.NoError(t, err)
	require.True(t, ext.Empty())
	require.EqualValues(t, 0, reader.Registry().Cursor(path))

	appendFile(t, path, "\"content\":\"hi\"}}\n")
	ext, err = reader.ReadNew(path)
	require.NoError(t, err)
	events := DecodeLines(ext.Data)
	require.Len(t, events, 1)
	require.Equal(t, "user", events[0].Message.Role)
}

func TestReadNewLossyPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.jsonl")
	reader := NewReader(NewRegistry(), WithHoldPartial(false))
	reader.Track(path)

	appendFile(t, path, "{\"a\":1}\n{\"type\":\"message\",")
	ext, err := reader.ReadNew(path)
	require.NoError(t, err)
	require.Len(t, DecodeLines(ext.Data), 1)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, info.Size(), reader.Registry().Cursor(path))

	// The rest of the split line never decodes.
	appendFile(t, path, "\"message\":{\"role\":\"user\",\"content\":\"hi\"}}\n")
	ext, err = reader.ReadNew(path)
	require.NoError(t, err)
	require.Empty(t, DecodeLines(ext.Data))
}

func TestReadNewOversizedPartialSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.jsonl")
	reader := NewReader(NewRegistry(), WithMaxLineSize(8))
	reader.Track(path)

	appendFile(t, path, "0123456789")
	ext, err := reader.ReadNew(path)
	require.NoError(t, err)
	require.True(t, ext.Empty())
	require.EqualValues(t, 10, reader.Registry().Cursor(path))
}

func TestReadNewShrinkReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.jsonl")
	appendFile(t, path, userHi+userHi)

	reader := NewReader(NewRegistry())
	reader.Prime(path)
	require.EqualValues(t, 120, reader.Registry().Cursor(path))

	require.NoError(t, os.Truncate(path, 0))
	appendFile(t, path, `{"type":"message","message":{"role":"assistant","content":"ok"}}`+"\n")

	ext, err := reader.ReadNew(path)
	require.NoError(t, err)
	require.True(t, ext.Reset)
	require.EqualValues(t, 0, ext.Offset)
	events := DecodeLines(ext.Data)
	require.Len(t, events, 1)
	require.Equal(t, "assistant", events[0].Message.Role)
}

func TestReadNewMissingFileKeepsCursor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone.jsonl")
	registry := NewRegistry()
	registry.SetCursor(path, 42)

	_, err := NewReader(registry).ReadNew(path)
	require.Error(t, err)
	require.ErrorIs(t, err, os.ErrNotExist)
	require.EqualValues(t, 42, registry.Cursor(path))
}

func TestReadNewConcurrentCallersNoDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.jsonl")
	reader := NewReader(NewRegistry())
	reader.Track(path)
	for i := 0; i < 50; i++ {
		appendFile(t, path, userHi)
	}

	var (
		mu    sync.Mutex
		total int
		wg    sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ext, err := reader.ReadNew(path)
			if err != nil {
				return
			}
			mu.Lock()
			total += len(DecodeLines(ext.Data))
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, 50, total)
}

func TestRegistryLockReleasesEntry(t *testing.T) {
	registry := NewRegistry()
	unlock := registry.Lock("/a")
	unlock()
	require.Empty(t, registry.locks)

	registry.SetCursor("/a", -5)
	require.EqualValues(t, 0, registry.Cursor("/a"))
	require.True(t, registry.Known("/a"))
	registry.Forget("/a")
	require.False(t, registry.Known("/a"))
	require.Zero(t, registry.Len())
}
