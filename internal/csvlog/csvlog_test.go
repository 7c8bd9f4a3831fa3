package csvlog

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog_Write(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pos.csv")

	l, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, l.Write(1000, 0.5, -1.25, 0.3, true))
	require.NoError(t, l.Write(1010, float32(0.5), 2, "x", false))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1000,0.5,-1.25,0.3,True\n1010,0.5,2,x,False\n", string(data))
	assert.Equal(t, int64(len(data)), l.Bytes())

	assert.ErrorIs(t, l.Write(1020, 1.0), os.ErrClosed)
	assert.NoError(t, l.Close())
}

func TestLog_TruncatesOnOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vbat.csv")
	require.NoError(t, os.WriteFile(path, []byte("stale,data\n"), 0o644))

	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Write(1, 3.7))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1,3.7\n", string(data))
}

func TestLog_ConcurrentWrites(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "range.csv"))
	require.NoError(t, err)
	defer l.Close()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 50 {
				assert.NoError(t, l.Write(uint32(i*100+j), 220.0, 300.0, 300.0, 300.0))
			}
		}()
	}
	wg.Wait()

	require.NoError(t, l.Close())
	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)

	lines := 0
	for _, c := range data {
		if c == '\n' {
			lines++
		}
	}
	assert.Equal(t, 400, lines)
}

func TestSet(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	s, err := OpenSet(dir, "pos", "range", "pos")
	require.NoError(t, err)
	assert.Equal(t, []string{"pos", "range"}, s.Names())
	assert.Nil(t, s.Log("thrust"))

	require.NoError(t, s.Log("range").Write(5, 1.0, 2.0, 3.0, 4.0))
	assert.Equal(t, int64(len("5,1,2,3,4\n")), s.Bytes())
	require.NoError(t, s.Close())

	assert.FileExists(t, filepath.Join(dir, "pos.csv"))
	assert.FileExists(t, filepath.Join(dir, "range.csv"))
}
