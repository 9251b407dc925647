//go:build unix

package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupported(t *testing.T) {
	assert.True(t, Supported)
}

func TestAcquire_Exclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db", "recstore.snapshot.lock")

	first, err := Acquire(path)
	require.NoError(t, err)

	_, err = Acquire(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocked))

	require.NoError(t, first.Unlock())

	second, err := Acquire(path)
	require.NoError(t, err)
	assert.NoError(t, second.Unlock())
}

func TestAcquire_WritesPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.lock")
	l, err := Acquire(path)
	require.NoError(t, err)
	defer l.Unlock()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(data)))
	assert.Equal(t, path, l.Path())
}

func TestUnlock_Idempotent(t *testing.T) {
	l, err := Acquire(filepath.Join(t.TempDir(), "x.lock"))
	require.NoError(t, err)
	assert.NoError(t, l.Unlock())
	assert.NoError(t, l.Unlock())

	var nilLock *Lock
	assert.NoError(t, nilLock.Unlock())
}
