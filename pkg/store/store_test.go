package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nzoschke/specmask/pkg/stft"
)

func TestMaskStore_InMemory(t *testing.T) {
	s, err := Open("", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Load("a/song.mp3")
	assert.ErrorIs(t, err, ErrNotFound)

	m := stft.NewMask(4, 3)
	m.PaintLine(0, 0, 3, 2, 1)
	require.NoError(t, s.Save("a/song.mp3", m))
	require.NoError(t, s.Save("b/other.wav", stft.NewMask(1, 1)))

	got, err := s.Load("a/song.mp3")
	require.NoError(t, err)
	assert.Equal(t, m, got)

	tracks, err := s.Tracks()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a/song.mp3", "b/other.wav"}, tracks)

	require.NoError(t, s.Delete("a/song.mp3"))
	_, err = s.Load("a/song.mp3")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, s.Delete("never/saved.mp3"))
}

func TestMaskStore_Persists(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, nil)
	require.NoError(t, err)
	m := stft.NewMask(2, 2)
	m.Fill(0.5)
	require.NoError(t, s.Save("track.wav", m))
	require.NoError(t, s.Close())

	s, err = Open(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Load("track.wav")
	require.NoError(t, err)
	assert.Equal(t, float32(0.5), got.At(1, 1))
}
