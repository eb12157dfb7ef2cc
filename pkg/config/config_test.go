package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzoschke/specmask/pkg/stft"
)

func TestLoad_Defaults(t *testing.T) {
	v, err := New("")
	require.NoError(t, err)

	c, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "music", c.MusicDir)
	assert.Equal(t, ":8080", c.Addr)
	assert.Equal(t, 4, c.Workers)
	assert.Equal(t, 8, c.Cache)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, stft.DefaultConfig(), c.STFT)
}

func TestLoad_FileEnvFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "specmask.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
music_dir: /srv/music
stft:
  win_size: 2048
  hop_size: 256
log:
  level: debug
`), 0644))

	t.Setenv("SPECMASK_STFT_DB_RANGE", "60")

	v, err := New(path)
	require.NoError(t, err)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("addr", ":8080", "")
	flags.Int("stft.hop-size", 512, "")
	require.NoError(t, BindFlags(v, flags))
	require.NoError(t, flags.Parse([]string{"--addr", ":9999", "--stft.hop-size", "128"}))

	c, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "/srv/music", c.MusicDir)
	assert.Equal(t, ":9999", c.Addr)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, stft.Config{WinSize: 2048, HopSize: 128, MaxFreqHz: 8000, DBRange: 60}, c.STFT)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  any
		want error
	}{
		{"window", "stft.win_size", 1000, stft.ErrInvalidWinSize},
		{"hop", "stft.hop_size", 0, stft.ErrInvalidHop},
		{"max freq", "stft.max_freq_hz", -1.0, stft.ErrInvalidMaxFreq},
		{"db range", "stft.db_range", 0.0, stft.ErrInvalidDBRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := New("")
			require.NoError(t, err)
			v.Set(tt.key, tt.val)

			_, err = Load(v)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	v, err := New("")
	require.NoError(t, err)
	v.Set("workers", -1)
	_, err = Load(v)
	assert.Error(t, err)

	v.Set("workers", 2)
	v.Set("cache", 0)
	_, err = Load(v)
	assert.ErrorContains(t, err, "cache")

	_, err = New(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
