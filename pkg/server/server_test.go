package server

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nzoschke/specmask/pkg/audio"
	"github.com/nzoschke/specmask/pkg/config"
	"github.com/nzoschke/specmask/pkg/stft"
	"github.com/nzoschke/specmask/pkg/store"
)

const testRate = 16000

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	return newTestServerWith(t, 8, zaptest.NewLogger(t))
}

func writeTone(t *testing.T, path string, freq float64) {
	t.Helper()
	samples := make([]float32, testRate)
	for i := range samples {
		samples[i] = float32(0.4 * math.Sin(2*math.Pi*freq*float64(i)/testRate))
	}
	require.NoError(t, audio.WriteWAVFile(path, samples, testRate))
}

func newTestServerWith(t *testing.T, cache int, log *zap.Logger) (*Server, string) {
	t.Helper()
	dir := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "album"), 0755))
	writeTone(t, filepath.Join(dir, "album", "tone.wav"), 440)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("hi"), 0644))

	masks, err := store.Open("", zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { masks.Close() })

	cfg := &config.Config{
		MusicDir: dir,
		Addr:     ":0",
		Workers:  2,
		Cache:    cache,
		STFT:     stft.Config{WinSize: 1024, HopSize: 256, MaxFreqHz: 4000, DBRange: 80},
	}
	return New(cfg, masks, log), dir
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestListMusic(t *testing.T) {
	s, dir := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/music", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var tracks []Track
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tracks))
	assert.Equal(t, []Track{{Name: "tone", Path: "album/tone.wav"}}, tracks)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "album", "tone.json"), []byte("{}"), 0644))
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/paint/album/tone.wav", `{"from":[0,0],"to":[3,3],"value":1}`).Code)

	rec = do(t, s, http.MethodGet, "/api/music", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tracks))
	require.Len(t, tracks, 1)
	assert.True(t, tracks[0].HasJSON)
	assert.Equal(t, "album/tone.json", tracks[0].JSONPath)
	assert.True(t, tracks[0].HasMask)
}

func TestServeMusic(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/music/album/tone.wav", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Greater(t, rec.Body.Len(), 2*testRate)

	assert.Equal(t, http.StatusForbidden, do(t, s, http.MethodGet, "/api/music/..%2Fsecret.wav", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/music/album/missing.wav", "").Code)
	assert.Equal(t, http.StatusForbidden, do(t, s, http.MethodGet, "/api/music/readme.txt", "").Code)
	assert.Equal(t, http.StatusForbidden, do(t, s, http.MethodGet, "/api/music/album", "").Code)
}

func TestGetSpectrogram(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/spectrogram/album/tone.wav", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var spec stft.Spectrogram
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &spec))
	assert.Equal(t, stft.NumFrames(testRate, 1024, 256), spec.Frames())
	assert.Equal(t, 256, spec.Bins())
	assert.Equal(t, spec.MaxDB()-80, spec.FloorDB())

	assert.Equal(t, http.StatusForbidden, do(t, s, http.MethodGet, "/api/spectrogram/readme.txt", "").Code)
}

func TestMaskLifecycle(t *testing.T) {
	s, _ := newTestServer(t)
	frames := stft.NumFrames(testRate, 1024, 256)

	// nothing stored yet: muted mask of the right size
	rec := do(t, s, http.MethodGet, "/api/mask/album/tone.wav", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var m stft.Mask
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, frames, m.Frames())
	assert.Equal(t, 256, m.Bins())

	rec = do(t, s, http.MethodPost, "/api/paint/album/tone.wav", `{"from":[0,10],"to":[5,10],"value":0.5}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/mask/album/tone.wav", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, float32(0.5), m.At(3, 10))
	assert.Zero(t, m.At(3, 11))

	assert.Equal(t, http.StatusBadRequest,
		do(t, s, http.MethodPost, "/api/paint/album/tone.wav", `{"from":[0,0],"to":[1,1],"value":2}`).Code)

	// replace
	full := stft.NewMask(frames, 256)
	full.Fill(1)
	body, err := json.Marshal(full)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPut, "/api/mask/album/tone.wav", string(body)).Code)

	bad, err := json.Marshal(stft.NewMask(frames, 255))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPut, "/api/mask/album/tone.wav", string(bad)).Code)

	full.Set(0, 0, 1.5)
	body, err = json.Marshal(full)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPut, "/api/mask/album/tone.wav", string(body)).Code)

	assert.Equal(t, http.StatusBadRequest,
		do(t, s, http.MethodPut, "/api/mask/album/tone.wav", `{"frames":2,"bins":2,"gains":[1]}`).Code)

	require.Equal(t, http.StatusNoContent, do(t, s, http.MethodDelete, "/api/mask/album/tone.wav", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/render/album/tone.wav", "").Code)
}

func TestRender(t *testing.T) {
	s, dir := newTestServer(t)

	full := stft.NewMask(stft.NumFrames(testRate, 1024, 256), 256)
	full.Fill(1)
	body, err := json.Marshal(full)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPut, "/api/mask/album/tone.wav", string(body)).Code)

	rec := do(t, s, http.MethodGet, "/api/render/album/tone.wav", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/wav", rec.Header().Get("Content-Type"))

	out := filepath.Join(dir, "render.wav")
	require.NoError(t, os.WriteFile(out, rec.Body.Bytes(), 0644))
	sig, err := audio.LoadMono(out)
	require.NoError(t, err)
	assert.Equal(t, testRate, sig.SampleRate)
	require.Len(t, sig.Samples, testRate)

	// interior samples survive a full mask
	in, err := audio.LoadMono(filepath.Join(dir, "album", "tone.wav"))
	require.NoError(t, err)
	q, err := stft.Compare(in.Samples[2048:testRate-2048], sig.Samples[2048:testRate-2048])
	require.NoError(t, err)
	assert.Less(t, q.MAE, 1e-3)
}

func TestPaint_ConcurrentStrokes(t *testing.T) {
	s, _ := newTestServer(t)

	const strokes = 40
	var wg sync.WaitGroup
	for i := range strokes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body := fmt.Sprintf(`{"from":[%d,%d],"to":[%d,%d],"value":1}`, i, i, i, i)
			rec := do(t, s, http.MethodPost, "/api/paint/album/tone.wav", body)
			assert.Equal(t, http.StatusOK, rec.Code)
		}()
	}
	wg.Wait()

	rec := do(t, s, http.MethodGet, "/api/mask/album/tone.wav", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var m stft.Mask
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))

	painted := 0
	for f := range m.Frames() {
		for b := range m.Bins() {
			if m.At(f, b) > 0 {
				painted++
			}
		}
	}
	assert.Equal(t, strokes, painted)
	for i := range strokes {
		assert.Equal(t, float32(1), m.At(i, i), "cell %d", i)
	}
}

func TestLoadTrack_SharedAnalysis(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s, _ := newTestServerWith(t, 8, zap.New(core))

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/spectrogram/album/tone.wav", "").Code)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, logs.FilterMessage("track analyzed").Len())
}

func TestLoadTrack_CacheEviction(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s, dir := newTestServerWith(t, 1, zap.New(core))
	writeTone(t, filepath.Join(dir, "album", "other.wav"), 880)

	for _, track := range []string{"tone", "tone", "other", "tone"} {
		require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/spectrogram/album/"+track+".wav", "").Code)
	}

	analyzed := logs.FilterMessage("track analyzed")
	assert.Equal(t, 3, analyzed.Len())
	assert.Equal(t, 2, logs.FilterMessage("track evicted").Len())
	assert.Equal(t, "album/tone.wav", analyzed.All()[2].ContextMap()["track"])
}
