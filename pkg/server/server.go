// Package server provides the Echo web server for the spectrogram mask editor.
package server

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/nzoschke/specmask/pkg/analysis"
	"github.com/nzoschke/specmask/pkg/audio"
	"github.com/nzoschke/specmask/pkg/config"
	"github.com/nzoschke/specmask/pkg/stft"
	"github.com/nzoschke/specmask/pkg/store"
)

// Track represents a track in the music library.
type Track struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	HasJSON  bool   `json:"has_json"`
	JSONPath string `json:"json_path,omitempty"`
	HasMask  bool   `json:"has_mask"`
}

// PaintRequest is one brush stroke from (frame, bin) to (frame, bin).
type PaintRequest struct {
	From  [2]int  `json:"from"`
	To    [2]int  `json:"to"`
	Value float32 `json:"value"`
}

// track is a decoded signal with its spectrogram.
type track struct {
	signal audio.Signal
	spec   *stft.Spectrogram
}

// Server serves the music library, spectrograms, masks and renders.
type Server struct {
	cfg   *config.Config
	log   *zap.Logger
	masks *store.MaskStore
	echo  *echo.Echo

	mu     sync.Mutex // guards tracks
	tracks *lru.Cache
	loads  singleflight.Group

	// held across load, edit and save of a stored mask
	maskMu sync.Mutex
}

// New creates a server and registers its routes.
func New(cfg *config.Config, masks *store.MaskStore, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		cfg:    cfg,
		log:    log,
		masks:  masks,
		tracks: lru.New(max(cfg.Cache, 1)),
	}
	s.tracks.OnEvicted = func(key lru.Key, _ any) {
		log.Debug("track evicted", zap.String("track", key.(string)))
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			log.Info("request", fields...)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Routes
	e.GET("/api/music", s.listMusic)
	e.GET("/api/music/*", s.serveMusic)
	e.GET("/api/spectrogram/*", s.getSpectrogram)
	e.GET("/api/mask/*", s.getMask)
	e.PUT("/api/mask/*", s.putMask)
	e.DELETE("/api/mask/*", s.deleteMask)
	e.POST("/api/paint/*", s.paintMask)
	e.GET("/api/render/*", s.render)

	s.echo = e
	return s
}

// Handler returns the HTTP handler for all routes.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.log.Info("listening", zap.String("addr", s.cfg.Addr), zap.String("music_dir", s.cfg.MusicDir))
	err := s.echo.Start(s.cfg.Addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// listMusic returns a list of all tracks in the music directory.
func (s *Server) listMusic(c echo.Context) error {
	tracks := []Track{}
	root := s.cfg.MusicDir

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !audio.IsSupported(path) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		ext := filepath.Ext(path)

		t := Track{
			Name: strings.TrimSuffix(filepath.Base(path), ext),
			Path: rel,
		}

		// Check if JSON sidecar exists
		if _, err := os.Stat(analysis.SidecarPath(path)); err == nil {
			t.HasJSON = true
			t.JSONPath = strings.TrimSuffix(rel, ext) + ".json"
		}
		if _, err := s.masks.Load(rel); err == nil {
			t.HasMask = true
		}

		tracks = append(tracks, t)
		return nil
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, tracks)
}

// resolve returns the track path relative to the music directory and its
// full path on disk.
func (s *Server) resolve(c echo.Context) (string, string, error) {
	decoded, err := url.PathUnescape(c.Param("*"))
	if err != nil {
		return "", "", echo.NewHTTPError(http.StatusBadRequest, "invalid path encoding")
	}

	// Security: prevent directory traversal
	if strings.Contains(decoded, "..") {
		return "", "", echo.NewHTTPError(http.StatusForbidden, "invalid path")
	}

	full := filepath.Join(s.cfg.MusicDir, decoded)
	info, err := os.Stat(full)
	if err != nil {
		return "", "", echo.NewHTTPError(http.StatusNotFound, "file not found")
	}
	if info.IsDir() {
		return "", "", echo.NewHTTPError(http.StatusForbidden, "cannot serve directory")
	}
	return decoded, full, nil
}

// serveMusic serves audio files and JSON analysis files from the music directory.
func (s *Server) serveMusic(c echo.Context) error {
	rel, full, err := s.resolve(c)
	if err != nil {
		return err
	}

	// Only serve allowed file types
	if audio.IsSupported(rel) {
		return c.File(full)
	}
	if strings.ToLower(filepath.Ext(rel)) == ".json" {
		ta, err := analysis.ReadJSON(full)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "invalid JSON")
		}
		return c.JSON(http.StatusOK, ta)
	}
	return echo.NewHTTPError(http.StatusForbidden, "file type not allowed")
}

// loadTrack decodes and analyzes the requested audio file. The most recently
// used tracks stay cached and concurrent first requests share one analysis.
func (s *Server) loadTrack(c echo.Context) (string, *track, error) {
	rel, full, err := s.resolve(c)
	if err != nil {
		return "", nil, err
	}
	if !audio.IsSupported(rel) {
		return "", nil, echo.NewHTTPError(http.StatusForbidden, "file type not allowed")
	}

	s.mu.Lock()
	v, ok := s.tracks.Get(rel)
	s.mu.Unlock()
	if ok {
		return rel, v.(*track), nil
	}

	// shared by every request waiting on this load, so not tied to this one
	ctx := context.WithoutCancel(c.Request().Context())
	v, err, _ = s.loads.Do(rel, func() (any, error) {
		sig, err := audio.LoadMono(full)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}

		spec, err := stft.AnalyzeParallel(ctx, sig.Samples, sig.SampleRate, s.cfg.STFT, s.cfg.Workers)
		if err != nil {
			return nil, httpError(err)
		}
		s.log.Debug("track analyzed", zap.String("track", rel),
			zap.Int("frames", spec.Frames()), zap.Int("bins", spec.Bins()))

		t := &track{signal: sig, spec: spec}
		s.mu.Lock()
		s.tracks.Add(rel, t)
		s.mu.Unlock()
		return t, nil
	})
	if err != nil {
		return "", nil, err
	}
	return rel, v.(*track), nil
}

// httpError maps core errors to HTTP status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, stft.ErrInvalidWinSize),
		errors.Is(err, stft.ErrInvalidHop),
		errors.Is(err, stft.ErrInvalidMaxFreq),
		errors.Is(err, stft.ErrInvalidDBRange),
		errors.Is(err, stft.ErrInvalidSampleRate),
		errors.Is(err, stft.ErrMaskDimensionMismatch),
		errors.Is(err, stft.ErrSignalMismatch),
		errors.Is(err, stft.ErrGainOutOfRange):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) getSpectrogram(c echo.Context) error {
	_, t, err := s.loadTrack(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t.spec)
}

// currentMask returns the stored mask for a track, or a muted one sized to
// its spectrogram when none is stored or the stored one no longer fits.
func (s *Server) currentMask(rel string, t *track) (*stft.Mask, error) {
	m, err := s.masks.Load(rel)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return stft.NewMaskFor(t.spec.Geometry()), nil
	case err != nil:
		return nil, err
	case !m.Matches(t.spec.Geometry()):
		s.log.Warn("stored mask does not fit spectrogram, starting over", zap.String("track", rel),
			zap.Int("frames", m.Frames()), zap.Int("bins", m.Bins()))
		return stft.NewMaskFor(t.spec.Geometry()), nil
	}
	return m, nil
}

func (s *Server) getMask(c echo.Context) error {
	rel, t, err := s.loadTrack(c)
	if err != nil {
		return err
	}
	m, err := s.currentMask(rel, t)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (s *Server) putMask(c echo.Context) error {
	rel, t, err := s.loadTrack(c)
	if err != nil {
		return err
	}

	m := &stft.Mask{}
	if err := c.Bind(m); err != nil {
		return err
	}
	if !m.Matches(t.spec.Geometry()) {
		return echo.NewHTTPError(http.StatusBadRequest, stft.ErrMaskDimensionMismatch.Error())
	}
	if err := m.Validate(); err != nil {
		return httpError(err)
	}

	s.maskMu.Lock()
	err = s.masks.Save(rel, m)
	s.maskMu.Unlock()
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (s *Server) deleteMask(c echo.Context) error {
	rel, _, err := s.resolve(c)
	if err != nil {
		return err
	}
	s.maskMu.Lock()
	err = s.masks.Delete(rel)
	s.maskMu.Unlock()
	if err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) paintMask(c echo.Context) error {
	rel, t, err := s.loadTrack(c)
	if err != nil {
		return err
	}

	var req PaintRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if !(req.Value >= 0 && req.Value <= 1) {
		return echo.NewHTTPError(http.StatusBadRequest, stft.ErrGainOutOfRange.Error())
	}

	m, err := s.paint(rel, t, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}

// paint applies one stroke to the stored mask. Strokes on the same server
// are serialized so none is lost between load and save.
func (s *Server) paint(rel string, t *track, req PaintRequest) (*stft.Mask, error) {
	s.maskMu.Lock()
	defer s.maskMu.Unlock()

	m, err := s.currentMask(rel, t)
	if err != nil {
		return nil, err
	}
	m.PaintLine(req.From[0], req.From[1], req.To[0], req.To[1], req.Value)

	if err := s.masks.Save(rel, m); err != nil {
		return nil, err
	}
	return m, nil
}

// render resynthesizes the track through its stored mask as a WAV file.
func (s *Server) render(c echo.Context) error {
	rel, t, err := s.loadTrack(c)
	if err != nil {
		return err
	}

	m, err := s.masks.Load(rel)
	if err != nil {
		return httpError(err)
	}

	out, err := t.spec.ResynthesizeContext(c.Request().Context(), t.signal.Samples, m)
	if err != nil {
		return httpError(err)
	}

	var buf bytes.Buffer
	if err := audio.WriteWAV(&buf, out, t.signal.SampleRate); err != nil {
		return httpError(err)
	}
	return c.Blob(http.StatusOK, "audio/wav", buf.Bytes())
}
