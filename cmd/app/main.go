// CLI for spectrogram analysis, masked resynthesis and the mask editor server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nzoschke/specmask/pkg/analysis"
	"github.com/nzoschke/specmask/pkg/audio"
	"github.com/nzoschke/specmask/pkg/config"
	"github.com/nzoschke/specmask/pkg/logging"
	"github.com/nzoschke/specmask/pkg/server"
	"github.com/nzoschke/specmask/pkg/stft"
	"github.com/nzoschke/specmask/pkg/store"
)

var (
	configFile string
	cfg        *config.Config
	logger     *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "app",
	Short:         "Spectrogram analysis and masked resynthesis",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file|directory>",
	Short: "Analyze audio files and create JSON sidecars",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		return runAnalyze(cmd.Context(), args[0], force)
	},
}

var resynthCmd = &cobra.Command{
	Use:   "resynth <file>",
	Short: "Resynthesize a file through a mask",
	Long: `Resynthesize a file through a time-frequency mask and write a WAV.

The mask comes from --mask (JSON written by the server or a previous run),
--band (a lo:hi pass band in Hz, optionally limited with --from/--to seconds),
or, when neither is given, the mask stored for the file in the mask database.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		maskPath, _ := cmd.Flags().GetString("mask")
		band, _ := cmd.Flags().GetString("band")
		from, _ := cmd.Flags().GetFloat64("from")
		to, _ := cmd.Flags().GetFloat64("to")
		out, _ := cmd.Flags().GetString("out")
		return runResynth(cmd.Context(), args[0], maskPath, band, from, to, out)
	},
}

var roundtripCmd = &cobra.Command{
	Use:   "roundtrip <file>",
	Short: "Resynthesize with a full mask and report reconstruction error",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		return runRoundtrip(cmd.Context(), args[0], out)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the mask editor web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	d := stft.DefaultConfig()

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file (YAML)")
	pf.String("music-dir", "music", "music library directory")
	pf.String("db-path", "", "mask database directory (empty keeps masks in memory)")
	pf.Int("workers", 4, "parallel analysis workers")
	pf.String("log.level", "info", "log level (debug, info, warn, error)")
	pf.Bool("log.development", true, "human readable log output")
	pf.Int("stft.win-size", d.WinSize, "FFT window size, power of two")
	pf.Int("stft.hop-size", d.HopSize, "samples between frames")
	pf.Float64("stft.max-freq-hz", d.MaxFreqHz, "highest frequency kept in the spectrogram")
	pf.Float64("stft.db-range", d.DBRange, "displayed dynamic range in dB")

	analyzeCmd.Flags().BoolP("force", "f", false, "Force re-analysis even if JSON exists")

	resynthCmd.Flags().String("mask", "", "mask JSON file")
	resynthCmd.Flags().String("band", "", "pass band lo:hi in Hz")
	resynthCmd.Flags().Float64("from", 0, "band start in seconds")
	resynthCmd.Flags().Float64("to", 0, "band end in seconds (0 = end of file)")
	resynthCmd.Flags().StringP("out", "o", "", "output WAV (default <file>.masked.wav)")

	roundtripCmd.Flags().StringP("out", "o", "", "also write the reconstruction to this WAV")

	serveCmd.Flags().String("addr", ":8080", "listen address")
	serveCmd.Flags().Int("cache", 8, "analyzed tracks kept in memory")

	rootCmd.AddCommand(analyzeCmd, resynthCmd, roundtripCmd, serveCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig(cmd *cobra.Command) error {
	v, err := config.New(configFile)
	if err != nil {
		return err
	}
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return err
	}
	if cfg, err = config.Load(v); err != nil {
		return err
	}
	if logger, err = logging.New(cfg.Log.Level, cfg.Log.Development); err != nil {
		return err
	}
	if f := v.ConfigFileUsed(); f != "" {
		logger.Debug("using config file", zap.String("file", f))
	}
	return nil
}

func runAnalyze(ctx context.Context, path string, force bool) error {
	a := analysis.New(cfg.STFT, cfg.Workers, logger.Named("analysis"))

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		jsonPath := analysis.SidecarPath(path)
		if _, err := os.Stat(jsonPath); err == nil && !force {
			fmt.Printf("Skipping %s (already analyzed)\n", filepath.Base(path))
			return nil
		}
		ta, err := a.AnalyzeFile(ctx, path)
		if err != nil {
			return err
		}
		if err := ta.WriteJSON(jsonPath); err != nil {
			return fmt.Errorf("write JSON: %w", err)
		}
		fmt.Printf("%s: %.1fs, %d frames x %d bins, peak %.1f dB\n",
			ta.File, ta.Duration, ta.Spectrogram.Frames(), ta.Spectrogram.Bins(), ta.Spectrogram.MaxDB())
		return nil
	}

	start := time.Now()
	sum, err := a.AnalyzeDir(ctx, path, force)
	fmt.Printf("Analyzed %d, skipped %d, failed %d in %v\n",
		sum.Analyzed, sum.Skipped, sum.Failed, time.Since(start).Round(time.Millisecond))
	return err
}

// parseBand parses "lo:hi" in Hz.
func parseBand(s string) (float64, float64, error) {
	lo, hi, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("band %q: want lo:hi", s)
	}
	l, err := strconv.ParseFloat(lo, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("band low: %w", err)
	}
	h, err := strconv.ParseFloat(hi, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("band high: %w", err)
	}
	if h < l {
		return 0, 0, fmt.Errorf("band %q: high below low", s)
	}
	return l, h, nil
}

func loadMaskFile(path string) (*stft.Mask, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m := &stft.Mask{}
	if err := m.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("decode mask %s: %w", path, err)
	}
	return m, nil
}

// storedMask loads the mask the server saved for path, keyed relative to the
// music directory.
func storedMask(path string) (*stft.Mask, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("no --mask or --band given and no db_path configured")
	}
	rel, err := filepath.Rel(cfg.MusicDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("%s is outside the music directory %s", path, cfg.MusicDir)
	}

	masks, err := store.Open(cfg.DBPath, logger.Named("store"))
	if err != nil {
		return nil, err
	}
	defer masks.Close()
	return masks.Load(filepath.ToSlash(rel))
}

func runResynth(ctx context.Context, path, maskPath, band string, from, to float64, out string) error {
	sig, err := audio.LoadMono(path)
	if err != nil {
		return fmt.Errorf("load audio: %w", err)
	}
	geom, err := cfg.STFT.Geometry(len(sig.Samples), sig.SampleRate)
	if err != nil {
		return err
	}

	var mask *stft.Mask
	switch {
	case maskPath != "":
		mask, err = loadMaskFile(maskPath)
	case band != "":
		var lo, hi float64
		if lo, hi, err = parseBand(band); err == nil {
			mask = stft.BandMask(geom, lo, hi, from, to)
		}
	default:
		mask, err = storedMask(path)
	}
	if err != nil {
		return err
	}
	if err := mask.Validate(); err != nil {
		logger.Warn("mask gains outside [0, 1] are applied as is", zap.Error(err))
	}

	samples, err := stft.ResynthesizeContext(ctx, sig.Samples, sig.SampleRate, mask, cfg.STFT)
	if err != nil {
		return err
	}

	if out == "" {
		out = strings.TrimSuffix(path, filepath.Ext(path)) + ".masked.wav"
	}
	if err := audio.WriteWAVFile(out, samples, sig.SampleRate); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	fmt.Printf("Wrote %s (%.1fs, %d frames x %d bins)\n", out, sig.Duration(), geom.Frames, geom.Bins)
	return nil
}

func runRoundtrip(ctx context.Context, path, out string) error {
	sig, err := audio.LoadMono(path)
	if err != nil {
		return fmt.Errorf("load audio: %w", err)
	}

	spec, err := stft.AnalyzeParallel(ctx, sig.Samples, sig.SampleRate, cfg.STFT, cfg.Workers)
	if err != nil {
		return err
	}
	mask := stft.NewMaskFor(spec.Geometry())
	mask.Fill(1)

	recon, err := spec.ResynthesizeContext(ctx, sig.Samples, mask)
	if err != nil {
		return err
	}

	q, err := stft.Compare(sig.Samples, recon)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d frames x %d bins\n", filepath.Base(path), spec.Frames(), spec.Bins())
	fmt.Printf("  MAE:  %.3e\n  Max:  %.3e\n  RMSE: %.3e\n  SNR:  %.1f dB\n", q.MAE, q.MaxAbsError, q.RMSE, q.SNRDB)

	if out != "" {
		return audio.WriteWAVFile(out, recon, sig.SampleRate)
	}
	return nil
}

func runServe(ctx context.Context) error {
	masks, err := store.Open(cfg.DBPath, logger.Named("store"))
	if err != nil {
		return err
	}
	defer masks.Close()

	srv := server.New(cfg, masks, logger.Named("server"))

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}
