package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/egoworld/clippipe/internal/clip"
	"github.com/egoworld/clippipe/internal/columnar"
	"github.com/egoworld/clippipe/internal/compute"
	"github.com/egoworld/clippipe/internal/config"
	"github.com/egoworld/clippipe/internal/driver"
	"github.com/egoworld/clippipe/internal/manifest"
	"github.com/egoworld/clippipe/internal/operator"
	"github.com/egoworld/clippipe/internal/operator/fixture"
	"github.com/egoworld/clippipe/internal/retry"
	"github.com/egoworld/clippipe/internal/store"
	"github.com/egoworld/clippipe/internal/writer"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath  string
	ManifestDir string
	OutputDir   string
	StateDBPath string
	Smoke       bool // accepted but not consulted: buildChains always wires the fixture operators
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the clip perception pipeline to completion or the first unrecoverable error",
		Long: `run loads a pipeline config and a pair of video/clip manifests, admits
every clip into the state store, resumes anything not already Done, and
drives each clip through the compute -> write -> done pipeline with
backpressure and retry.

Example:
  clippipe run --config ./pipeline.yaml --manifest-dir ./manifests --output-dir ./output`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr(), Verbose: opts.Verbose}
			return formatter.EmitExitError(runPipeline(opts, cmd, formatter))
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to pipeline config (YAML or JSON, required)")
	cmd.Flags().StringVar(&opts.ManifestDir, "manifest-dir", "", "directory containing video_manifest.jsonl and clip_manifest.jsonl (required)")
	cmd.Flags().StringVar(&opts.OutputDir, "output-dir", "", "directory to write run artifacts into; overrides the config's paths.output_root when set")
	cmd.Flags().StringVar(&opts.StateDBPath, "state-db", "", "path to the state store SQLite file; overrides the config's paths.state_db_path when set")
	cmd.Flags().BoolVar(&opts.Smoke, "smoke", false, "use deterministic fixture operators (no GPU/checkpoints required); fixture operators are currently used with or without this flag")
	_ = cmd.MarkFlagRequired("config")
	_ = cmd.MarkFlagRequired("manifest-dir")

	return cmd
}

func runPipeline(opts *RunOptions, cmd *cobra.Command, formatter *OutputFormatter) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	cfg = cfg.Resolved()

	outputRoot := cfg.Paths.OutputRoot
	if opts.OutputDir != "" {
		outputRoot = opts.OutputDir
	}
	stateDBPath := cfg.Paths.StateDBPath
	if opts.StateDBPath != "" {
		stateDBPath = opts.StateDBPath
	}

	slog.Info("loading manifests", "dir", opts.ManifestDir)
	videoRecords, err := manifest.LoadVideoManifest(filepath.Join(opts.ManifestDir, "video_manifest.jsonl"))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load video manifest", err)
	}
	clipRecords, err := manifest.LoadClipManifest(filepath.Join(opts.ManifestDir, "clip_manifest.jsonl"))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load clip manifest", err)
	}

	pathsByVideoID := make(map[string]string, len(videoRecords))
	for _, v := range videoRecords {
		pathsByVideoID[v.VideoID] = v.Path
	}

	clips := make([]clip.Clip, 0, len(clipRecords))
	clipIDs := make([]string, 0, len(clipRecords))
	videoIDs := make([]string, 0, len(clipRecords))
	for _, c := range clipRecords {
		clips = append(clips, c.ToClip(pathsByVideoID[c.VideoID]))
		clipIDs = append(clipIDs, c.ClipID)
		videoIDs = append(videoIDs, c.VideoID)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	now := time.Now()

	runManifest, err := manifest.BuildRunManifest(cfg, clipIDs, now)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to build run manifest", err)
	}
	if err := manifest.WriteRunManifest(outputRoot, runManifest); err != nil {
		return WrapExitError(ExitFailure, "failed to write run manifest", err)
	}
	runID := runManifest.RunID

	slog.Info("opening state store", "path", stateDBPath)
	st, err := store.Open(ctx, stateDBPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open state store", err)
	}
	defer st.Close()

	if err := st.BulkInsertPending(ctx, clipIDs, videoIDs, now); err != nil {
		return WrapExitError(ExitFailure, "failed to admit clips into the state store", err)
	}

	resumable, err := st.GetResumableClips(ctx, store.ResumableStatuses)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list resumable clips", err)
	}
	resumableSet := make(map[string]bool, len(resumable))
	for _, id := range resumable {
		resumableSet[id] = true
	}
	toRun := make([]clip.Clip, 0, len(clips))
	for _, c := range clips {
		if resumableSet[c.ClipID] {
			toRun = append(toRun, c)
		}
	}
	slog.Info("resuming run", "run_id", runID, "total_clips", len(clips), "to_run", len(toRun))

	chains := buildChains(cfg, opts.Smoke)
	pool := compute.New(chains)
	defer pool.Stop()

	wr := writer.New(outputRoot, cfg.Coordinates, columnar.Params{Compression: cfg.Parquet.Compression, RowGroupSize: cfg.Parquet.RowGroupSize})
	wr.Start(ctx)
	defer wr.Stop()

	policy := retry.Policy{MaxRetries: cfg.Retry.MaxRetries, BaseDelay: time.Duration(cfg.Retry.BaseDelayS * float64(time.Second)), Backoff: cfg.Retry.Backoff}
	d := driver.New(st, pool, wr, policy, retry.RealClock{}, *cfg.Backpressure.MaxInFlightGPU, *cfg.Backpressure.MaxInFlightWrite, runID)

	summary, err := d.Run(ctx, toRun)
	if err != nil {
		return WrapExitError(ExitFailure, "pipeline run failed", err)
	}

	return formatter.Success(map[string]any{
		"run_id": runID,
		"done":   summary.Done,
		"failed": summary.Failed,
	})
}

// buildChains constructs one operator.Chain per configured GPU worker.
// SAM2/HaMeR/FoundationPose/DexRetarget model wrappers are out of
// scope, so every chain runs the deterministic fixtures regardless of
// --smoke; the flag and this switch are kept so a future real wrapper
// only has to change this function, not the Driver or CLI surface
// above it.
func buildChains(cfg config.Pipeline, smoke bool) []operator.Chain {
	n := cfg.NumGPUs
	if n < 1 {
		n = 1
	}
	chains := make([]operator.Chain, n)
	for i := range chains {
		chains[i] = operator.Chain{
			Segmentation: fixture.Segmentation{FPS: 30},
			HandPose:     fixture.HandPose{FPS: 30, DimsN: 6},
			ObjectPose:   fixture.ObjectPose{FPS: 30, DimsN: 7},
			Retargeting:  fixture.Retargeting{},
		}
	}
	return chains
}
