package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/egoworld/clippipe/internal/config"
	"github.com/egoworld/clippipe/internal/manifest"
	"github.com/egoworld/clippipe/internal/operator/ffprobe"
	"github.com/egoworld/clippipe/internal/operator/scenedetect"
)

// MakeManifestOptions holds flags for the make-manifest command.
type MakeManifestOptions struct {
	*RootOptions
	ConfigPath string
	InputDir   string
	Glob       string
	OutputDir  string
	Split      string
}

// NewMakeManifestCommand creates the make-manifest command: probe every
// video under --input-dir, detect scenes, and write video_manifest.jsonl
// and clip_manifest.jsonl to --output-dir, per spec.md §6.
func NewMakeManifestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MakeManifestOptions{RootOptions: rootOpts, Glob: "*.mp4"}

	cmd := &cobra.Command{
		Use:   "make-manifest",
		Short: "Build video and clip manifests from a directory of source videos",
		Long: `make-manifest probes every video matching --glob under --input-dir with
ffprobe, splits each into clips via the configured scene-detection method,
and writes video_manifest.jsonl and clip_manifest.jsonl to --output-dir.

Example:
  clippipe make-manifest --config ./pipeline.yaml --input-dir ./data/raw --output-dir ./manifests`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr(), Verbose: opts.Verbose}
			return formatter.EmitExitError(runMakeManifest(opts, cmd, formatter))
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to pipeline config (YAML or JSON, required)")
	cmd.Flags().StringVar(&opts.InputDir, "input-dir", "", "directory of source videos (required)")
	cmd.Flags().StringVar(&opts.Glob, "glob", "*.mp4", "glob pattern for source videos within --input-dir")
	cmd.Flags().StringVar(&opts.OutputDir, "output-dir", "", "directory to write the manifests into (required)")
	cmd.Flags().StringVar(&opts.Split, "split", "train", "split label recorded on every video record")
	_ = cmd.MarkFlagRequired("config")
	_ = cmd.MarkFlagRequired("input-dir")
	_ = cmd.MarkFlagRequired("output-dir")

	return cmd
}

func runMakeManifest(opts *MakeManifestOptions, cmd *cobra.Command, formatter *OutputFormatter) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	paths, err := filepath.Glob(filepath.Join(opts.InputDir, opts.Glob))
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid glob pattern", err)
	}
	if len(paths) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("no videos matched %q under %s", opts.Glob, opts.InputDir))
	}

	inputs := make([]manifest.BuildInput, len(paths))
	for i, p := range paths {
		inputs[i] = manifest.BuildInput{Path: p, Split: opts.Split}
	}

	formatter.VerboseLog("probing %d videos under %s", len(inputs), opts.InputDir)
	videos, clips, err := manifest.BuildManifests(cmd.Context(), inputs, ffprobe.Prober{}, scenedetect.Detector{}, cfg.SceneDetect)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to build manifests", err)
	}

	if err := manifest.WriteVideoManifest(filepath.Join(opts.OutputDir, "video_manifest.jsonl"), videos); err != nil {
		return WrapExitError(ExitFailure, "failed to write video manifest", err)
	}
	if err := manifest.WriteClipManifest(filepath.Join(opts.OutputDir, "clip_manifest.jsonl"), clips); err != nil {
		return WrapExitError(ExitFailure, "failed to write clip manifest", err)
	}

	return formatter.Success(map[string]any{
		"videos":     len(videos),
		"clips":      len(clips),
		"output_dir": opts.OutputDir,
	})
}
