package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	cropengine "github.com/khetimitra/crop-engine"
	"github.com/khetimitra/crop-engine/internal/config"
	"github.com/khetimitra/crop-engine/internal/utils"
	"github.com/khetimitra/crop-engine/pkg/analysis"
	"github.com/khetimitra/crop-engine/pkg/processing"
	"github.com/khetimitra/crop-engine/pkg/script"
	"github.com/khetimitra/crop-engine/pkg/types"
)

var (
	canvasFlag  string
	scriptFlag  string
	outFlag     string
	previewFlag string
	formatFlag  string
	qualityFlag int

	kindFlag    string
	backendFlag string
	urlFlag     string
	modelFlag   string

	jobsFlag      int
	recursiveFlag bool
)

// fitCmd prints the letterbox and initial box for an image
var fitCmd = &cobra.Command{
	Use:   "fit IMAGE",
	Short: "Show how an image is letterboxed on a canvas",
	Args:  cobra.ExactArgs(1),
	RunE:  runFit,
}

// cropCmd crops one image
var cropCmd = &cobra.Command{
	Use:   "crop IMAGE",
	Short: "Crop an image, optionally replaying a pointer script",
	Long: `Loads IMAGE (a path, http(s) URL or data URL) onto the canvas, replays the
pointer events from --script if given and saves the selected region.

Without a script the default centered box covering 80% of the canvas is used.`,
	Args: cobra.ExactArgs(1),
	RunE: runCrop,
}

// analyzeCmd crops then diagnoses an image
var analyzeCmd = &cobra.Command{
	Use:   "analyze IMAGE",
	Short: "Crop an image and ask a vision model for a diagnosis",
	Long: `Crops IMAGE like the crop command, then sends the region to a local
vision backend (ollama or llama.cpp) and prints the diagnosis as JSON.

Kinds:
  - disease: leaf and plant diseases or pest damage
  - weed: dominant weed species in the field
  - soil: texture, moisture and visible deficiencies`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

// batchCmd crops every image in a directory
var batchCmd = &cobra.Command{
	Use:   "batch DIR",
	Short: "Crop every image in a directory in parallel",
	Args:  cobra.ExactArgs(1),
	RunE:  runBatch,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configInitCmd = &cobra.Command{
	Use:   "init [PATH]",
	Short: "Write the default configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.GetConfigPath()
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.Default().SaveToFile(path); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "crop-engine %s\n", cropengine.GetVersion())
	},
}

func init() {
	for _, cmd := range []*cobra.Command{fitCmd, cropCmd, analyzeCmd} {
		cmd.Flags().StringVar(&canvasFlag, "canvas", "", "Canvas size WxH (default: the image's natural size)")
	}
	for _, cmd := range []*cobra.Command{cropCmd, analyzeCmd, batchCmd} {
		cmd.Flags().StringVar(&scriptFlag, "script", "", "YAML pointer script to replay before cropping")
	}
	for _, cmd := range []*cobra.Command{cropCmd, batchCmd} {
		cmd.Flags().StringVar(&formatFlag, "format", "", "Output format: jpg|png|webp (default from config)")
		cmd.Flags().IntVar(&qualityFlag, "quality", 0, "Output quality 1-100 (default from config)")
	}

	cropCmd.Flags().StringVarP(&outFlag, "out", "o", "", "Output file (default: <name>_crop.<format> in the output dir)")
	cropCmd.Flags().StringVar(&previewFlag, "preview", "", "Also write the editor frame as PNG")

	analyzeCmd.Flags().StringVarP(&kindFlag, "type", "t", "disease", "Analysis kind: disease|weed|soil")
	analyzeCmd.Flags().StringVar(&backendFlag, "backend", "", "Vision backend: ollama|llamacpp (default from config)")
	analyzeCmd.Flags().StringVar(&urlFlag, "url", "", "Backend server URL (default from config)")
	analyzeCmd.Flags().StringVar(&modelFlag, "model", "", "Model name (default from config)")

	batchCmd.Flags().StringVarP(&outFlag, "out", "o", "", "Output directory (default from config)")
	batchCmd.Flags().IntVarP(&jobsFlag, "jobs", "j", 4, "Images processed in parallel")
	batchCmd.Flags().BoolVarP(&recursiveFlag, "recursive", "r", false, "Descend into subdirectories")

	configCmd.AddCommand(configInitCmd)
}

// parseSize parses "WxH"; an empty string means no explicit size
func parseSize(s string) (types.Size, error) {
	if s == "" {
		return types.Size{}, nil
	}
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return types.Size{}, fmt.Errorf("invalid size %q: want WxH", s)
	}
	width, err := strconv.ParseFloat(strings.TrimSpace(w), 64)
	if err != nil {
		return types.Size{}, fmt.Errorf("invalid width in %q: %w", s, err)
	}
	height, err := strconv.ParseFloat(strings.TrimSpace(h), 64)
	if err != nil {
		return types.Size{}, fmt.Errorf("invalid height in %q: %w", s, err)
	}
	size := types.Size{Width: width, Height: height}
	if !size.Valid() {
		return types.Size{}, fmt.Errorf("invalid size %q: dimensions must be positive", s)
	}
	return size, nil
}

// applyOutputFlags overrides the configured encoder settings
func applyOutputFlags(c *config.Config) error {
	if formatFlag != "" {
		f, err := processing.NormalizeFormat(formatFlag)
		if err != nil {
			return err
		}
		c.Output.Format = f
	}
	if qualityFlag != 0 {
		c.Output.Quality = qualityFlag
	}
	return c.Validate()
}

// loadScript reads --script when set
func loadScript() (*script.Script, error) {
	if scriptFlag == "" {
		return nil, nil
	}
	return script.LoadFile(scriptFlag)
}

// prepare builds an engine, loads the image and replays the script
func prepare(ctx context.Context, src string) (*cropengine.Engine, error) {
	canvas, err := parseSize(canvasFlag)
	if err != nil {
		return nil, err
	}
	s, err := loadScript()
	if err != nil {
		return nil, err
	}
	if canvas == (types.Size{}) && s != nil {
		canvas = s.Canvas
	}

	engine, err := cropengine.NewWithConfig(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := engine.Load(ctx, src, canvas); err != nil {
		return nil, err
	}
	if err := engine.Replay(s); err != nil {
		return nil, err
	}
	return engine, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runFit(cmd *cobra.Command, args []string) error {
	engine, err := prepare(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	session := engine.Session()
	return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
		"image":  session.Source().Info(),
		"canvas": session.Canvas(),
		"fit":    session.Fit(),
		"box":    session.Box(),
	})
}

// cropOutputFormat reconciles --format with the extension of --out. An
// explicit format must agree with the extension; otherwise the extension
// picks the format.
func cropOutputFormat(out, format string) (string, error) {
	ext := utils.GetFileExtension(out)
	if ext == "" {
		return format, nil
	}
	fromExt, err := processing.NormalizeFormat(ext)
	if err != nil {
		return "", fmt.Errorf("--out %s: %w", out, err)
	}
	if format == "" {
		return fromExt, nil
	}
	f, err := processing.NormalizeFormat(format)
	if err != nil {
		return "", err
	}
	if f != fromExt {
		return "", fmt.Errorf("--format %s does not match --out %s", format, out)
	}
	return f, nil
}

func runCrop(cmd *cobra.Command, args []string) error {
	format, err := cropOutputFormat(outFlag, formatFlag)
	if err != nil {
		return err
	}
	formatFlag = format
	if err := applyOutputFlags(cfg); err != nil {
		return err
	}
	engine, err := prepare(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if previewFlag != "" {
		if err := engine.SavePreview(previewFlag); err != nil {
			return err
		}
	}

	out, err := engine.Apply()
	if err != nil {
		return err
	}

	path := outFlag
	if path == "" {
		name := args[0]
		if strings.Contains(name, "://") || strings.HasPrefix(name, "data:") {
			name = "image"
		}
		if err := utils.EnsureDir(cfg.Output.OutputDir); err != nil {
			return err
		}
		path = utils.CropOutputPath(name, cfg.Output.OutputDir, cfg.Output.Prefix, cfg.Output.Suffix, out.Format)
	}
	if err := cropengine.WriteOutput(out, path); err != nil {
		return err
	}

	logger.Info("crop saved",
		zap.String("output", path),
		zap.String("size", utils.FormatFileSize(int64(len(out.Data)))))
	return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
		"output":      path,
		"box":         engine.Box(),
		"source_rect": out.SourceRect,
	})
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	kind, err := analysis.ParseKind(kindFlag)
	if err != nil {
		return err
	}

	if backendFlag != "" {
		cfg.Vision.Backend = backendFlag
	}
	if urlFlag != "" {
		cfg.Vision.URL = urlFlag
	}
	if modelFlag != "" {
		cfg.Vision.Model = modelFlag
	}

	vision, err := cropengine.NewVisionClient(cfg.Vision)
	if err != nil {
		return err
	}

	engine, err := prepare(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	logger.Info("analyzing",
		zap.String("backend", vision.Name()),
		zap.String("model", cfg.Vision.Model),
		zap.String("kind", string(kind)))
	d, err := engine.Analyze(cmd.Context(), analysis.New(vision), kind)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), d)
}

func runBatch(cmd *cobra.Command, args []string) error {
	dir := args[0]
	if !utils.DirExists(dir) {
		return fmt.Errorf("%s is not a directory", dir)
	}
	if err := applyOutputFlags(cfg); err != nil {
		return err
	}
	outDir := outFlag
	if outDir == "" {
		outDir = cfg.Output.OutputDir
	}

	s, err := loadScript()
	if err != nil {
		return err
	}
	files, err := utils.ListImageFiles(dir, recursiveFlag)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no images found in %s", dir)
	}

	outputs, err := cropAll(cmd.Context(), cfg, logger, files, outDir, s, jobsFlag)
	if err != nil {
		return err
	}
	for _, p := range outputs {
		fmt.Fprintln(cmd.OutOrStdout(), p)
	}
	return nil
}

// cropAll crops files with up to jobs workers. Each worker uses its own
// engine because a crop session is single-threaded. Output paths are
// assigned up front so inputs sharing a base name never overwrite each
// other. The first failure cancels the remaining work.
func cropAll(ctx context.Context, c *config.Config, log *zap.Logger, files []string, outDir string, s *script.Script, jobs int) ([]string, error) {
	if jobs < 1 {
		jobs = 1
	}
	format, err := processing.NormalizeFormat(c.Output.Format)
	if err != nil {
		return nil, err
	}
	if err := utils.EnsureDir(outDir); err != nil {
		return nil, err
	}

	outputs := make([]string, len(files))
	for i, file := range files {
		outputs[i] = utils.CropOutputPath(file, outDir, c.Output.Prefix, c.Output.Suffix, format)
	}
	outputs = utils.UniquePaths(outputs)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)

	for i, file := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			engine, err := cropengine.NewWithConfig(c, log.With(zap.String("file", filepath.Base(file))))
			if err != nil {
				return err
			}
			if err := engine.CropFile(file, outputs[i], s); err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	log.Info("batch complete", zap.Int("images", len(files)), zap.String("output_dir", outDir))
	return outputs, nil
}
