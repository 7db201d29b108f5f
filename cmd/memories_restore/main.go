package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	_ "time/tzdata"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"memories_restore/internal/capability"
	"memories_restore/internal/config"
	"memories_restore/internal/fileutil"
	"memories_restore/internal/logger"
	"memories_restore/internal/manifest"
	"memories_restore/internal/service"
)

func init() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found: %v", err)
	}
}

var errStopped = errors.New("stopped by user")

type flags struct {
	configFile string
	manifest   string
	output     string
	workers    int
	retries    int
	resume     bool
	noConvert  bool
	noPortrait bool
	systemTZ   bool
	verbose    bool
}

func main() {
	var f flags
	root := &cobra.Command{
		Use:   "memories_restore [manifest.json]",
		Short: "Download and restore exported memories with their capture metadata",
		Long: `
Download every photo and video listed in a memories export manifest, rebuild
captioned snaps from their overlay archives, normalize videos and embed the
capture time and location into each file.

Settings come from the environment (and a .env file), an optional YAML file
named by --config or CONFIG_FILE, and finally these flags.
`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 && !cmd.Flags().Changed("manifest") {
				os.Setenv("MANIFEST_PATH", args[0])
			}
			applyFlags(cmd, f)
			return run(cmd.Context(), f)
		},
	}

	fl := root.Flags()
	fl.StringVar(&f.configFile, "config", "", "YAML configuration file")
	fl.StringVarP(&f.manifest, "manifest", "m", "", "path to memories_history.json")
	fl.StringVarP(&f.output, "output", "o", "", "output directory")
	fl.IntVarP(&f.workers, "workers", "w", config.DefaultWorkers(), "concurrent downloads")
	fl.IntVarP(&f.retries, "retries", "r", 3, "download attempts per item")
	fl.BoolVar(&f.resume, "resume", false, "skip items whose output already exists and is valid")
	fl.BoolVar(&f.noConvert, "no-convert", false, "keep videos in their original codec")
	fl.BoolVar(&f.noPortrait, "no-portrait", false, "do not rotate landscape videos")
	fl.BoolVar(&f.systemTZ, "system-tz", false, "use this machine's timezone instead of the capture location's")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "print every pipeline step")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()

	switch {
	case errors.Is(err, errStopped):
		os.Exit(130)
	case err != nil:
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// applyFlags exports explicitly set flags as environment variables so they
// take precedence over the environment and the config file.
func applyFlags(cmd *cobra.Command, f flags) {
	set := func(name, key, value string) {
		if cmd.Flags().Changed(name) {
			os.Setenv(key, value)
		}
	}
	set("config", "CONFIG_FILE", f.configFile)
	set("manifest", "MANIFEST_PATH", f.manifest)
	set("output", "OUTPUT_DIR", f.output)
	set("workers", "WORKERS", strconv.Itoa(f.workers))
	set("retries", "MAX_RETRIES", strconv.Itoa(f.retries))
	set("resume", "RESUME", strconv.FormatBool(f.resume))
	set("no-convert", "CONVERT_H264", strconv.FormatBool(!f.noConvert))
	set("no-portrait", "ENFORCE_PORTRAIT", strconv.FormatBool(!f.noPortrait))
	set("system-tz", "USE_SYSTEM_TIMEZONE", strconv.FormatBool(f.systemTZ))
}

func run(ctx context.Context, f flags) error {
	color.NoColor = color.NoColor || !term.IsTerminal(int(os.Stdout.Fd()))

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.ManifestPath = fileutil.SanitizePath(cfg.ManifestPath)
	cfg.OutputDir = fileutil.SanitizePath(cfg.OutputDir)
	if cfg.LogDir != "" {
		cfg.LogDir = fileutil.SanitizePath(cfg.LogDir)
	}

	// Initialize logger with log level
	level := logger.ParseLogLevel(cfg.LogLevel)
	if cfg.LogDir != "" {
		if err := logger.Init(cfg.LogDir, level); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
	} else {
		logger.InitConsole(min(level, logger.LevelWarn))
	}

	caps := capability.Detect(capability.Paths{
		FFmpeg:  cfg.FFmpegPath,
		FFprobe: cfg.FFprobePath,
		VLC:     cfg.VLCPath,
	})
	bold := color.New(color.Bold)
	bold.Println("Conversion tools:")
	fmt.Print(caps.Summary())
	logger.Info.Printf("Capabilities:\n%s", caps.Summary())

	entries, err := manifest.Load(cfg.ManifestPath)
	if err != nil {
		return err
	}
	logger.Info.Printf("Loaded %d item(s) from %s", len(entries), cfg.ManifestPath)

	svc, err := service.NewMemoryService(cfg, caps)
	if err != nil {
		return err
	}

	bold.Printf("Restoring %d memories into %s\n", len(entries), cfg.OutputDir)
	summary := svc.Run(ctx, entries, newConsole(f.verbose).observer())

	printSummary(summary)
	switch summary.State {
	case service.Stopped:
		return errStopped
	case service.CompletedWithErrors:
		return fmt.Errorf("%d item(s) failed", summary.Failed)
	}
	return nil
}
