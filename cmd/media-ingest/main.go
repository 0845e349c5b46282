package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/media-ingest/internal/config"
	"github.com/fpang/media-ingest/internal/hashing"
	"github.com/fpang/media-ingest/internal/ingest"
	"github.com/fpang/media-ingest/internal/logging"
	"github.com/fpang/media-ingest/internal/triage"
	"github.com/fpang/media-ingest/internal/xmp"
)

// CLI flags
var (
	sourceFlag    string
	destFlag      string
	configFlag    string
	clientFlag    string
	jobFlag       string
	hashFlag      string
	verifyFlag    string
	dedupeFlag    bool
	overwriteFlag bool
	backupFlag    string
	noTriageFlag  bool
	bundleFlag    bool
	quietFlag     bool
)

// rootCmd is the main Cobra command for the media-ingest CLI.
var rootCmd = &cobra.Command{
	Use:   "media-ingest",
	Short: "Offload a memory card into a managed project tree with integrity guarantees",
	Long: `media-ingest copies every file from a source (typically a memory card) into
a project folder structure, hashing each file during the copy, skipping
duplicate content, verifying written bytes, and flagging unreadable or
near-black files. The run produces a JSON manifest and an HTML report, and
tells you whether it is safe to format the source.

Examples:
  media-ingest -s /Volumes/CARD01 -d ~/Projects --job smith-wedding
  media-ingest -s /Volumes/CARD01 -d ~/Projects -c studio.toml --verify full
  media-ingest -s /media/card -d /srv/media --backup /mnt/nas/media --bundle`,
	RunE: runMain,
}

func init() {
	rootCmd.Flags().StringVarP(&sourceFlag, "source", "s", "", "Source directory (memory card mount point)")
	rootCmd.Flags().StringVarP(&destFlag, "dest", "d", "", "Destination root for the project tree")
	rootCmd.Flags().StringVarP(&configFlag, "config", "c", "", "Ingest profile (TOML)")
	rootCmd.Flags().StringVar(&clientFlag, "client", "", "CLIENT token value")
	rootCmd.Flags().StringVar(&jobFlag, "job", "", "JOB token value")
	rootCmd.Flags().StringVar(&hashFlag, "hash", "", "Hash algorithm: sha256, sha512, blake3, xxh64")
	rootCmd.Flags().StringVar(&verifyFlag, "verify", "", "Verify mode: none, sentinel, full")
	rootCmd.Flags().BoolVar(&dedupeFlag, "dedupe", true, "Skip writing files whose content was already copied")
	rootCmd.Flags().BoolVar(&overwriteFlag, "overwrite", false, "Overwrite existing destination files")
	rootCmd.Flags().StringVar(&backupFlag, "backup", "", "Mirror copied files to a second destination")
	rootCmd.Flags().BoolVar(&noTriageFlag, "no-triage", false, "Skip the post-copy quality checks")
	rootCmd.Flags().BoolVar(&bundleFlag, "bundle", false, "Pack manifest, report, and triage exports into a zip")
	rootCmd.Flags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress per-file progress output")
	_ = rootCmd.MarkFlagRequired("source")
	_ = rootCmd.MarkFlagRequired("dest")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runMain assembles ingest options from the profile and flags and executes
// the run. Only a fatal precondition failure (or cancellation) produces a
// non-zero exit; per-file failures are reported through the manifest.
func runMain(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	logging.Init()

	cfg, err := config.Load(configFlag)
	if err != nil {
		return err
	}

	opts, err := buildOptions(cfg)
	if err != nil {
		return err
	}

	logging.NewStartupLogger().
		Path("source", opts.Source).
		Path("dest", opts.DestRoot).
		Path("backup", opts.BackupRoot).
		Path("profile", configFlag).
		Feature("dedupe", opts.Dedupe).
		Feature("overwrite", opts.Overwrite).
		Feature("triage", opts.Triage).
		Feature("bundle", opts.Bundle).
		Feature("xmp", !opts.XMP.IsZero()).
		Config("hash", string(opts.Hash)).
		Config("verify", string(opts.Verify)).
		Config("template", opts.Template.Name).
		Log()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manifest, err := ingest.Run(ctx, opts, consoleProgress(quietFlag))
	if err != nil {
		if ingest.IsPrecondition(err) {
			log.Error().Err(err).Msg("Ingest aborted before any file was processed")
			return err
		}
		log.Warn().Err(err).Msg("Ingest cancelled")
	}

	if manifest != nil {
		printSummary(manifest)
	}
	return err
}

// buildOptions merges the profile with command-line overrides; flags win.
func buildOptions(cfg *config.Config) (ingest.Options, error) {
	hashName := cfg.Ingest.Hash
	if hashFlag != "" {
		hashName = hashFlag
	}
	algo, err := hashing.Parse(hashName)
	if err != nil {
		return ingest.Options{}, err
	}

	verifyName := cfg.Ingest.Verify
	if verifyFlag != "" {
		verifyName = verifyFlag
	}
	mode, err := ingest.ParseVerifyMode(verifyName)
	if err != nil {
		return ingest.Options{}, err
	}

	tmpl, err := cfg.FolderTemplate()
	if err != nil {
		return ingest.Options{}, err
	}

	userCtx := map[string]string{}
	if clientFlag != "" {
		userCtx["CLIENT"] = clientFlag
	}
	if jobFlag != "" {
		userCtx["JOB"] = jobFlag
	}

	backup := cfg.Ingest.Backup
	if backupFlag != "" {
		backup = backupFlag
	}

	opts := ingest.Options{
		Source:     sourceFlag,
		DestRoot:   destFlag,
		Template:   tmpl,
		Context:    userCtx,
		Hash:       algo,
		Verify:     mode,
		Dedupe:     dedupeFlag && cfg.Ingest.Dedupe,
		Overwrite:  overwriteFlag || cfg.Ingest.Overwrite,
		BackupRoot: backup,
		Triage:     cfg.Ingest.Triage && !noTriageFlag,
		Bundle:     bundleFlag || cfg.Ingest.Bundle,
		TriageOptions: triage.Options{
			GenericTypes: cfg.Sniff.GenericTypes,
		},
	}

	if cfg.XMP.Enabled {
		opts.XMP = xmp.Patch{
			Creator:      cfg.XMP.Creator,
			Rights:       cfg.XMP.Rights,
			WebStatement: cfg.XMP.WebStatement,
			Credit:       cfg.XMP.Credit,
		}
	}

	return opts, nil
}

// consoleProgress streams progress events to stdout.
func consoleProgress(quiet bool) ingest.ProgressFunc {
	return func(e ingest.Event) {
		switch e.Kind {
		case ingest.EventStart:
			fmt.Printf("Starting ingest run %s\n", e.Message)
		case ingest.EventScanProgress:
			fmt.Printf("Found %d files (%.1f MB)\n", e.TotalFiles, float64(e.TotalBytes)/(1024*1024))
		case ingest.EventCopyProgress:
			if !quiet {
				fmt.Printf("  [%d/%d] %s\n", e.FileIndex, e.TotalFiles, e.Path)
			}
		case ingest.EventDedupeHit:
			if !quiet {
				fmt.Printf("  DUPLICATE %s (matches %s)\n", e.Path, e.Message)
			}
		case ingest.EventVerifyProgress:
			if !quiet {
				fmt.Printf("  verify [%d/%d] %s\n", e.FileIndex, e.TotalFiles, e.Path)
			}
		case ingest.EventBackupStart:
			fmt.Printf("Mirroring to backup: %s\n", e.Path)
		case ingest.EventTriageProgress:
			if !quiet {
				fmt.Printf("  triage [%d/%d]\n", e.FileIndex, e.TotalFiles)
			}
		case ingest.EventTriageDone:
			fmt.Printf("Triage: %d checked, %d unreadable (%.1fs)\n", e.TotalFiles, e.Failed, e.Elapsed.Seconds())
		case ingest.EventReportGenerated:
			fmt.Printf("Report: %s\n", e.Path)
		case ingest.EventDone:
			verdict := "DO NOT FORMAT THE SOURCE"
			if e.SafeToFormat {
				verdict = "Safe to format the source"
			}
			fmt.Printf("Done in %.1fs: %d ok, %d failed. %s\n", e.Elapsed.Seconds(), e.Succeeded, e.Failed, verdict)
		}
	}
}
