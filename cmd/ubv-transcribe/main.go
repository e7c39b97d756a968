package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ubv/ubv-transcribe/internal/archive"
	"github.com/ubv/ubv-transcribe/internal/chunk"
	"github.com/ubv/ubv-transcribe/internal/config"
	"github.com/ubv/ubv-transcribe/internal/db"
	"github.com/ubv/ubv-transcribe/internal/discovery"
	"github.com/ubv/ubv-transcribe/internal/ledger"
	"github.com/ubv/ubv-transcribe/internal/logging"
	"github.com/ubv/ubv-transcribe/internal/paths"
	"github.com/ubv/ubv-transcribe/internal/proc"
	"github.com/ubv/ubv-transcribe/internal/protect"
	"github.com/ubv/ubv-transcribe/internal/retry"
	"github.com/ubv/ubv-transcribe/internal/scheduler"
	"github.com/ubv/ubv-transcribe/internal/transcode"
	"github.com/ubv/ubv-transcribe/internal/transcribe"
	"github.com/ubv/ubv-transcribe/internal/transcript"
)

// errUnitsFailed makes the process exit non-zero without an extra message;
// the summary already lists the failures.
var errUnitsFailed = errors.New("one or more units failed")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		switch {
		case errors.Is(err, flag.ErrHelp):
			os.Exit(0)
		case errors.Is(err, errUnitsFailed):
			os.Exit(1)
		}
		log.Fatalf("fatal error: %v", err)
	}
}

type options struct {
	discover       bool
	download       bool
	history        bool
	version        bool
	verbose        bool
	startDate      string
	endDate        string
	cameraIDs      []string
	timezone       string
	outputDir      string
	transcriptsDir string
	whisperBin     string
	whisperModel   string
	language       string
	envFile        string
	cleanup        string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	var opts options
	var cameraIDs string

	fs := flag.NewFlagSet("ubv-transcribe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&opts.discover, "discover-footage", false, "find the date range with available footage")
	fs.BoolVar(&opts.download, "download", false, "download, transcode and transcribe hourly chunks")
	fs.BoolVar(&opts.history, "history", false, "print recent runs from the ledger")
	fs.BoolVar(&opts.version, "version", false, "print version and exit")
	fs.BoolVar(&opts.verbose, "verbose", false, "debug logging with per-unit error detail")
	fs.StringVar(&opts.startDate, "start-date", "", "first day to download (YYYY-MM-DD)")
	fs.StringVar(&opts.endDate, "end-date", "", "last day to download, inclusive (defaults to --start-date)")
	fs.StringVar(&cameraIDs, "camera-ids", "", "comma-separated camera ids (default: all cameras)")
	fs.StringVar(&opts.timezone, "timezone", "", "IANA timezone for day and hour boundaries")
	fs.StringVar(&opts.outputDir, "output-dir", "", "directory for downloaded videos")
	fs.StringVar(&opts.transcriptsDir, "transcripts-dir", "", "directory for daily transcript documents")
	fs.StringVar(&opts.whisperBin, "whisper-bin", "", "whisper.cpp binary; transcription is skipped when unset")
	fs.StringVar(&opts.whisperModel, "whisper-model", "", "whisper.cpp ggml model path")
	fs.StringVar(&opts.language, "language", "", "spoken language for whisper (default: auto-detect)")
	fs.StringVar(&opts.envFile, "env-file", "", "load environment variables from this file")
	fs.StringVar(&opts.cleanup, "cleanup", "", "video cleanup policy: always, on-success or never")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	opts.cameraIDs = splitList(cameraIDs)

	if opts.version || opts.history {
		return &opts, nil
	}
	switch {
	case opts.discover && opts.download:
		return nil, errors.New("--discover-footage and --download are mutually exclusive")
	case !opts.discover && !opts.download:
		return nil, errors.New("one of --discover-footage, --download or --history is required")
	case opts.download && opts.startDate == "":
		return nil, errors.New("--download requires --start-date")
	}
	if opts.endDate == "" {
		opts.endDate = opts.startDate
	}
	if opts.cleanup != "" {
		if _, err := scheduler.ParseCleanupPolicy(opts.cleanup); err != nil {
			return nil, err
		}
	}
	return &opts, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" && !strings.EqualFold(p, "all") {
			out = append(out, p)
		}
	}
	return out
}

// app holds what every mode needs once configuration is resolved.
type app struct {
	opts   *options
	cfg    *config.EnvConfig
	logger *slog.Logger
	ledger *ledger.Service
	out    io.Writer
}

func run(args []string, stdout io.Writer) error {
	opts, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}
	if opts.version {
		fmt.Fprintf(stdout, "ubv-transcribe %s (%s)\n", config.Version, config.GitCommit)
		return nil
	}

	cfg, err := config.Load(opts.envFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.LogLevel()
	if opts.verbose {
		level = "debug"
	}
	logger := logging.NewLogger(level, cfg.LogFormat(), os.Stderr)
	if cfg.EnvFile() != "" {
		logger.Debug("loaded env file", "path", logging.SanitizePath(cfg.EnvFile()))
	}

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	a := &app{
		opts:   opts,
		cfg:    cfg,
		logger: logger,
		ledger: ledger.NewService(ledger.NewRepository(database.Conn()), logger),
		out:    stdout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.history {
		return a.printHistory(ctx)
	}

	if err := cfg.RequireCredentials(); err != nil {
		return err
	}
	loc, err := time.LoadLocation(a.timezone())
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", a.timezone(), err)
	}

	client, err := protect.NewHTTPClient(protect.Options{
		Address:    cfg.ProtectAddress(),
		Username:   cfg.ProtectUsername(),
		Password:   cfg.ProtectPassword(),
		VerifySSL:  cfg.ProtectVerifySSL(),
		NotUnifiOS: cfg.ProtectNotUnifiOS(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	logger.Info("connecting to UniFi Protect", "address", cfg.ProtectAddress(), "user", cfg.ProtectUsername())
	if err := client.Login(ctx); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	cameras, err := client.ListCameras(ctx)
	if err != nil {
		return fmt.Errorf("failed to list cameras: %w", err)
	}
	cameras, err = selectCameras(cameras, opts.cameraIDs)
	if err != nil {
		return err
	}

	retrier := a.newRetrier()
	if opts.discover {
		return a.discover(ctx, client, retrier, cameras, loc)
	}
	return a.download(ctx, client, retrier, cameras, loc)
}

func (a *app) timezone() string {
	if a.opts.timezone != "" {
		return a.opts.timezone
	}
	return a.cfg.Timezone()
}

func (a *app) newRetrier() *retry.Retrier {
	policy := retry.DefaultPolicy(protect.Classify)
	policy.MaxAttempts = a.cfg.MaxAttempts()
	policy.BaseDelay = a.cfg.BaseDelay()
	policy.MaxDelay = a.cfg.MaxDelay()
	return retry.New(policy, retry.WithLogger(logging.WithComponent(a.logger, "retry")))
}

// selectCameras keeps the requested cameras in the requested order; an empty
// request keeps every camera in controller order.
func selectCameras(all []chunk.Camera, ids []string) ([]chunk.Camera, error) {
	if len(ids) == 0 {
		if len(all) == 0 {
			return nil, errors.New("controller reports no cameras")
		}
		return all, checkFileNames(all)
	}
	byID := make(map[string]chunk.Camera, len(all))
	for _, c := range all {
		byID[c.ID] = c
	}
	selected := make([]chunk.Camera, 0, len(ids))
	var missing []string
	for _, id := range ids {
		c, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		selected = append(selected, c)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", protect.ErrCameraNotFound, strings.Join(missing, ", "))
	}
	return selected, checkFileNames(selected)
}

// checkFileNames rejects cameras whose names map to the same on-disk name.
// Case is folded for case-insensitive filesystems.
func checkFileNames(cameras []chunk.Camera) error {
	seen := make(map[string]chunk.Camera, len(cameras))
	for _, c := range cameras {
		safe := strings.ToLower(paths.SafeCameraName(c.Name))
		if prev, ok := seen[safe]; ok {
			return fmt.Errorf("cameras %q (%s) and %q (%s) share the file name %q; rename one or narrow --camera-ids",
				prev.Name, prev.ID, c.Name, c.ID, paths.SafeCameraName(c.Name))
		}
		seen[safe] = c
	}
	return nil
}

func cameraIDs(cameras []chunk.Camera) []string {
	ids := make([]string, len(cameras))
	for i, c := range cameras {
		ids[i] = c.ID
	}
	return ids
}

func (a *app) discover(ctx context.Context, prober discovery.Prober, retrier *retry.Retrier, cameras []chunk.Camera, loc *time.Location) error {
	run, err := a.ledger.StartRun(ctx, ledger.RunKindDiscover, ledger.RunParams{
		Timezone:  loc.String(),
		CameraIDs: cameraIDs(cameras),
	})
	if err != nil {
		return err
	}
	logger := logging.WithRunID(a.logger, run.ID)

	d, err := discovery.New(discovery.Config{
		Prober:   prober,
		Retrier:  retrier,
		Location: loc,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	res, runErr := d.Discover(ctx, cameras)
	counts := ledger.RunCounts{Attempted: len(cameras)}
	if res != nil {
		for _, r := range res.Ranges {
			if r.Found() {
				counts.Succeeded++
			}
		}
		counts.Failed = counts.Attempted - counts.Succeeded
	}
	if err := a.ledger.FinishRun(ctx, run, counts, runErr); err != nil {
		logger.Warn("failed to close run", "error", err)
	}
	if runErr != nil {
		return fmt.Errorf("footage discovery failed: %w", runErr)
	}

	renderDiscovery(a.out, res)
	return nil
}

func (a *app) download(ctx context.Context, fetcher scheduler.Fetcher, retrier *retry.Retrier, cameras []chunk.Camera, loc *time.Location) error {
	start, err := chunk.ParseDate(a.opts.startDate, loc)
	if err != nil {
		return err
	}
	end, err := chunk.ParseDate(a.opts.endDate, loc)
	if err != nil {
		return err
	}
	units, err := chunk.Partition(start, end, loc, cameras)
	if err != nil {
		return err
	}

	videosDir := firstNonEmpty(a.opts.outputDir, a.cfg.VideosDir())
	transcriptsDir := firstNonEmpty(a.opts.transcriptsDir, a.cfg.TranscriptsDir())
	for _, dir := range []string{videosDir, transcriptsDir} {
		if err := paths.EnsureDir(dir); err != nil {
			return err
		}
	}
	cleanup, err := scheduler.ParseCleanupPolicy(firstNonEmpty(a.opts.cleanup, a.cfg.Cleanup()))
	if err != nil {
		return err
	}

	whisperBin := firstNonEmpty(a.opts.whisperBin, a.cfg.WhisperBin())
	whisperModel := firstNonEmpty(a.opts.whisperModel, a.cfg.WhisperModel())
	tools := []proc.Tool{{Name: "ffmpeg", Binary: a.cfg.FFmpegPath(), VersionArgs: []string{"-version"}, Required: true}}
	if whisperBin != "" && whisperModel != "" {
		tools = append(tools, proc.Tool{Name: "whisper", Binary: whisperBin, Required: true})
	}
	if _, err := proc.NewDoctor(nil, a.logger).Probe(ctx, tools...); err != nil {
		return err
	}

	run, err := a.ledger.StartRun(ctx, ledger.RunKindDownload, ledger.RunParams{
		StartDate: a.opts.startDate,
		EndDate:   a.opts.endDate,
		Timezone:  loc.String(),
		CameraIDs: cameraIDs(cameras),
	})
	if err != nil {
		return err
	}
	logger := logging.WithRunID(a.logger, run.ID)

	schedCfg := scheduler.Config{
		Fetcher:    fetcher,
		Transcoder: transcode.New(transcode.Config{FFmpegPath: a.cfg.FFmpegPath(), Logger: logger}),
		Recorder:   &ledgerRecorder{ledger: a.ledger, runID: run.ID},
		Retrier:    retrier,
		VideosDir:  videosDir,
		Cleanup:    cleanup,
		Logger:     logger,
	}

	whisper, err := transcribe.New(transcribe.Config{
		Binary:   whisperBin,
		Model:    whisperModel,
		Language: firstNonEmpty(a.opts.language, a.cfg.WhisperLanguage()),
		Logger:   logger,
	})
	switch {
	case errors.Is(err, transcribe.ErrNotConfigured):
		logger.Info("transcription not configured, only downloading and transcoding")
	case err != nil:
		return err
	default:
		schedCfg.Transcriber = whisper
		schedCfg.Merger = transcript.NewStore(transcriptsDir, logger)
	}

	if a.cfg.S3Enabled() && schedCfg.Merger != nil {
		arch, err := archive.NewS3(ctx, archive.Config{
			Bucket:       a.cfg.S3Bucket(),
			Prefix:       a.cfg.S3Prefix(),
			Region:       a.cfg.S3Region(),
			Profile:      a.cfg.S3Profile(),
			UsePathStyle: a.cfg.S3PathStyle(),
			Endpoint:     a.cfg.S3Endpoint(),
			Logger:       logger,
		})
		if err != nil {
			return fmt.Errorf("failed to configure s3 archive: %w", err)
		}
		schedCfg.Publisher = arch
	}

	sched, err := scheduler.New(schedCfg)
	if err != nil {
		return err
	}

	logger.Info("starting download",
		"start_date", a.opts.startDate,
		"end_date", a.opts.endDate,
		"timezone", loc.String(),
		"cameras", len(cameras),
		"units", len(units),
	)
	sum, runErr := sched.Process(ctx, units)

	counts := ledger.RunCounts{
		Attempted:  sum.Attempted,
		Succeeded:  sum.Succeeded,
		Failed:     sum.Failed,
		Duplicates: sum.Duplicates,
	}
	if err := a.ledger.FinishRun(ctx, run, counts, runErr); err != nil {
		logger.Warn("failed to close run", "error", err)
	}

	renderSummary(a.out, sum, a.opts.verbose)
	if runErr != nil {
		return fmt.Errorf("run stopped early: %w", runErr)
	}
	if sum.Failed > 0 {
		return errUnitsFailed
	}
	return nil
}

func (a *app) printHistory(ctx context.Context) error {
	runs, err := a.ledger.History(ctx, 20)
	if err != nil {
		return fmt.Errorf("failed to read run history: %w", err)
	}
	failures := make(map[string][]*ledger.ChunkRecord)
	for _, r := range runs {
		if r.Counts.Failed == 0 || r.Kind != ledger.RunKindDownload {
			continue
		}
		recs, err := a.ledger.Failures(ctx, r.ID)
		if err != nil {
			return fmt.Errorf("failed to read failures of run %s: %w", r.ID, err)
		}
		failures[r.ID] = recs
	}
	renderHistory(a.out, runs, failures, a.opts.verbose)
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
