package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/rescale/megadl/internal/api"
	"github.com/rescale/megadl/internal/config"
	"github.com/rescale/megadl/internal/constants"
	"github.com/rescale/megadl/internal/diskspace"
	"github.com/rescale/megadl/internal/events"
	ihttp "github.com/rescale/megadl/internal/http"
	"github.com/rescale/megadl/internal/logging"
	"github.com/rescale/megadl/internal/megalink"
	"github.com/rescale/megadl/internal/progress"
	"github.com/rescale/megadl/internal/sink"
	"github.com/rescale/megadl/internal/transfer"
	"github.com/rescale/megadl/internal/util/sanitize"
	"github.com/rescale/megadl/internal/validation"
)

// downloadFlags holds the download command's flag values.
type downloadFlags struct {
	outputDir     string
	name          string
	sink          string
	maxConcurrent int
	retries       int
	overwrite     bool
	noDiskCheck   bool
	input         string
}

func newDownloadCmd() *cobra.Command {
	var flags downloadFlags

	cmd := &cobra.Command{
		Use:   "download [link...]",
		Short: "Download and decrypt one or more Mega file links",
		Long: `Download public Mega.nz file links, decrypting while streaming.

Each link is resolved, its encrypted body streamed, decrypted and written
to the selected sink. Output is named after the file id unless --name is
given (single link only). Existing local files are not replaced without
--overwrite. Links can also be read from a file with --input, one per
line ("-" reads standard input); repeated file ids are downloaded once.

Sinks:
  file   local directory (--output-dir, default ".")
  s3     s3_bucket / s3_prefix from the config file
  azure  azure_container_url (with SAS token) / azure_prefix

Examples:
  megadl download 'https://mega.nz/file/abcd1234#KEY'
  megadl download -o ~/Downloads --max-concurrent 4 LINK1 LINK2 LINK3
  megadl download --sink s3 --retries 2 LINK
  megadl download -i links.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			links, err := collectLinks(args, flags.input, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if len(links) == 0 {
				return fmt.Errorf("at least one link is required")
			}

			cfg, err := loadConfig(flags.outputDir, flags.sink, flags.maxConcurrent, retriesOverride(cmd))
			if err != nil {
				return err
			}
			if flags.noDiskCheck {
				cfg.CheckDiskSpace = false
			}

			d, err := newDownloader(cfg, flags, GetLogger())
			if err != nil {
				return err
			}
			return d.run(GetContext(), links)
		},
	}

	cmd.Flags().StringVarP(&flags.outputDir, "output-dir", "o", "", "Output directory for the file sink")
	cmd.Flags().StringVar(&flags.name, "name", "", "Output file or object name (single link only; default: file id)")
	cmd.Flags().StringVar(&flags.sink, "sink", "", "Output sink: file, s3 or azure (overrides config)")
	cmd.Flags().IntVar(&flags.maxConcurrent, "max-concurrent", 0, fmt.Sprintf("Links downloaded in parallel (%d-%d)", constants.MinMaxConcurrent, constants.MaxMaxConcurrent))
	cmd.Flags().IntVar(&flags.retries, "retries", 0, "Restart a download from scratch up to N times after a transient failure")
	cmd.Flags().BoolVar(&flags.overwrite, "overwrite", false, "Replace existing local files")
	cmd.Flags().BoolVar(&flags.noDiskCheck, "no-disk-check", false, "Skip the free disk space check")
	cmd.Flags().StringVarP(&flags.input, "input", "i", "", `Read links from a file, one per line ("-" for stdin)`)

	return cmd
}

// retriesOverride returns --retries when it was given explicitly, so that
// --retries 0 can switch off restarts set in the config file, and -1 otherwise.
func retriesOverride(cmd *cobra.Command) int {
	if !cmd.Flags().Changed("retries") {
		return -1
	}
	n, err := cmd.Flags().GetInt("retries")
	if err != nil {
		return -1
	}
	return n
}

// collectLinks cleans the command-line links and appends those read from input.
func collectLinks(args []string, input string, stdin io.Reader) ([]string, error) {
	links := make([]string, 0, len(args))
	for _, arg := range args {
		if link := sanitize.Link(arg); link != "" {
			links = append(links, link)
		}
	}
	if input == "" {
		return links, nil
	}

	r := stdin
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			return nil, fmt.Errorf("failed to open link list: %w", err)
		}
		defer f.Close()
		r = f
	}
	listed, err := sanitize.Links(r)
	if err != nil {
		return nil, err
	}
	return append(links, listed...), nil
}

// dedupe drops links naming a file id seen earlier in the batch; they
// would all write the same output. Unparseable links are kept so the
// download reports them.
func dedupe(links []string, logger *logging.Logger) []string {
	seen := make(map[megalink.FileID]bool, len(links))
	unique := links[:0:0]
	for _, link := range links {
		id, _, err := megalink.Parse(link)
		if err == nil {
			if seen[id] {
				logger.Warn().Str("file_id", string(id)).Msg("Skipping repeated link")
				continue
			}
			seen[id] = true
		}
		unique = append(unique, link)
	}
	return unique
}

// downloader runs a batch of links against one configuration.
type downloader struct {
	cfg       *config.Config
	fetcher   transfer.MetadataFetcher
	source    transfer.Source
	name      string
	overwrite bool
	logger    *logging.Logger

	// out receives plain-text progress when terminal is false.
	out      io.Writer
	terminal bool // stderr can draw progress bars

	httpClient *http.Client

	s3Once   sync.Once
	s3Client sink.PutObjectAPI
	s3Err    error

	azureOnce      sync.Once
	azureClient    sink.UploadStreamAPI
	azureContainer string
	azureErr       error
}

func newDownloader(cfg *config.Config, flags downloadFlags, logger *logging.Logger) (*downloader, error) {
	if ihttp.NeedsProxyPassword(cfg) {
		return nil, fmt.Errorf("proxy mode %s requires MEGADL_PROXY_PASSWORD", cfg.ProxyMode)
	}

	client, err := api.NewClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	httpClient, err := ihttp.CreateDownloadClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create download client: %w", err)
	}

	return &downloader{
		cfg:        cfg,
		fetcher:    client,
		source:     transfer.NewHTTPSource(httpClient),
		name:       flags.name,
		overwrite:  flags.overwrite,
		logger:     logger,
		out:        os.Stdout,
		terminal:   progress.IsTerminal(os.Stderr),
		httpClient: httpClient,
	}, nil
}

// run downloads links with at most cfg.MaxConcurrent in flight and
// returns an error summarising any failures.
func (d *downloader) run(ctx context.Context, links []string) error {
	links = dedupe(links, d.logger)
	if len(links) == 0 {
		return fmt.Errorf("at least one link is required")
	}
	if d.name != "" && len(links) > 1 {
		return fmt.Errorf("--name can only be used with a single link")
	}

	bus := events.NewEventBus(constants.EventBusDefaultBuffer)
	var logged sync.WaitGroup
	logged.Add(1)
	go func() {
		defer logged.Done()
		d.logEvents(bus.Subscribe(events.EventStateChange, events.EventRetry))
	}()
	defer func() {
		bus.Close()
		logged.Wait()
	}()

	// A single link on a terminal gets a plain progress bar from downloadOne.
	var ui progress.ProgressUI
	switch {
	case !d.terminal:
		ui = progress.NewTextUI(len(links), d.out)
	case len(links) > 1:
		ui = progress.NewDownloadUI(len(links))
	}

	d.logger.Info().Int("count", len(links)).Str("sink", d.cfg.Sink).Msg("Starting download")

	semaphore := make(chan struct{}, d.cfg.MaxConcurrent)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var failed []error

	for i, link := range links {
		wg.Add(1)
		go func(idx int, link string) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if err := d.downloadOne(ctx, idx, len(links), link, ui, bus); err != nil {
				mu.Lock()
				failed = append(failed, err)
				mu.Unlock()
			}
		}(i, link)
	}
	wg.Wait()
	if ui != nil {
		ui.Wait()
	}

	if len(failed) == 0 {
		return nil
	}
	for _, err := range failed {
		d.logger.Error().Err(err).Msg("Download failed")
	}
	if len(links) == 1 {
		return failed[0]
	}
	return fmt.Errorf("%d of %d downloads failed", len(failed), len(links))
}

func (d *downloader) downloadOne(ctx context.Context, idx, total int, link string, ui progress.ProgressUI, bus *events.EventBus) error {
	// Parse up front for the progress label; the session parses again.
	id, _, err := megalink.Parse(link)
	if err != nil {
		return &transfer.PhaseError{Phase: transfer.PhaseParse, Err: err}
	}

	out := &output{open: d.openSink}

	var (
		hook     transfer.ProgressFunc
		bar      progress.FileBarHandle
		reporter progress.Reporter
	)
	if ui != nil {
		bar = ui.AddFileBar(idx+1, string(id), d.destination(id))
		hook = progress.BarHook(bar)
	} else {
		reporter = progress.NewCLIProgress()
		hook = progress.Hook(reporter, string(id))
	}

	retry := ihttp.Config{
		MaxRetries:   d.cfg.MaxRetries + 1,
		InitialDelay: constants.SessionRetryInitialDelay,
		MaxDelay:     constants.SessionRetryMaxDelay,
		OnRetry: func(attempt int, err error, errType ihttp.ErrorType) {
			if bar != nil {
				bar.SetRetry(attempt)
			}
		},
	}

	s, err := transfer.Download(ctx, link, transfer.Options{
		Fetcher:  d.fetcher,
		Source:   d.source,
		Sink:     out.opener(ctx),
		Progress: hook,
		Events:   bus,
		Logger:   d.logger,
	}, retry)
	location, err := out.finish(err)

	switch {
	case bar != nil:
		bar.Complete(err)
	case err != nil:
		reporter.Error(err)
	default:
		reporter.Finish()
	}

	if err != nil {
		return err
	}
	d.logger.Info().Str("file_id", string(id)).Int64("bytes", s.BytesWritten()).
		Str("location", location).Msgf("Downloaded [%d/%d]", idx+1, total)
	return nil
}

// destination describes where a file id will be written, for progress labels.
func (d *downloader) destination(id megalink.FileID) string {
	name := d.name
	if name == "" {
		name = string(id)
	}
	switch d.cfg.Sink {
	case config.SinkS3:
		return "s3://" + d.cfg.S3Bucket + "/" + sink.ObjectKey(d.cfg.S3Prefix, name)
	case config.SinkAzure:
		return sink.ObjectKey(d.cfg.AzurePrefix, name)
	default:
		if d.cfg.OutputDir == "" {
			return name
		}
		return d.cfg.OutputDir + string(os.PathSeparator) + name
	}
}

// openSink creates the configured sink for id once its size is known.
// retry is set when an earlier attempt already created the output.
func (d *downloader) openSink(ctx context.Context, id megalink.FileID, size int64, retry bool) (sink.Sink, error) {
	switch d.cfg.Sink {
	case config.SinkS3:
		key, err := d.objectName(d.cfg.S3Prefix, id)
		if err != nil {
			return nil, err
		}
		client, err := d.s3()
		if err != nil {
			return nil, err
		}
		return sink.NewS3(ctx, client, d.cfg.S3Bucket, key, size), nil

	case config.SinkAzure:
		blob, err := d.objectName(d.cfg.AzurePrefix, id)
		if err != nil {
			return nil, err
		}
		client, container, err := d.azure()
		if err != nil {
			return nil, err
		}
		return sink.NewAzure(ctx, client, container, blob), nil

	default:
		path, err := validation.OutputPath(d.cfg.OutputDir, d.name, string(id))
		if err != nil {
			return nil, fmt.Errorf("invalid output name: %w", err)
		}
		if d.cfg.CheckDiskSpace {
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return nil, fmt.Errorf("failed to create output directory: %w", err)
			}
			if err := diskspace.CheckAvailableSpace(path, size, 1+constants.DiskSpaceBufferPercent); err != nil {
				return nil, err
			}
		}
		// A restart replaces the partial output of the previous attempt.
		return sink.NewFile(path, d.overwrite || retry)
	}
}

func (d *downloader) objectName(prefix string, id megalink.FileID) (string, error) {
	name := d.name
	if name == "" {
		name = string(id)
	}
	if err := validation.ValidateFilename(name); err != nil {
		return "", fmt.Errorf("invalid output name: %w", err)
	}
	return sink.ObjectKey(prefix, name), nil
}

func (d *downloader) s3() (sink.PutObjectAPI, error) {
	d.s3Once.Do(func() {
		if d.s3Client != nil {
			return
		}
		var client *s3.Client
		client, d.s3Err = sink.NewS3Client(context.Background(), sink.S3Options{
			Region:          d.cfg.S3Region,
			Endpoint:        d.cfg.S3Endpoint,
			AccessKeyID:     d.cfg.S3AccessKeyID,
			SecretAccessKey: d.cfg.S3SecretAccessKey,
			HTTPClient:      d.httpClient,
		})
		if d.s3Err == nil {
			d.s3Client = client
		}
	})
	return d.s3Client, d.s3Err
}

func (d *downloader) azure() (sink.UploadStreamAPI, string, error) {
	d.azureOnce.Do(func() {
		if d.azureClient != nil {
			return
		}
		c, err := sink.ParseContainerURL(d.cfg.AzureContainerURL)
		if err != nil {
			d.azureErr = err
			return
		}
		var client *azblob.Client
		client, d.azureErr = sink.NewAzureClient(c, d.httpClient)
		if d.azureErr == nil {
			d.azureClient = client
			d.azureContainer = c.Container
		}
	})
	return d.azureClient, d.azureContainer, d.azureErr
}

// logEvents reports session events at debug level until ch is closed.
func (d *downloader) logEvents(ch <-chan events.Event) {
	for ev := range ch {
		switch e := ev.(type) {
		case *events.StateChangeEvent:
			d.logger.Debug().Str("file_id", e.FileID).Str("from", e.From).
				Str("to", e.To).AnErr("cause", e.Err).Msg("state change")
		case *events.RetryEvent:
			d.logger.Debug().Str("file_id", e.FileID).Int("attempt", e.Attempt).
				AnErr("cause", e.Err).Msg("retry")
		}
	}
}

// output tracks the sink of the current attempt so it can be committed
// or aborted once the download finishes.
type output struct {
	open func(ctx context.Context, id megalink.FileID, size int64, retry bool) (sink.Sink, error)

	mu      sync.Mutex
	current sink.Sink
	opens   int
}

func (o *output) opener(ctx context.Context) transfer.SinkOpener {
	return func(id megalink.FileID, size int64) (io.Writer, error) {
		o.mu.Lock()
		defer o.mu.Unlock()

		if o.current != nil {
			_ = o.current.Abort()
			o.current = nil
		}
		s, err := o.open(ctx, id, size, o.opens > 0)
		o.opens++
		if err != nil {
			return nil, err
		}
		o.current = s
		return s, nil
	}
}

// finish commits the sink after a successful download and aborts it
// otherwise. A failed commit turns success into a sink error.
func (o *output) finish(runErr error) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current == nil {
		return "", runErr
	}
	location := o.current.Location()
	if runErr != nil {
		_ = o.current.Abort()
		return location, runErr
	}
	if err := o.current.Close(); err != nil {
		return location, fmt.Errorf("%w: %w", transfer.ErrSink, err)
	}
	return location, nil
}
