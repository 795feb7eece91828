package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rescale/megadl/internal/api"
	"github.com/rescale/megadl/internal/megalink"
	"github.com/rescale/megadl/internal/transfer"
)

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <link>",
		Short: "Resolve a link without downloading it",
		Long: `Parse a Mega file link and fetch its metadata.

Prints the file id, link dialect, declared size and the signed download
URL. Nothing is downloaded and the key is never printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig("", "", 0, -1)
			if err != nil {
				return err
			}
			client, err := api.NewClient(cfg, GetLogger())
			if err != nil {
				return err
			}
			return printInfo(GetContext(), cmd.OutOrStdout(), client, args[0])
		},
	}
}

// printInfo resolves link through fetcher and writes a short report to w.
// Errors are *transfer.PhaseError values like those of a download.
func printInfo(ctx context.Context, w io.Writer, fetcher transfer.MetadataFetcher, link string) error {
	parsed, err := megalink.ParseLink(link)
	if err != nil {
		return &transfer.PhaseError{Phase: transfer.PhaseParse, Err: err}
	}

	info, err := fetcher.GetDownloadInfo(ctx, parsed.ID)
	if err != nil {
		return &transfer.PhaseError{Phase: transfer.PhaseMetadata, FileID: parsed.ID, Err: err}
	}

	fmt.Fprintf(w, "ID:       %s\n", parsed.ID)
	fmt.Fprintf(w, "Dialect:  %s\n", parsed.Dialect())
	fmt.Fprintf(w, "Size:     %d bytes (%.1f MiB)\n", info.Size, float64(info.Size)/(1024*1024))
	fmt.Fprintf(w, "Real URL: %s\n", info.URL)
	return nil
}
