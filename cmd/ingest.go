package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/post-archiver/internal/archive"
)

// newIngestCmd creates the 'ingest' subcommand, which archives posts by shortcode.
func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <shortcode>...",
		Short: "Archives individual posts by shortcode",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runIngestCommand,
	}
}

func runIngestCommand(cmd *cobra.Command, shortcodes []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()

	var errs []error
	for _, shortcode := range shortcodes {
		post, err := appInstance.IngestShortcode(cmd.Context(), shortcode)
		if err != nil {
			if errors.Is(err, archive.ErrPostNotFound) {
				logger.Warn("post not found", zap.String("shortcode", shortcode))
			}
			errs = append(errs, fmt.Errorf("%s: %w", shortcode, err))
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d items\n", post.Shortcode, post.Username, len(post.Items))
	}
	return errors.Join(errs...)
}
