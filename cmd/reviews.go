package cmd

import (
	"context"
	"io"

	"github.com/boostorg/boost-archives/internal/config"
	"github.com/boostorg/boost-archives/internal/reviews"
	"github.com/boostorg/boost-archives/pkg/helper"
	"github.com/boostorg/boost-archives/pkg/logger"
	"github.com/spf13/cobra"
)

type reviewOptions struct {
	dryRun      bool
	dryRunUsers bool
	url         string
}

var reviewOpts reviewOptions

var ImportReviewsCmd = &cobra.Command{
	Use:   "import-reviews",
	Short: "Import the Boost formal review schedule",
	Long:  `Imports upcoming and past Boost library reviews from the boost.org review schedule page.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		log := logger.NewLogger("reviews")
		return helper.Guard(log, cmd.Name(), func() error {
			return runImportReviews(ctx, Cfg, reviewOpts, cmd.OutOrStdout(), log)
		})
	},
}

func init() {
	ImportReviewsCmd.Flags().BoolVar(&reviewOpts.dryRun, "dry-run", false, "parse the data but don't save to the database")
	ImportReviewsCmd.Flags().BoolVar(&reviewOpts.dryRunUsers, "dry-run-users", false, "save reviews, but don't link people")
	ImportReviewsCmd.Flags().StringVar(&reviewOpts.url, "url", "", "review schedule page (overrides config file)")
	RootCmd.AddCommand(ImportReviewsCmd)
}

func runImportReviews(ctx context.Context, cfg *config.Config, opts reviewOptions, out io.Writer, log *logger.Logger) error {
	url := cfg.Reviews.URL
	if opts.url != "" {
		url = opts.url
	}

	var store *reviews.Store
	if !opts.dryRun {
		db, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		store = reviews.NewStore(db, log)
	}

	_, err := reviews.NewImporter(newHTTPClient(cfg), store, url, out, log).
		Run(ctx, reviews.Options{DryRun: opts.dryRun, DryRunUsers: opts.dryRunUsers})
	return err
}
