package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/offerwatch/internal/config"
	"github.com/JakeFAU/offerwatch/internal/notify"
	"github.com/JakeFAU/offerwatch/internal/offer"
	"github.com/JakeFAU/offerwatch/internal/page"
	"github.com/JakeFAU/offerwatch/internal/server"
	"github.com/JakeFAU/offerwatch/internal/watch"
)

// newPageFactory is a variable so tests can serve canned pages.
var newPageFactory = server.NewPageFactory

type checkOptions struct {
	item config.ItemConfig
}

// newCheckCmd creates the 'check' subcommand: one evaluation of one URL,
// printed to stdout. Nothing is persisted and no alert is sent.
func newCheckCmd() *cobra.Command {
	opts := &checkOptions{}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluates a product page once",
		Long: `Loads a product page in a fresh session, runs the offer strategies once
and prints the result. Useful to try selectors and filters before adding an
item to the store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheckCommand(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.item.URL, "url", "", "product page URL")
	cmd.Flags().StringVar(&opts.item.TargetPrice, "target", "", "target price, e.g. 449.99")
	cmd.Flags().StringVar(&opts.item.Name, "name", "", "display name used in the match message")
	cmd.Flags().BoolVar(&opts.item.CheckShipped, "check-shipped", false, "require the platform as shipper")
	cmd.Flags().BoolVar(&opts.item.CheckSold, "check-sold", false, "require the platform as seller")
	_ = cmd.MarkFlagRequired("url")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func runCheckCommand(cmd *cobra.Command, opts *checkOptions) error {
	cfg, logger, err := resolve(cmd.Context())
	if err != nil {
		return err
	}
	decl := opts.item
	decl.ID = "check"
	if decl.Name == "" {
		decl.Name = decl.URL
	}
	item, err := decl.TrackedItem()
	if err != nil {
		return err
	}
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid item: %w", err)
	}

	factory, err := newPageFactory(cfg.Driver)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := factory.Close(); cerr != nil {
			logger.Warn("failed to close page driver", zap.Error(cerr))
		}
	}()

	verdict, err := checkOnce(cmd.Context(), cfg, factory, item, logger)
	if err != nil {
		return err
	}
	return printVerdict(cmd.OutOrStdout(), item, verdict)
}

func checkOnce(ctx context.Context, cfg config.Config, factory page.Factory, item watch.TrackedItem, logger *zap.Logger) (offer.Verdict, error) {
	session, err := factory.NewSession(ctx)
	if err != nil {
		return offer.Verdict{}, fmt.Errorf("open session: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			logger.Warn("failed to close session", zap.Error(cerr))
		}
	}()

	if cfg.Region.Enabled {
		setter, err := server.NewRegionSetter(cfg.Region, logger)
		if err != nil {
			return offer.Verdict{}, err
		}
		if _, err := setter.Ensure(ctx, session); err != nil {
			// A wrong region only skews prices; the reading is still useful.
			logger.Warn("delivery region not applied", zap.Error(err))
		}
	}

	if err := session.Navigate(ctx, item.URL); err != nil {
		return offer.Verdict{}, fmt.Errorf("navigate: %w", err)
	}
	if err := page.Sleep(ctx, cfg.Watcher.SettleDelay); err != nil {
		return offer.Verdict{}, err
	}
	verdict, err := server.NewExtractor(cfg.Extractor, logger).Evaluate(ctx, session, item)
	if err != nil {
		return offer.Verdict{}, fmt.Errorf("evaluate: %w", err)
	}
	return verdict, nil
}

func printVerdict(w io.Writer, item watch.TrackedItem, v offer.Verdict) error {
	var err error
	switch {
	case v.Matched:
		_, err = fmt.Fprintln(w, notify.FormatMatch(item, v.Offer))
	case v.Strategy == "":
		_, err = fmt.Fprintf(w, "no match: %s\n", v.Reason)
	case v.Offer.Price.IsZero():
		_, err = fmt.Fprintf(w, "no match (%s): %s\n", v.Strategy, v.Reason)
	default:
		_, err = fmt.Fprintf(w, "no match (%s): %s at %s, shipped by %q, sold by %q\n",
			v.Strategy, v.Reason, v.Offer.Price.StringFixed(2), v.Offer.ShipsFrom, v.Offer.SoldBy)
	}
	if err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
