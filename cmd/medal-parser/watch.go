package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/tom-jm69/cs-medal-parser/engine/notify"
	"github.com/tom-jm69/cs-medal-parser/pkg/config"
	"github.com/tom-jm69/cs-medal-parser/pkg/natsutil"
)

func newWatchCmd(c *cli) *cobra.Command {
	d := config.Defaults()
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Log the run events published to NATS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.watch(cmd.Context())
		},
	}
	cmd.Flags().String("nats-url", d.NATS.URL, "NATS server to subscribe to")
	cmd.Flags().String("nats-subject", d.NATS.Subject, "subject prefix")
	return cmd
}

func (c *cli) watch(parent context.Context) error {
	if c.cfg.NATS.URL == "" {
		return errors.New("watch needs nats.url (or --nats-url)")
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	nc, err := nats.Connect(c.cfg.NATS.URL, nats.Name("medal-parser-watch"))
	if err != nil {
		return err
	}
	defer nc.Close()

	n := notify.New(nc, c.cfg.NATS.Subject, c.log)
	subs := make([]*nats.Subscription, 0, 2)
	sub, err := natsutil.Subscribe(nc, n.OutcomeSubject(), func(_ context.Context, ev notify.OutcomeEvent) {
		o := ev.Outcome
		if o.Succeeded {
			c.log.Info("outcome", "run_id", ev.RunID, "item", o.ItemID, "skipped", o.Skipped, "path", o.OutputPath)
			return
		}
		c.log.Warn("outcome", "run_id", ev.RunID, "item", o.ItemID, "error", o.ErrorDetail)
	})
	if err != nil {
		return err
	}
	subs = append(subs, sub)
	sub, err = natsutil.Subscribe(nc, n.SummarySubject(), func(_ context.Context, ev notify.SummaryEvent) {
		c.log.Info("run summary",
			"run_id", ev.RunID, "classified", ev.Classified,
			"fetched", ev.Fetched(), "skipped", ev.Skipped, "failed", ev.Failed,
			"elapsed_ms", ev.ElapsedMS)
	})
	if err != nil {
		return err
	}
	subs = append(subs, sub)

	c.log.Info("watching", "url", c.cfg.NATS.URL, "subject", c.cfg.NATS.Subject+".>")
	<-ctx.Done()
	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	return nil
}
