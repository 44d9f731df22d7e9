package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bubu-agent/bubu/internal/api"
	"github.com/bubu-agent/bubu/internal/biz/domain"
	"github.com/bubu-agent/bubu/internal/biz/usecase"
	"github.com/bubu-agent/bubu/internal/data"
)

const shutdownTimeout = 10 * time.Second

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler and the HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, runServer)
		},
	}
}

func runServer(ctx context.Context, a *app) error {
	s := a.cfg.Settings
	server := api.NewServer(a.dispatcher, a.messenger, api.Config{
		Addr:        s.HTTPAddr,
		BearerToken: s.APIBearerToken,
		Timezone:    s.Timezone,
		Enabled:     s.Enabled,
	}, a.log)

	a.dispatcher.Start(ctx)
	defer a.dispatcher.Stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
		a.log.Info().Msg("Shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Stop(shutdownCtx)
}

func newPlanCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the planned send times for a day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				day, err := parseDate(date, a)
				if err != nil {
					return err
				}
				plan := a.dispatcher.DailyPlan(day).Formatted()

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintf(w, "Plan for %s\n", domain.DateKey(day))
				for _, slot := range domain.AllSlots {
					at := "suppressed"
					if t := plan[slot.String()]; t != nil {
						at = *t
					}
					fmt.Fprintf(w, "  %s\t%s\n", slot, at)
				}
				skipDates, _ := a.cfg.Settings.SkipDateSet()
				if _, skip := skipDates[domain.DateKey(day)]; skip {
					fmt.Fprintln(w, "  (skip date: nothing will be sent)")
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day as YYYY-MM-DD (default today)")
	return cmd
}

func newPreviewCmd() *cobra.Command {
	var (
		date string
		seed int64
	)
	cmd := &cobra.Command{
		Use:   "preview <morning|flirty|night>",
		Short: "Render the template message for a slot without sending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slot, err := domain.ParseSlot(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				day, err := parseDate(date, a)
				if err != nil {
					return err
				}
				opts := usecase.PreviewOptions{Date: day}
				if cmd.Flags().Changed("seed") {
					opts.Randomize = true
					opts.Seed = &seed
				}
				fmt.Fprintln(cmd.OutOrStdout(), a.dispatcher.Preview(slot, opts))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day as YYYY-MM-DD (default today)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "pick template and closer from this seed")
	return cmd
}

func newSendNowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send-now <morning|flirty|night>",
		Short: "Compose and send a slot's message immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slot, err := domain.ParseSlot(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res := a.dispatcher.SendNow(ctx, slot)
				printSendResult(cmd, res.Success, res.Message, res.MessageID, res.Text)
				if !res.Success {
					return errors.New(res.Message)
				}
				return nil
			})
		},
	}
}

func newSendCustomCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send-custom <morning|flirty|night> <text...>",
		Short: "Send exact text for a slot immediately",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			slot, err := domain.ParseSlot(args[0])
			if err != nil {
				return err
			}
			text := strings.Join(args[1:], " ")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.dispatcher.SendCustom(ctx, slot, text)
				if err != nil {
					return err
				}
				printSendResult(cmd, res.Success, res.Message, res.MessageID, res.Text)
				if !res.Success {
					return errors.New(res.Message)
				}
				return nil
			})
		},
	}
}

func printSendResult(cmd *cobra.Command, ok bool, message, id, text string) {
	out := cmd.OutOrStdout()
	mark := "✓"
	if !ok {
		mark = "✗"
	}
	fmt.Fprintf(out, "%s %s\n", mark, message)
	if id != "" {
		fmt.Fprintf(out, "  id: %s\n", id)
	}
	if text != "" {
		fmt.Fprintf(out, "  text: %s\n", text)
	}
}

func newDryRunCmd() *cobra.Command {
	var useAI bool
	cmd := &cobra.Command{
		Use:   "dry-run",
		Short: "Compose today's messages for every slot without sending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				var messages map[domain.Slot]domain.ComposedMessage
				if useAI {
					messages = make(map[domain.Slot]domain.ComposedMessage, len(domain.AllSlots))
					today := a.dispatcher.Today()
					for _, slot := range domain.AllSlots {
						messages[slot] = a.dispatcher.Compose(ctx, slot, today, false)
					}
				} else {
					messages = a.dispatcher.DryRun(ctx)
				}

				out := cmd.OutOrStdout()
				for _, slot := range domain.AllSlots {
					msg := messages[slot]
					fmt.Fprintf(out, "[%s] (%s)\n%s\n\n", slot, msg.Status, msg.Text)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&useAI, "ai", false, "compose with the language model when configured")
	return cmd
}

func newRecentCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List messages sent in the last days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 1 {
				return fmt.Errorf("--days must be at least 1")
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				records, err := a.dispatcher.RecentMessages(ctx, days)
				if err != nil {
					return err
				}
				if len(records) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No messages in the last %d days\n", days)
					return nil
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "DATE\tSLOT\tSTATUS\tTEXT")
				for _, r := range records {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", domain.DateKey(r.Date), r.Slot, r.Status, oneLine(r.Text))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().IntVarP(&days, "days", "d", 7, "number of days to look back")
	return cmd
}

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete send history older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				n, err := a.dispatcher.Cleanup(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d records\n", n)
				return nil
			})
		},
	}
}

func newSongsCmd() *cobra.Command {
	songsCmd := &cobra.Command{
		Use:   "songs",
		Short: "Manage the song catalog",
	}

	var force bool
	embedCmd := &cobra.Command{
		Use:   "embed",
		Short: "Compute embeddings for catalog songs missing from the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			s := cfg.Settings
			encoder := data.NewEncoder(s)
			if encoder == nil {
				return fmt.Errorf("EMBED_PROVIDER must be openai or ollama, got %q", s.EmbedProvider)
			}

			paths := cfg.Content.Songs
			songs, err := data.LoadSongs(paths.CatalogPath)
			if err != nil {
				return err
			}
			ef, err := data.LoadEmbeddings(paths.EmbeddingsPath)
			if err != nil {
				return err
			}
			if force || (ef.Model != "" && ef.Model != s.EmbedModel) {
				log.Info().Str("old_model", ef.Model).Str("model", s.EmbedModel).Msg("re-embedding whole catalog")
				ef = &data.EmbeddingFile{Vectors: map[string][]float32{}}
			}
			ef.Model = s.EmbedModel

			added, embedErr := data.EmbedMissing(cmd.Context(), songs, ef, encoder)
			if added > 0 {
				if err := data.SaveEmbeddings(paths.EmbeddingsPath, ef); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Embedded %d of %d songs into %s\n", added, len(songs), paths.EmbeddingsPath)
			return embedErr
		},
	}
	embedCmd.Flags().BoolVar(&force, "force", false, "discard cached vectors and embed everything")

	songsCmd.AddCommand(embedCmd)
	return songsCmd
}

// parseDate reads YYYY-MM-DD in the configured timezone; empty means today
func parseDate(s string, a *app) (time.Time, error) {
	if s == "" {
		return a.dispatcher.Today(), nil
	}
	day, err := time.ParseInLocation(time.DateOnly, s, a.cfg.Location)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return day, nil
}

func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > 60 {
		return string(r[:57]) + "..."
	}
	return s
}
