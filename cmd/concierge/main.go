// concierge is a small CLI front for the session store, used to poke at a
// running session-pool service (or the local fallback) from a terminal.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/cloverlabs/sessionpool/internal/config"
	"github.com/cloverlabs/sessionpool/internal/domain"
	"github.com/cloverlabs/sessionpool/internal/identity"
	"github.com/cloverlabs/sessionpool/internal/kv"
	"github.com/cloverlabs/sessionpool/internal/localcache"
	"github.com/cloverlabs/sessionpool/internal/remote"
	"github.com/cloverlabs/sessionpool/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded environment from .env")
	}

	root := &cobra.Command{
		Use:           "concierge",
		Short:         "Concierge session store client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(sendCmd(logger), listCmd(logger), showCmd(logger), passionsCmd(logger))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// openStore wires the full client stack: blob store, identity, remote
// client, local cache, facade.
func openStore(ctx context.Context, logger *slog.Logger) (*store.Store, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	blob, err := kv.NewSQLite(cfg.DataPath)
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		if err := blob.Close(); err != nil {
			logger.Warn("failed to close blob store", "error", err)
		}
	}

	id, err := identity.New(blob, logger).BootstrapIdentity(ctx)
	if err != nil {
		closer()
		return nil, nil, err
	}

	client := remote.NewClient(remote.Config{
		BaseURL:        cfg.BaseURL,
		RequestTimeout: cfg.RequestTimeout,
	}, id, logger)
	cache := localcache.New(blob, logger)

	return store.New(client, cache, nil, logger), closer, nil
}

func sendCmd(logger *slog.Logger) *cobra.Command {
	var sessionID, companyID, companyName string

	cmd := &cobra.Command{
		Use:   "send <text>",
		Short: "Send a user message, creating a session when none is given",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, closer, err := openStore(ctx, logger)
			if err != nil {
				return err
			}
			defer closer()

			msg := domain.Message{
				Text:      args[0],
				Timestamp: time.Now().UTC().Format(time.RFC3339),
				Speaker:   domain.SpeakerUser,
			}

			var sess *domain.Session
			if sessionID == "" {
				sess, err = s.CreateSession(ctx, companyID, companyName, []domain.Message{msg})
			} else {
				var sctx *domain.SessionContext
				if companyID != "" || companyName != "" {
					sctx = &domain.SessionContext{CompanyID: companyID, CompanyName: companyName}
				}
				sess, err = s.AppendMessages(ctx, sessionID, []domain.Message{msg}, sctx)
			}
			if err != nil {
				return err
			}

			fmt.Printf("session %s (%d messages, %s mode)\n", sess.ID, len(sess.Messages), s.Mode())
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "append to an existing session id")
	cmd.Flags().StringVar(&companyID, "company-id", "", "workspace company id")
	cmd.Flags().StringVar(&companyName, "company-name", "", "workspace company name")
	return cmd
}

func listCmd(logger *slog.Logger) *cobra.Command {
	var limit int
	var cursor string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List session summaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, closer, err := openStore(ctx, logger)
			if err != nil {
				return err
			}
			defer closer()

			page, err := s.ListSessions(ctx, cursor, limit)
			if err != nil {
				return err
			}
			for _, summary := range page.Sessions {
				fmt.Printf("%s  %-30q  %d msgs  updated %s\n",
					summary.ID, summary.Title, summary.MessageCount, summary.UpdatedAt)
			}
			if page.HasMore {
				fmt.Printf("more available (cursor %s)\n", page.NextCursor)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "page size")
	cmd.Flags().StringVar(&cursor, "cursor", "", "pagination cursor")
	return cmd
}

func showCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session's full message history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, closer, err := openStore(ctx, logger)
			if err != nil {
				return err
			}
			defer closer()

			sess, err := s.FetchSessionMessages(ctx, args[0])
			if err != nil {
				return err
			}
			for _, m := range sess.Messages {
				fmt.Printf("[%s] %s: %s\n", m.Timestamp, m.Speaker, m.Text)
				if m.InsightEvent != nil {
					fmt.Printf("        insight %s: %q\n", m.InsightEvent.Type, m.InsightEvent.Insight.Title)
				}
			}
			return nil
		},
	}
}

func passionsCmd(logger *slog.Logger) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "passions",
		Short: "Fetch the passion-map analysis",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, closer, err := openStore(ctx, logger)
			if err != nil {
				return err
			}
			defer closer()

			result, err := s.FetchAnalysisItems(ctx, remote.AnalysisFilters{Limit: limit})
			if err != nil {
				return err
			}
			for _, item := range result.Items {
				fmt.Printf("%-12s %.2f  %s\n", item.Status, item.Strength, item.Label)
			}
			fmt.Printf("%d items, generated %s\n", result.TotalItems, result.GeneratedAt)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum items")
	return cmd
}
