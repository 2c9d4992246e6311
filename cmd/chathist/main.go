package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"chathist/internal/app"
	"chathist/internal/tui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	flagConfig string
	flagRoot   string
	flagDays   int
	flagTitle  string
)

func loadConfig() (app.Config, error) {
	cfg, err := app.LoadConfig(flagConfig)
	if err != nil {
		return cfg, err
	}
	if flagRoot != "" {
		cfg.RootDir = flagRoot
	}
	return cfg, nil
}

func openStore(cfg app.Config, logger *app.Logger) (*app.HistoryStore, error) {
	return app.NewHistoryStore(cfg.RootDir, cfg.ExpirationDays, logger)
}

// resolver describes the backends title/summary generation may talk to.
// ACP-style adapters are listed so stored sessions that used them are
// rejected for generation instead of failing mid-call.
func resolver(cfg app.Config) app.StaticResolver {
	return app.StaticResolver{
		"openai": app.AdapterInfo{
			Name:         "openai",
			Protocol:     app.ProtocolHTTP,
			DefaultModel: cfg.TitleModel,
		},
	}
}

func newGenerator(cfg app.Config) (app.Generator, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set; configure openai_api_key or the environment variable")
	}
	return app.NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.TitleModel)
}

func stderrNotifier() app.Notifier {
	return app.NotifierFunc(func(message string, severity app.Severity) {
		if severity == app.SeverityError {
			fmt.Fprintln(os.Stderr, message)
		}
	})
}

func main() {
	logger := app.NewLogger(app.DefaultLogWriter())

	root := &cobra.Command{
		Use:     "chathist",
		Short:   "Browse and manage persisted chat history",
		Long:    "chathist stores chat sessions on disk, generates titles and summaries for them, and ships an interactive browser.\n\nRun without arguments to open the browser.",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg, logger)
			if err != nil {
				return err
			}

			var summaries *app.SummaryGenerator
			if gen, err := newGenerator(cfg); err == nil {
				summaries = app.NewSummaryGenerator(store, gen, resolver(cfg), stderrNotifier(), logger, app.SummaryOptions{
					ContextBudget:      cfg.SummaryContextBudget,
					IncludeReferences:  cfg.SummaryIncludeReferences,
					IncludeToolOutputs: cfg.SummaryIncludeToolOutputs,
					Model:              cfg.SummaryModel,
				})
			}

			model := tui.New(store, summaries, logger)
			p := tea.NewProgram(model, tea.WithAltScreen())
			if _, err := p.Run(); err != nil {
				return err
			}
			if model.Selected != "" {
				return printSession(store, model.Selected)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "config file path (default: user config dir)")
	root.PersistentFlags().StringVar(&flagRoot, "root", "", "history store root (default: user data dir)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List saved sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storeFromFlags(logger)
			if err != nil {
				return err
			}
			for _, e := range store.List(nil) {
				title := e.Title
				if title == "" {
					title = "(untitled)"
				}
				marker := " "
				if e.HasSummary {
					marker = "◆"
				}
				fmt.Printf("%s %s  %s  %s\n", marker, e.ID, title, formatUnix(e.UpdatedAt))
			}
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a session transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storeFromFlags(logger)
			if err != nil {
				return err
			}
			return printSession(store, args[0])
		},
	}

	renameCmd := &cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Rename a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storeFromFlags(logger)
			if err != nil {
				return err
			}
			ok, err := store.Rename(args[0], args[1])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no session with id %q", args[0])
			}
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete one or more sessions (summaries are kept)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storeFromFlags(logger)
			if err != nil {
				return err
			}
			for _, id := range args {
				removed, err := store.Delete(id)
				if err != nil {
					return err
				}
				if !removed {
					fmt.Fprintf(os.Stderr, "no session with id %q\n", id)
				}
			}
			return nil
		},
	}

	duplicateCmd := &cobra.Command{
		Use:   "duplicate <id>",
		Short: "Copy a session under a new id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storeFromFlags(logger)
			if err != nil {
				return err
			}
			title := flagTitle
			if title == "" {
				if src, err := store.Load(args[0]); err == nil && src != nil {
					title = strings.TrimSpace(src.Title) + " (copy)"
					title = strings.TrimSpace(title)
				}
			}
			newID, err := store.Duplicate(args[0], title)
			if err != nil {
				return err
			}
			if newID == "" {
				return fmt.Errorf("no session with id %q", args[0])
			}
			fmt.Println(newID)
			return nil
		},
	}
	duplicateCmd.Flags().StringVar(&flagTitle, "title", "", "title for the copy")

	expireCmd := &cobra.Command{
		Use:   "expire",
		Short: "Delete sessions older than the threshold",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storeFromFlags(logger)
			if err != nil {
				return err
			}
			if flagDays <= 0 {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				flagDays = cfg.ExpirationDays
			}
			if flagDays <= 0 {
				return fmt.Errorf("no expiration threshold configured; pass --days")
			}
			store.Expire(flagDays)
			return nil
		},
	}
	expireCmd.Flags().IntVar(&flagDays, "days", 0, "age threshold in days")

	titleCmd := &cobra.Command{
		Use:   "title <id>",
		Short: "Generate (or refresh) the title for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			gen, err := newGenerator(cfg)
			if err != nil {
				return err
			}
			sess, err := store.Load(args[0])
			if err != nil {
				return err
			}
			if sess == nil {
				return fmt.Errorf("no session with id %q", args[0])
			}

			titles := app.NewTitleGenerator(store, gen, resolver(cfg), stderrNotifier(), logger, app.TitleOptions{
				AutoGenerate:         true,
				RefreshEveryNPrompts: cfg.RefreshEveryNPrompts,
				MaxRefreshes:         cfg.MaxTitleRefreshes,
				Model:                cfg.TitleModel,
			})
			refresh := strings.TrimSpace(sess.Title) != ""
			if err := titles.Generate(context.Background(), sess, refresh); err != nil {
				return err
			}
			titles.Wait()

			updated, err := store.Load(args[0])
			if err != nil {
				return err
			}
			if updated != nil && updated.Title != "" {
				fmt.Println(updated.Title)
			}
			return nil
		},
	}

	summarizeCmd := &cobra.Command{
		Use:   "summarize <id>",
		Short: "Generate and store a summary for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			gen, err := newGenerator(cfg)
			if err != nil {
				return err
			}
			summaries := app.NewSummaryGenerator(store, gen, resolver(cfg), stderrNotifier(), logger, app.SummaryOptions{
				ContextBudget:      cfg.SummaryContextBudget,
				IncludeReferences:  cfg.SummaryIncludeReferences,
				IncludeToolOutputs: cfg.SummaryIncludeToolOutputs,
				Model:              cfg.SummaryModel,
			})
			sum, err := summaries.Generate(context.Background(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(sum.Content)
			return nil
		},
	}

	summariesCmd := &cobra.Command{
		Use:   "summaries",
		Short: "List stored summaries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storeFromFlags(logger)
			if err != nil {
				return err
			}
			for _, e := range store.ListSummaries() {
				title := e.ChatTitle
				if title == "" {
					title = e.SessionID
				}
				fmt.Printf("%s  %s  %s\n", e.ID, title, formatUnix(e.GeneratedAt))
			}
			return nil
		},
	}

	locationCmd := &cobra.Command{
		Use:   "location",
		Short: "Print the store root path",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storeFromFlags(logger)
			if err != nil {
				return err
			}
			fmt.Println(store.Location())
			return nil
		},
	}

	root.AddCommand(listCmd, showCmd, renameCmd, deleteCmd, duplicateCmd,
		expireCmd, titleCmd, summarizeCmd, summariesCmd, locationCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func storeFromFlags(logger *app.Logger) (*app.HistoryStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openStore(cfg, logger)
}

func printSession(store *app.HistoryStore, id string) error {
	sess, err := store.Load(id)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("no session with id %q", id)
	}
	fmt.Print(tui.FormatTranscript(sess, 100))
	fmt.Println()
	return nil
}

func formatUnix(unix int64) string {
	if unix <= 0 {
		return "-"
	}
	return time.Unix(unix, 0).Format("2006-01-02 15:04")
}
