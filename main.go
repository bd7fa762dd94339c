package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"forumfilter/pkg/blocklist"
	"forumfilter/pkg/config"
	"forumfilter/pkg/filtering"
	"forumfilter/pkg/handler"
	"forumfilter/pkg/logger"
	"forumfilter/pkg/page"
	"forumfilter/pkg/popup"
	"forumfilter/pkg/server"
	"forumfilter/pkg/store"
	"forumfilter/pkg/version"
	"forumfilter/pkg/watch"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds what every command needs once the configuration is loaded.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	store   *store.Store
	engine  *filtering.Engine
	authors *blocklist.Authors
	users   *blocklist.Users
	popup   *popup.Popup
}

func openApp(ctx context.Context, configPath string) (*app, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.Setup()
	}
	if err != nil {
		return nil, err
	}

	log, err := logger.Setup(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		return nil, err
	}

	s, err := store.Open(store.Options{Dir: cfg.Store.Dir, Log: log})
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:   cfg,
		log:   log,
		store: s,
		engine: filtering.NewEngine(filtering.EngineOptions{
			Selectors:     cfg.Selectors,
			HiddenLogPath: cfg.Filtering.HiddenLog,
			Log:           log,
		}),
		authors: blocklist.NewAuthors(s.Sync, log),
		users:   blocklist.NewUsers(s.Sync, log),
	}
	a.popup = popup.New(a.authors, a.users, s.Local, log)
	if err := a.popup.Start(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) pageDeps() page.Deps {
	return page.Deps{Store: a.store, Engine: a.engine, Log: a.log}
}

func (a *app) close() {
	a.popup.Close()
	if err := a.engine.Close(); err != nil {
		a.log.Warn("failed to close hidden log", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.log.Error("failed to close store", "error", err)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "forumfilter",
		Short:        "Hide forum posts and replies by blocked authors",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $FORUMFILTER_CONFIG or /etc/forumfilter/forumfilter.conf)")

	withApp := func(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer a.close()
			return run(cmd, a, args)
		}
	}

	root.AddCommand(
		newServeCmd(withApp),
		newFilterCmd(withApp),
		newAuthorsCmd(withApp),
		newUsersCmd(withApp),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version.ForumfilterVersion)
			},
		},
	)
	return root
}

type appRunner func(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error

func newServeCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the page watchers",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a)
		}),
	}
}

func serve(ctx context.Context, a *app) error {
	srv := server.New(a.cfg.Server.Listen, handler.New(a.popup, a.pageDeps(), a.log), a.log)
	if err := srv.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Wait)

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("received shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if len(a.cfg.Watch) > 0 {
		targets := make([]watch.Target, 0, len(a.cfg.Watch))
		for _, w := range a.cfg.Watch {
			targets = append(targets, watch.Target{Input: w.Input, Output: w.Output})
		}
		w, err := watch.New(watch.Options{Targets: targets, Pages: a.pageDeps(), Log: a.log})
		if err != nil {
			return errors.Join(err, srv.Shutdown(context.Background()))
		}
		g.Go(func() error { return w.Run(gctx) })
	}

	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				a.log.Info("received SIGHUP signal, refreshing all pages")
				if err := a.popup.RequestRefresh(gctx); err != nil {
					a.log.Error("failed to send refresh signal", "error", err)
				}
			}
		}
	})

	return g.Wait()
}

func newFilterCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "filter <page.html|->",
		Short: "Filter one page to stdout and print the counts to stderr",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			in := cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open page: %w", err)
				}
				defer f.Close()
				in = f
			}

			p, err := page.Load(in, a.pageDeps())
			if err != nil {
				return err
			}
			p.Refresh(cmd.Context())
			if err := p.Render(cmd.OutOrStdout()); err != nil {
				return err
			}

			counts := p.Counts()
			entries, err := a.authors.Load(cmd.Context())
			if err != nil {
				return err
			}
			for _, e := range entries {
				q, ans := counts.For(e.Name)
				fmt.Fprintf(cmd.ErrOrStderr(), "%s\t%s\n", e.Name, e.Mode.Label(q, ans))
			}
			return nil
		}),
	}
}

func newAuthorsCmd(withApp appRunner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authors",
		Short: "Manage the block-list",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List blocked authors with their mode and last counts",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			v, err := a.popup.View(cmd.Context())
			if err != nil {
				return err
			}
			if v.Empty {
				fmt.Fprintln(cmd.OutOrStdout(), v.Message)
				return nil
			}
			for _, row := range v.Authors {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", row.Name, row.Label)
			}
			return nil
		}),
	}

	add := &cobra.Command{
		Use:   "add <name>...",
		Short: "Block authors",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			for _, name := range args {
				added, err := a.popup.Add(cmd.Context(), name)
				if err != nil {
					return fmt.Errorf("add %q: %w", name, err)
				}
				if !added {
					fmt.Fprintf(cmd.OutOrStdout(), "%s is already blocked\n", name)
				}
			}
			return nil
		}),
	}

	remove := &cobra.Command{
		Use:   "remove <name>...",
		Short: "Unblock authors",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			for _, name := range args {
				if err := a.popup.Remove(cmd.Context(), name); err != nil {
					return fmt.Errorf("remove %q: %w", name, err)
				}
			}
			return nil
		}),
	}

	var mode string
	toggle := &cobra.Command{
		Use:   "toggle <name>",
		Short: "Advance an author's mode T -> S -> C, or set it with --mode",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			name := args[0]
			if mode != "" {
				m, err := blocklist.ParseMode(mode)
				if err != nil {
					return err
				}
				found, err := a.authors.SetMode(cmd.Context(), name, m)
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("author %q is not blocked", name)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, string(m))
				return a.popup.RequestRefresh(cmd.Context())
			}

			next, found, err := a.popup.Toggle(cmd.Context(), name)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("author %q is not blocked", name)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, string(next))
			return nil
		}),
	}
	toggle.Flags().StringVarP(&mode, "mode", "m", "", "set the mode directly (T, S or C)")

	var token string
	importCmd := &cobra.Command{
		Use:   "import <file|url>",
		Short: "Block every author listed in a file or at a URL",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			stats, err := a.authors.Import(cmd.Context(), blocklist.Source{Location: args[0], Token: token})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %d, already blocked %d, invalid %d (of %d lines)\n",
				stats.Added, stats.Existing, stats.Invalid, stats.TotalLines)
			if stats.Added == 0 {
				return nil
			}
			return a.popup.RequestRefresh(cmd.Context())
		}),
	}
	importCmd.Flags().StringVar(&token, "token", "", "bearer token for URL sources")

	cmd.AddCommand(list, add, remove, toggle, importCmd)
	return cmd
}

func newUsersCmd(withApp appRunner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage the hide-list",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List hidden users",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			names, err := a.users.Load(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		}),
	}

	add := &cobra.Command{
		Use:   "add <name>...",
		Short: "Hide users",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			for _, name := range args {
				if _, err := a.popup.AddUser(cmd.Context(), name); err != nil {
					return fmt.Errorf("add %q: %w", name, err)
				}
			}
			return nil
		}),
	}

	remove := &cobra.Command{
		Use:   "remove <name>...",
		Short: "Stop hiding users",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			for _, name := range args {
				if err := a.popup.RemoveUser(cmd.Context(), name); err != nil {
					return fmt.Errorf("remove %q: %w", name, err)
				}
			}
			return nil
		}),
	}

	cmd.AddCommand(list, add, remove)
	return cmd
}
