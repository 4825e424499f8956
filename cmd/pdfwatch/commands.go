package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/pdfwatch/pdfmeta"
	"github.com/hazyhaar/pdfwatch/pdfwatch"
)

func (c *cli) serveCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the periodic scraper",
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				c.cfg.Listen = listen
			}
			return c.runServe()
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides config)")
	return cmd
}

func (c *cli) runServe() error {
	logger := newLogger(c.stdout, c.cfg.LogLevel)
	ctx, cancel := signalContext()
	defer cancel()

	svc, err := pdfwatch.Open(c.cfg, logger)
	if err != nil {
		return fmt.Errorf("open service: %w", err)
	}
	defer svc.Close()

	srv := &http.Server{
		Addr:              c.cfg.Listen,
		Handler:           newRouter(svc, logger),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("pdfwatch: listening", "addr", c.cfg.Listen, "page", c.cfg.Target.PageURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return svc.RunScheduler(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("pdfwatch: shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (c *cli) scrapeCmd() *cobra.Command {
	var page, ext string
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrape the page once and store unseen documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := c.open()
			if err != nil {
				return err
			}
			defer svc.Close()
			ctx, cancel := signalContext()
			defer cancel()

			rep, err := svc.Run(ctx, pdfwatch.TriggerCLI, page, ext)
			if rep != nil {
				if perr := c.printJSON(rep); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&page, "page", "", "Page URL (default: configured target)")
	cmd.Flags().StringVar(&ext, "ext", "", "Link extension (default: configured extension)")
	return cmd
}

func (c *cli) waybackCmd() *cobra.Command {
	var page, ext string
	var from, to int
	cmd := &cobra.Command{
		Use:   "wayback",
		Short: "Replay the page's Wayback Machine captures and store unseen documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			if from > 0 {
				c.cfg.Wayback.FromYear = from
			}
			if to > 0 {
				c.cfg.Wayback.ToYear = to
			}
			svc, _, err := c.open()
			if err != nil {
				return err
			}
			defer svc.Close()
			ctx, cancel := signalContext()
			defer cancel()

			rep, err := svc.RunHistorical(ctx, pdfwatch.TriggerCLI, page, ext)
			if rep != nil {
				if perr := c.printJSON(rep); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&page, "page", "", "Page URL (default: configured target)")
	cmd.Flags().StringVar(&ext, "ext", "", "Link extension (default: configured extension)")
	cmd.Flags().IntVar(&from, "from", 0, "First year to replay")
	cmd.Flags().IntVar(&to, "to", 0, "Last year to replay")
	return cmd
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and print the schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := c.open()
			if err != nil {
				return err
			}
			defer svc.Close()
			v, err := svc.Migrate()
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "schema version %d\n", v)
			return nil
		},
	}
}

func (c *cli) mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the pdfwatch tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout is the protocol channel.
			svc, logger, err := c.open()
			if err != nil {
				return err
			}
			defer svc.Close()
			ctx, cancel := signalContext()
			defer cancel()

			srv := mcp.NewServer(&mcp.Implementation{Name: "pdfwatch", Version: version}, nil)
			svc.RegisterMCP(srv)
			logger.Info("pdfwatch: mcp stdio server started")
			return srv.Run(ctx, &mcp.StdioTransport{})
		},
	}
}

func (c *cli) pdfdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pdfdate FILE",
		Short: "Print the metadata of a local PDF file",
		Args:  cobra.ExactArgs(1),
		// No config or database needed.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			md, err := pdfmeta.Read(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			return c.printJSON(md)
		},
	}
}
