package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/walinekit/sitestats/display"
	"github.com/walinekit/sitestats/display/htmlrender"
	"github.com/walinekit/sitestats/internal/stats"
)

var watchCmd = &cobra.Command{
	Use:   "watch page.html",
	Short: "Recount whenever a page file changes",
	Long: `Watch a page file and rerun the count every time it is modified, as a
blog generator rebuilds it. Runs until interrupted.

Examples:
  sitestats watch public/index.html --url https://blog.example/ --html-out public/index.html`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var (
	watchURL      string
	watchInterval time.Duration
	watchHTMLOut  string
)

func init() {
	watchCmd.Flags().StringVar(&watchURL, "url", "", "URL of the page")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 2*time.Second, "polling interval")
	watchCmd.Flags().StringVar(&watchHTMLOut, "html-out", "", "write the page with patched widgets to this file")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	file := args[0]

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	client, err := newClient(ctx, cfg, logger, stats.NewNoop())
	if err != nil {
		return err
	}
	defer client.Close()

	tw := display.NewTextWriter(os.Stdout)
	run := func() {
		page, err := loadPage(ctx, file, watchURL)
		if err != nil {
			logger.Warn("reading page", zap.String("file", file), zap.Error(err))
			return
		}

		pvOut := display.Renderer(tw.Renderer("Pageviews"))
		uvOut := display.Renderer(tw.Renderer("Activity"))
		var doc *htmlrender.Document
		if watchHTMLOut != "" {
			if doc, err = htmlrender.ParseString(page.HTML); err != nil {
				logger.Warn("parsing page", zap.Error(err))
				return
			}
			if el := doc.Element(htmlrender.PageviewsID); el != nil {
				pvOut = display.Tee(pvOut, el)
			}
			if el := doc.Element(htmlrender.ActivityID); el != nil {
				uvOut = display.Tee(uvOut, el)
			}
		}

		display.New(client,
			display.WithPageviews(pvOut),
			display.WithActivity(uvOut),
			display.WithLogger(logger.Named("display")),
		).Update(ctx, page)

		if doc != nil {
			if err := writeDocument(doc, watchHTMLOut); err != nil {
				logger.Warn("writing page", zap.Error(err))
			}
		}
	}

	return watchFile(ctx, file, watchInterval, run)
}

// watchFile calls onChange once, then again whenever the modification time
// or size of path changes. Changes made by onChange itself are ignored. It
// returns when ctx is done.
func watchFile(ctx context.Context, path string, interval time.Duration, onChange func()) error {
	last, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("watching %s: %w", path, err)
	}
	onChange()
	if info, err := os.Stat(path); err == nil {
		last = info
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().Equal(last.ModTime()) && info.Size() == last.Size() {
			continue
		}
		onChange()
		if after, err := os.Stat(path); err == nil {
			info = after
		}
		last = info
	}
}
