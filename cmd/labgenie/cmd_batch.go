package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"labgenie/internal/pipeline"
)

var batchConcurrency int

// batchCmd runs the pipeline for every URL in a file
var batchCmd = &cobra.Command{
	Use:   "batch [file]",
	Short: "Generate labs for every URL listed in a file",
	Long: `Reads one write-up URL per line (blank lines and # comments are
skipped) and runs a full pipeline per URL. Runs share nothing but the
error log, so they execute concurrently up to the --concurrency limit.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	addPipelineFlags(batchCmd)
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 2, "URLs processed in parallel")
}

func runBatch(cmd *cobra.Command, args []string) error {
	urls, err := readURLFile(args[0])
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return fmt.Errorf("no URLs found in %s", args[0])
	}

	cfg, err := loadRunConfig()
	if err != nil {
		return err
	}
	p, sink, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer sink.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !quiet {
		fmt.Println(renderBanner())
	}

	// A failed URL must not cancel its siblings, so failures are
	// collected instead of returned from the group.
	var mu sync.Mutex
	var failed []string

	g := new(errgroup.Group)
	g.SetLimit(batchConcurrency)
	for _, url := range urls {
		g.Go(func() error {
			run := p.Execute(ctx, url)
			if !quiet {
				mu.Lock()
				fmt.Println(renderSummary(run, debug))
				mu.Unlock()
			}
			if run.Status != pipeline.StatusCompleted {
				mu.Lock()
				failed = append(failed, url)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) > 0 {
		return fmt.Errorf("%d of %d runs failed:\n  %s",
			len(failed), len(urls), strings.Join(failed, "\n  "))
	}
	return nil
}

func readURLFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open URL file: %w", err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read URL file: %w", err)
	}
	return urls, nil
}
