package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/local/docextract/internal/client"
	cfgpkg "github.com/local/docextract/internal/config"
	logpkg "github.com/local/docextract/internal/logger"
	"github.com/local/docextract/internal/pipeline"
	"github.com/local/docextract/internal/session"
)

func main() {
	server := flag.String("server", "http://127.0.0.1:8080", "extraction server base URL")
	file := flag.String("file", "", "document to upload (required)")
	pagesArg := flag.String("pages", "all", "pages to extract: all, or a list like 1,3,5-9")
	engine := flag.String("engine", "", "extraction engine (standard|fast)")
	quality := flag.String("quality", "", "extraction quality (high|draft)")
	out := flag.String("out", "", "write extracted text to this file instead of stdout")
	timeout := flag.Duration("timeout", 30*time.Second, "per-request timeout")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: extractcli -file document.pdf [-pages 1,3,5-9]")
		os.Exit(2)
	}

	_ = godotenv.Load()
	cfg := cfgpkg.FromEnv()
	_ = logpkg.Init(logpkg.Options{Level: "warn", Pretty: true})
	defer logpkg.Close()

	opts := pipeline.Options{
		EagerPages: cfg.Thumbs.EagerPages,
		Margin:     cfg.Thumbs.Margin,
		DPI:        cfg.Thumbs.DPI,
	}
	ctrl := pipeline.New(pipeline.NewBackend(client.New(*server, *timeout)), opts,
		func(p session.Progress) {
			fmt.Fprintf(os.Stderr, "\r%3.0f%% %s", p.Percent, p.Message)
		})
	defer ctrl.Close()

	ctx := context.Background()
	doc, err := ctrl.LoadDocument(ctx, *file)
	if err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stderr, "document %s: %d pages (%s)\n", doc.ID, doc.TotalPages, doc.Kind)
	if doc.NeedsOCR {
		fmt.Fprintln(os.Stderr, "warning: document has little or no text layer; extraction may be poor")
	}

	sel := ctrl.Selection()
	if *pagesArg == "all" || *pagesArg == "" {
		sel.SelectAll()
	} else {
		pages, err := parsePages(*pagesArg, doc.TotalPages)
		if err != nil {
			fatal(err)
		}
		sel.DeselectAll()
		for _, p := range pages {
			sel.Toggle(p)
		}
	}
	if sel.Count() == 0 {
		fatal(fmt.Errorf("no pages selected"))
	}

	// probe the backend before committing to a session so an unavailable
	// extractor is reported up front, not after the stream opens
	if !ctrl.Ready(ctx) {
		fatal(fmt.Errorf("extraction backend is unavailable; try again later"))
	}

	if err := ctrl.StartExtraction(*engine, *quality); err != nil {
		fatal(err)
	}

	// Ctrl-C cancels the session rather than killing the stream mid-page
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-ctrl.Session().Done():
	case <-stop:
		fmt.Fprintln(os.Stderr, "\ncancelling...")
		ctrl.CancelExtraction(ctx)
		<-ctrl.Session().Done()
	}
	fmt.Fprintln(os.Stderr)

	switch ctrl.Session().State() {
	case session.StateDone:
		res, _ := ctrl.Session().Result()
		fmt.Fprintf(os.Stderr, "extracted %d words from %d pages\n", res.WordCount, sel.Count())
		if *out != "" {
			if err := os.WriteFile(*out, []byte(res.Text), 0o644); err != nil {
				fatal(err)
			}
			fmt.Fprintf(os.Stderr, "saved to %s\n", *out)
		} else {
			fmt.Println(res.Text)
		}
	case session.StateCancelled:
		fmt.Fprintln(os.Stderr, "extraction cancelled")
	case session.StateFailed:
		fatal(ctrl.Session().Err())
	}
}

// parsePages expands "1,3,5-9" into a page list, rejecting out-of-range input.
func parsePages(arg string, total int) ([]int, error) {
	var out []int
	for _, part := range strings.Split(arg, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if a, b, ok := strings.Cut(part, "-"); ok {
			lo, err1 := strconv.Atoi(strings.TrimSpace(a))
			hi, err2 := strconv.Atoi(strings.TrimSpace(b))
			if err1 != nil || err2 != nil || lo < 1 || hi < lo || hi > total {
				return nil, fmt.Errorf("bad page range %q (document has %d pages)", part, total)
			}
			for p := lo; p <= hi; p++ {
				out = append(out, p)
			}
			continue
		}
		p, err := strconv.Atoi(part)
		if err != nil || p < 1 || p > total {
			return nil, fmt.Errorf("bad page %q (document has %d pages)", part, total)
		}
		out = append(out, p)
	}
	return out, nil
}

func fatal(err error) {
	log.Error().Err(err).Msg("extractcli failed")
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
