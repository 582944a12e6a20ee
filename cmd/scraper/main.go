// Command scraper crawls a scripture catalog site into a relational store.
//
// Usage:
//
//	scraper [--config file]           run one crawl (same as "scraper crawl")
//	scraper migrate [--config file]   apply the store schema
//	scraper verify [--config file]    print row counts and fail on orphan rows
//
// Every config key can be set through the environment with the SCRAPER_
// prefix, e.g. SCRAPER_STORE_DSN or SCRAPER_CRAWL_TARGET_EDITION.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "scraper: %v\n", err)
		stop()
		os.Exit(1)
	}
}
