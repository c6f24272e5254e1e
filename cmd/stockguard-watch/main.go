// Package main provides the terminal dashboard for StockGuard.
package main

import (
	"flag"
	"fmt"
	"os"

	"stockguard/internal/watch"
)

var version = "dev"

func main() {
	var (
		showVersion bool
		serverURL   string
		token       string
	)

	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.StringVar(&serverURL, "server", "http://localhost:8080", "StockGuard server URL")
	flag.StringVar(&serverURL, "s", "http://localhost:8080", "StockGuard server URL (shorthand)")
	flag.StringVar(&token, "token", "", "Session token (defaults to STOCKGUARD_TOKEN)")
	flag.Parse()

	if showVersion {
		fmt.Printf("stockguard-watch %s\n", version)
		os.Exit(0)
	}

	if token == "" {
		token = os.Getenv("STOCKGUARD_TOKEN")
	}
	if token == "" {
		fmt.Fprintln(os.Stderr, "a session token is required: pass -token or set STOCKGUARD_TOKEN")
		os.Exit(1)
	}

	if err := watch.Run(serverURL, token); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
