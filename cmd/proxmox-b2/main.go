package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/tis24dev/proxmox-b2/internal/cli"
	"github.com/tis24dev/proxmox-b2/internal/logging"
	"github.com/tis24dev/proxmox-b2/internal/tui"
	"github.com/tis24dev/proxmox-b2/internal/types"
	"github.com/tis24dev/proxmox-b2/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "panic: %v\n%s\n", r, debug.Stack())
			os.Exit(types.ExitPanicError.Int())
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SIGINT/SIGTERM cancel the run; the pipeline cleans up and exits 130.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			fmt.Fprintf(os.Stderr, "\nReceived signal %v, initiating graceful shutdown...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	tui.SetAbortContext(ctx)

	code := cli.Execute(ctx, os.Args, cli.Options{})
	if showsSummary(os.Args) {
		printFinalSummary(code)
	}
	return code.Int()
}

// showsSummary is true for pipeline invocations (no subcommand or "run").
func showsSummary(args []string) bool {
	for _, a := range args[1:] {
		switch a {
		case "--version", "-v", "--help", "-h", "help",
			"list", "prune", "restore", "verify", "config":
			return false
		}
	}
	return true
}

func printFinalSummary(code types.ExitCode) {
	const colorReset = "\033[0m"
	var color string
	logger := logging.GetDefaultLogger()
	hasWarnings := logger != nil && logger.HasWarnings()

	switch {
	case code == types.ExitInterrupted:
		color = "\033[35m"
	case code == types.ExitSuccess && hasWarnings:
		color = "\033[33m"
	case code == types.ExitSuccess:
		color = "\033[32m"
	default:
		color = "\033[31m"
	}
	if logger == nil || !logger.UsesColor() {
		color = ""
	}

	fmt.Println()
	fmt.Printf("%s===========================================\n", color)
	fmt.Printf("proxmox-b2 - %s - %s\n", version.Signature(), code)
	if color != "" {
		fmt.Printf("===========================================%s\n", colorReset)
	} else {
		fmt.Println("===========================================")
	}
}
