package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"relay/internal/core"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var version = "dev"

const defaultServer = "http://localhost:6789"

func main() {
	var server string

	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "Send and receive files through a relay server",
		Long: `relay uploads files to a relay server and fetches them back.

Sending prints a download link and a four-character pickup code.
Several files, or a directory, arrive as a single zip archive.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	envServer := os.Getenv("RELAY_SERVER")
	if envServer == "" {
		envServer = defaultServer
	}
	rootCmd.PersistentFlags().StringVarP(&server, "server", "S", envServer, "relay server URL (env RELAY_SERVER)")

	newClient := func() *core.Client {
		return core.NewClient(server, &http.Client{})
	}

	rootCmd.AddCommand(
		sendCmd(newClient),
		pickupCmd(newClient),
		getCmd(newClient),
		versionCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("✓ %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// reportProgress prints upload progress until done is closed.
func reportProgress(p *core.Payload, total int64, done <-chan struct{}) {
	if total == 0 {
		return
	}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			fmt.Fprint(os.Stderr, "\r\033[K")
			return
		case <-ticker.C:
			fmt.Fprintf(os.Stderr, "\r  %3.0f%%  %s / %s", 100*float64(p.Sent())/float64(total), humanize(p.Sent()), humanize(total))
		}
	}
}

func humanize(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
