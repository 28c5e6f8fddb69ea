package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tutorlane-client",
	Short: "Headless classroom client for the tutorlane signaling relay",
	Long: `tutorlane-client joins a live classroom session over the tutorlane
relay API. It negotiates a WebRTC peer connection through HTTP polling,
publishes presence and chat, and prints the other participant's activity
to stdout. Media tracks are negotiated but silent, which makes the client
suitable for smoke-testing rooms and for bots.`,
}

func main() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
