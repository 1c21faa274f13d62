// resqctl is the operator CLI: it runs database migrations and manages the
// instance signing identity without going through the API server.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "resqctl",
	Short: "Resq operations CLI",
	Long:  `Operator tooling for Resq: database migrations and instance identity management.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
