// Package cmd provides the command-line interface for softmmu.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "softmmu",
	Short: "softmmu exercises the guest address translation of a software hypervisor.",
	Long: `softmmu builds guest page tables and software MMUs in memory and ` +
		`drives them. It can benchmark many vCPUs sharing one guest memory ` +
		`and trace single page walks. SOFTMMU_* variables, also read from an ` +
		`optional .env file, configure the MMUs.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		return loadEnvFile(envFile)
	},
}

// loadEnvFile adds the variables of file to the environment. A missing file
// is not an error.
func loadEnvFile(file string) error {
	if file == "" {
		return nil
	}

	err := godotenv.Load(file)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", file, err)
	}

	return nil
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)

	err := rootCmd.ExecuteContext(ctx)

	stop()

	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

func init() {
	rootCmd.PersistentFlags().String("env-file", ".env",
		"File to load SOFTMMU_* variables from")
}
