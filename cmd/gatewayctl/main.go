// Command gatewayctl is the gateway's operator-facing CLI: credential
// login, session-store maintenance, and provider status. It is not the
// product's chat surface — there is no REPL or prompt renderer here.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/modelgateway/core/internal/config"
	logger "github.com/modelgateway/core/internal/logging"

	_ "github.com/modelgateway/core/internal/adapter/anthropic"
	_ "github.com/modelgateway/core/internal/adapter/gemini"
	_ "github.com/modelgateway/core/internal/adapter/ollama"
	_ "github.com/modelgateway/core/internal/adapter/openai"
	_ "github.com/modelgateway/core/internal/adapter/openrouter"
)

const (
	cliName    = "gatewayctl"
	cliVersion = "0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   cliName,
		Short: "Operator CLI for the model gateway core",
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newAuthCmd(),
		newSessionCmd(),
		newProvidersCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the gatewayctl version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", cliName, cliVersion)
		},
	}
}

// loadConfigAndLogger loads the layered config and builds a console
// logger quiet enough not to clutter CLI output, mirroring the teacher's
// interactive-mode logger setup.
func loadConfigAndLogger() (*config.Config, *zap.Logger, error) {
	log, err := logger.NewLogger(logger.Config{Level: "warn", Format: "console", OutputPath: "stderr"})
	if err != nil {
		return nil, nil, fmt.Errorf("logger init: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	return cfg, log, nil
}
