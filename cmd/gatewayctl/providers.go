package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/modelgateway/core/internal/adapter"
)

func newProvidersCmd() *cobra.Command {
	providersCmd := &cobra.Command{
		Use:   "providers",
		Short: "Inspect configured providers",
	}
	providersCmd.AddCommand(newProvidersStatusCmd())
	return providersCmd
}

func newProvidersStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show availability, failover stats, and circuit state for every configured provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			if len(cfg.Providers) == 0 {
				fmt.Println("no providers configured")
				return nil
			}

			router := adapter.NewRouter(log)
			router.SetRetryConfig(cfg.Resilience.Retry.ToRetryConfig())
			router.SetBreakerConfig(cfg.Resilience.Breaker.ToCircuitBreakerConfig())
			for _, pc := range cfg.Providers {
				p, err := adapter.CreateProvider(pc, log)
				if err != nil {
					fmt.Printf("%-12s SKIPPED  %v\n", pc.Name, err)
					continue
				}
				router.AddProvider(p)
			}

			for _, s := range router.ListProviders(context.Background()) {
				fmt.Printf("%-12s available=%-5v circuit=%-10s calls=%-6d failures=%-6d last_latency_ms=%.1f\n",
					s.Name, s.Available, s.CircuitState, s.TotalCalls, s.FailureCount, s.LastLatencyMs)
			}
			return nil
		},
	}
}
