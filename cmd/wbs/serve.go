package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	serveradapter "github.com/hylla/wbs/internal/adapters/server"
	servercommon "github.com/hylla/wbs/internal/adapters/server/common"
)

func newServeCmd(env *cliEnv) *cobra.Command {
	var (
		httpBind        string
		apiEndpoint     string
		mcpEndpoint     string
		metricsEndpoint string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, MCP tools, and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			server := env.cfg.Server
			flags := cmd.Flags()
			if flags.Changed("http") {
				server.HTTPBind = httpBind
			}
			if flags.Changed("api-endpoint") {
				server.APIEndpoint = apiEndpoint
			}
			if flags.Changed("mcp-endpoint") {
				server.MCPEndpoint = mcpEndpoint
			}
			if flags.Changed("metrics-endpoint") {
				server.MetricsEndpoint = metricsEndpoint
			}

			registry := prometheus.NewRegistry()
			registry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			metrics, err := servercommon.NewMetrics(registry)
			if err != nil {
				return fmt.Errorf("register metrics: %w", err)
			}

			env.logger.Info("command flow start", "command", "serve", "http", server.HTTPBind, "api", server.APIEndpoint, "mcp", server.MCPEndpoint, "metrics", server.MetricsEndpoint)
			err = serveCommandRunner(cmd.Context(), serveradapter.Config{
				HTTPBind:        server.HTTPBind,
				APIEndpoint:     server.APIEndpoint,
				MCPEndpoint:     server.MCPEndpoint,
				MetricsEndpoint: server.MetricsEndpoint,
				ServerName:      env.flags.appName,
				ServerVersion:   version,
			}, serveradapter.Dependencies{
				Tree:     servercommon.NewAppServiceAdapter(env.svc, metrics),
				Gatherer: registry,
				Ready:    env.repo.Ping,
				Logger:   env.logger,
			})
			if err != nil {
				env.logger.Error("command flow failed", "command", "serve", "err", err)
				return fmt.Errorf("run serve command: %w", err)
			}
			env.logger.Info("command flow complete", "command", "serve")
			return nil
		},
	}
	cmd.Flags().StringVar(&httpBind, "http", "127.0.0.1:8080", "HTTP listen address")
	cmd.Flags().StringVar(&apiEndpoint, "api-endpoint", "/api/v1", "HTTP API base endpoint")
	cmd.Flags().StringVar(&mcpEndpoint, "mcp-endpoint", "/mcp", "MCP streamable HTTP endpoint")
	cmd.Flags().StringVar(&metricsEndpoint, "metrics-endpoint", "/metrics", "prometheus metrics endpoint")
	return cmd
}
