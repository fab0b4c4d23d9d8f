package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/PEZ/epupp"
	"github.com/PEZ/epupp/bridge"
	"github.com/PEZ/epupp/core"
	"github.com/PEZ/epupp/internal/appconfig"
	"github.com/PEZ/epupp/internal/chromepage"
	"github.com/PEZ/epupp/internal/evalruntime"
	"pkt.systems/pslog"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	var scriptDir string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the epupp engine with bridge and hub listeners",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if scriptDir != "" {
				cfg.ScriptDir = scriptDir
			}
			engineCfg, err := cfg.EngineConfig()
			if err != nil {
				return err
			}

			serverCfg := epupp.ServerConfig{
				Engine: engineCfg,
				Bridge: bridge.ServerConfig{
					Addr: cfg.Bridge.Addr,
					NewEvaluator: func() (bridge.Evaluator, error) {
						return evalruntime.New()
					},
				},
				Hub: bridge.HubConfig{
					Addr:           cfg.Hub.Addr,
					AllowedOrigins: cfg.Engine.AllowedOrigins,
				},
				ScriptDir: cfg.ScriptDir,
			}
			serverDeps := epupp.ServerDeps{
				ServiceDeps: core.ServiceDeps{
					Pages:  chromepage.NewProvider(),
					Logger: logger,
				},
			}
			server, err := epupp.New(cmd.Context(), serverCfg, serverDeps, epupp.WithBridge(), epupp.WithHub())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			if err := server.Start(ctx); err != nil {
				return err
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&scriptDir, "script-dir", "", "local directory of .cljs files to sync into the store")
	return cmd
}
