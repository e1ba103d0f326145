package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jeremy-deutsch/trial-online/internal/config"
	"github.com/jeremy-deutsch/trial-online/internal/content"
	"github.com/jeremy-deutsch/trial-online/internal/engine"
	"github.com/jeremy-deutsch/trial-online/internal/httpapi"
	"github.com/jeremy-deutsch/trial-online/internal/hub"
)

const releaseVersion = "0.2.0"

func main() {
	_ = godotenv.Load()

	cfg := &config.Config{}
	cobra.CheckErr(newCmd(cfg).Execute())
}

func newCmd(cfg *config.Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("TRIAL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "trial-online",
		Short:         "Server for an improvised-courtroom party game.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&cfg.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: TRIAL_BIND)")
	fs.IntVarP(&cfg.Port, "port", "p", 8080, "port to listen on (env: TRIAL_PORT)")
	fs.StringVar(&cfg.CrimesPath, "crimes", "", "path to a crimes dataset replacing the built-in one (env: TRIAL_CRIMES)")
	fs.StringVar(&cfg.EvidencePath, "evidence", "", "path to an evidence dataset replacing the built-in one (env: TRIAL_EVIDENCE)")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "log at debug level (env: TRIAL_VERBOSE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetVersionTemplate("trial-online v{{.Version}}\n")

	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := config.NewLogger(cfg.Verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	lib, err := content.Load(cfg.CrimesPath, cfg.EvidencePath)
	if err != nil {
		return err
	}

	eng := engine.New(len(lib.Crimes), len(lib.Evidence))
	h := hub.NewHub(ctx, eng, lib)

	// Build the router *with* the hub injected
	handler := httpapi.SetupRoutes(h)

	zap.S().Infow("trial-online is up and running",
		"addr", cfg.Addr(),
		"crimes", len(lib.Crimes),
		"evidence", len(lib.Evidence),
	)
	return http.ListenAndServe(cfg.Addr(), handler)
}
