// Package cmd defines the swdedup CLI.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/swdedup/internal/app"
	"github.com/JakeFAU/swdedup/internal/config"
	"github.com/JakeFAU/swdedup/internal/crawler"
	"github.com/JakeFAU/swdedup/internal/detect"
	"github.com/JakeFAU/swdedup/internal/logging"
	"github.com/JakeFAU/swdedup/internal/pipeline"
)

// configKeyAnnotation marks a flag that overrides a config key.
const configKeyAnnotation = "swdedup/config-key"

type appKeyType string

const appKey appKeyType = "app"

// App is the set of services commands use. Tests inject a fake through newApp.
type App interface {
	Config() config.Config
	Logger() *zap.Logger
	Crawl(ctx context.Context, urls []string) (crawler.Result, error)
	Dedup(ctx context.Context, dryRun bool) (pipeline.Report, error)
	Detect(ctx context.Context) (detect.Result, error)
	Discover(ctx context.Context) (detect.Discovery, error)
	Close(ctx context.Context)
}

var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "swdedup",
		Short: "Crawl, deduplicate and classify web-push service worker scripts.",
		Long: `swdedup downloads service worker scripts from a URL list into a resumable
local corpus, collapses near-duplicates with ssdeep fuzzy hashing, and scans
the unique scripts for web-push signals and known push providers.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			v := viper.New()
			if err := bindConfigFlags(v, cmd.Flags()); err != nil {
				return err
			}
			cfg, err := config.LoadWith(v, cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newDedupCmd())
	cmd.AddCommand(newDetectCmd())
	cmd.AddCommand(newDiscoverCmd())
	cmd.AddCommand(newRunCmd())
	return cmd
}

// bindConfigFlags lets every annotated flag override its config key.
func bindConfigFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		keys := f.Annotations[configKeyAnnotation]
		if len(keys) == 0 || bindErr != nil {
			return
		}
		if err := v.BindPFlag(keys[0], f); err != nil {
			bindErr = fmt.Errorf("bind flag --%s: %w", f.Name, err)
		}
	})
	return bindErr
}

func configFlag(cmd *cobra.Command, name, key string) {
	if err := cmd.Flags().SetAnnotation(name, configKeyAnnotation, []string{key}); err != nil {
		panic(fmt.Sprintf("annotate flag --%s: %v", name, err))
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// withApp resolves the injected App and closes it once fn returns.
func withApp(fn func(cmd *cobra.Command, a App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		a, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close(context.WithoutCancel(cmd.Context()))
		return fn(cmd, a)
	}
}

// Execute runs the CLI until it finishes or receives SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		zap.L().Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}
