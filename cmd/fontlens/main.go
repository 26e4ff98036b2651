package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"fontlens/internal/app"
	"fontlens/internal/config"
	"fontlens/internal/infrastructure"
)

func main() {
	configPath := flag.String("config", config.ConfigFilePath(), "path to the YAML config file")
	showVersion := flag.Bool("version", false, "print the version and exit")
	checkOnly := flag.Bool("check-license", false, "run the startup license check, print the verdict and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s %s\n", config.AppName, config.AppVersion)
		return
	}
	if err := run(*configPath, *checkOnly); err != nil {
		slog.Error("Application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(configPath string, checkOnly bool) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer infrastructure.CloseLogFile()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer application.Close(context.WithoutCancel(ctx))

	if checkOnly {
		res := application.License.CheckOnStartup(ctx)
		fmt.Printf("state=%s code=%s\n", res.State, res.Code)
		if !res.State.Grants() {
			return fmt.Errorf("license does not grant access: %s", res.State)
		}
		return nil
	}
	return application.Run(ctx)
}
