package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/NikhilSetiya/resilience-toolkit/internal/observability"
	"github.com/NikhilSetiya/resilience-toolkit/pkg/config"
	"github.com/NikhilSetiya/resilience-toolkit/pkg/logging"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	serve := flag.Bool("serve", false, "serve /health, /ready, /metrics and /errors instead of checking once")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && *envFile != ".env" {
		log.Printf("Failed to load %s: %v", *envFile, err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	svc, err := observability.NewService(cfg, version)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	logging.SetGlobalLogger(svc.Logger())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := 0
	if *serve {
		if err := svc.Serve(ctx); err != nil {
			svc.Logger().Error("Server failed", "error", err.Error())
			code = 1
		}
	} else {
		code = checkOnce(ctx, svc)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := svc.Shutdown(shutdownCtx); err != nil {
		svc.Logger().Warn("Shutdown incomplete", "error", err.Error())
	}
	cancel()

	os.Exit(code)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFile(path)
}

// checkOnce prints the report as JSON. The exit code is 1 when the system is
// not ready and 2 when the report cannot be written.
func checkOnce(ctx context.Context, svc *observability.Service) int {
	report := svc.CheckOnce(ctx)

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode report: %v\n", err)
		return 2
	}

	if !report.Ready() {
		return 1
	}
	return 0
}
