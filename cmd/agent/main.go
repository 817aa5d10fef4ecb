package main

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/wardenhq/warden/internal/agent"
	"github.com/wardenhq/warden/internal/agent/inventory"
	"github.com/wardenhq/warden/internal/agent/uninstall"
)

const agentVersion = "1.2.0"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := agent.Config{
		ServerURL:         getEnv("SERVER_URL", "http://localhost:3000"),
		EnrollmentKey:     getEnv("ENROLLMENT_KEY", ""),
		StateFile:         getEnv("AGENT_STATE_FILE", defaultStateFile()),
		AgentVersion:      agentVersion,
		InventoryInterval: time.Duration(getEnvInt("INVENTORY_INTERVAL_SECONDS", 300)) * time.Second,
		PollInterval:      time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 60)) * time.Second,
		CommandTimeout:    time.Duration(getEnvInt("COMMAND_TIMEOUT_MINUTES", 15)) * time.Minute,
	}

	slog.Info("Starting Warden agent", "version", agentVersion, "server", cfg.ServerURL)

	runner := agent.ExecRunner{}
	collector := inventory.NewCollector(runner, exec.LookPath)

	platform := uninstall.DetectPlatform(exec.LookPath)
	slog.Info("Detected platform", "platform", platform)
	uninstaller := uninstall.New(platform, runner, collector.Collect)

	client := agent.NewClient(cfg, collector, uninstaller)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("Shutting down agent...")
		cancel()
	}()

	if err := client.Run(ctx); err != nil {
		slog.Error("Agent error", "error", err)
		os.Exit(1)
	}
}

func defaultStateFile() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "warden", "agent.json")
	}
	return "warden-agent.json"
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
