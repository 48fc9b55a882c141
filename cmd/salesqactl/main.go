package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/salesqa/salesqa/internal/cli/salesqactl"
)

func main() {
	timeout := parseDurationWithDefault(strings.TrimSpace(os.Getenv("SALESQA_CLI_TIMEOUT")), 2*time.Minute)
	options := salesqactl.Options{
		BaseURL:  envOr("SALESQA_API_URL", "http://localhost:8000"),
		APIKey:   strings.TrimSpace(os.Getenv("SALESQA_API_KEY")),
		Provider: envOr("SALESQA_MODEL_PROVIDER", "openai"),
		Model:    strings.TrimSpace(os.Getenv("SALESQA_MODEL_NAME")),
		Timeout:  timeout,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
	}

	code := salesqactl.Run(context.Background(), os.Args[1:], options)
	os.Exit(code)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDurationWithDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid SALESQA_CLI_TIMEOUT %q; using %s\n", raw, fallback)
		return fallback
	}
	return parsed
}
