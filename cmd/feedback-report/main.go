// Command feedback-report prints a quality summary of the feedback log.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/plantsage/backend/internal/evaluation"
	"github.com/plantsage/backend/internal/feedback"
	"github.com/plantsage/backend/pkg/config"
	appLogger "github.com/plantsage/backend/pkg/logger"
)

func main() {
	logPath := flag.String("log", "", "path to the feedback JSONL log (defaults to the configured path)")
	top := flag.Int("top", 10, "number of most-demoted chunks to list")
	asJSON := flag.Bool("json", false, "print the report as JSON")
	flag.Parse()

	if err := appLogger.Init("warn", "console", "stderr"); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	path := *logPath
	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			appLogger.Fatal("Failed to load config", zap.Error(err))
		}
		path = cfg.Feedback.LogPath
	}

	records, err := feedback.ReadAll(path)
	if err != nil {
		appLogger.Fatal("Failed to read feedback log", zap.String("path", path), zap.Error(err))
	}

	report := evaluation.Summarize(records, *top)
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			appLogger.Fatal("Failed to encode report", zap.Error(err))
		}
		return
	}
	fmt.Print(evaluation.GenerateReport(report))
}
