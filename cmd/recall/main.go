package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"recall/internal/app"
	"recall/internal/config"
	"recall/internal/logging"
	"recall/internal/tui"
)

func main() {
	_ = godotenv.Load()

	var cfgPath, logPath string
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/recall/config.yaml if not provided)")
	flag.StringVar(&logPath, "log", filepath.Join(os.TempDir(), "recall.log"), "Where to write logs while the UI owns the terminal")
	flag.Parse()

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.ToFile(cfg.Log.Level, logPath)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer a.Close(ctx)

	// positional arguments are imported before the UI starts
	if inputs := flag.Args(); len(inputs) > 0 {
		res, err := a.Service.ImportFiles(ctx, inputs)
		if err != nil {
			a.Close(ctx)
			log.Fatalf("import failed: %v", err)
		}
		fmt.Printf("Imported %d new, %d updated\n", res.Inserted, res.Updated)
	}

	if _, err := tea.NewProgram(tui.New(a.Service), tea.WithAltScreen()).Run(); err != nil {
		a.Close(ctx)
		log.Fatal(err)
	}
}
