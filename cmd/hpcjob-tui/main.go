package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tinytelemetry/hpcjob/internal/socketrpc"
	"github.com/tinytelemetry/hpcjob/internal/tui"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

func main() {
	var configPath string
	var socketPath string
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/hpcjob/config.yml)")
	flag.StringVar(&socketPath, "socket", "", "override socket path to connect to the hpcjob service")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("hpcjob-tui - job browser\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	cfg, err := loadCLIConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if socketPath != "" {
		cfg.SocketPath = socketPath
	}

	if err := runTUI(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runTUI(cfg cliConfig) error {
	client, err := socketrpc.Dial(cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("cannot connect to hpcjob at %s: %w\nIs hpcjob running with serve enabled?", cfg.SocketPath, err)
	}
	defer client.Close()

	app := tui.NewApp(
		tui.NewJobsPage(client, cfg.RefreshInterval),
		tui.NewJobPage(client),
	)

	p := tea.NewProgram(app, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		if strings.Contains(err.Error(), "TTY") || strings.Contains(err.Error(), "/dev/tty") {
			return fmt.Errorf("TUI requires a real terminal")
		}
		return fmt.Errorf("error running TUI: %w", err)
	}
	return nil
}
