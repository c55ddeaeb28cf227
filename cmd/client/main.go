package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"github.com/fenggwsx/BridgeRelay/internal/client"
	"github.com/fenggwsx/BridgeRelay/internal/config"
)

func main() {
	_ = godotenv.Load()

	cfg := config.LoadClientConfig()

	if _, err := tea.NewProgram(client.NewApp(cfg), tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "client exited: %v\n", err)
		os.Exit(1)
	}
}
