package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/eatd/vl-desktop-agent/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("vlagent setup")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.LLM.Provider = ask(scanner, "LLM provider (openai, gemini)", cfg.LLM.Provider)
		cfg.LLM.BaseURL = ask(scanner, "LLM base URL", cfg.LLM.BaseURL)
		cfg.LLM.APIKey = ask(scanner, "LLM API key", cfg.LLM.APIKey)
		cfg.LLM.Model = ask(scanner, "Vision model name", cfg.LLM.Model)

		if n, err := strconv.Atoi(ask(scanner, "Max steps per run", strconv.Itoa(cfg.Agent.MaxSteps))); err == nil {
			cfg.Agent.MaxSteps = n
		}
		if b, err := strconv.ParseBool(ask(scanner, "Dry run by default", strconv.FormatBool(cfg.Agent.DryRun))); err == nil {
			cfg.Agent.DryRun = b
		}

		cfg.Telegram.Token = ask(scanner, "Telegram bot token (optional)", cfg.Telegram.Token)
		if cfg.Telegram.Token != "" {
			chat := ""
			if cfg.Telegram.ChatID != 0 {
				chat = strconv.FormatInt(cfg.Telegram.ChatID, 10)
			}
			if n, err := strconv.ParseInt(ask(scanner, "Telegram chat ID for notifications", chat), 10, 64); err == nil {
				cfg.Telegram.ChatID = n
			}
		}
		cfg.Redis.Addr = ask(scanner, "Redis address for event publishing (optional)", cfg.Redis.Addr)

		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// ask displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func ask(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
