// brop-bridge mediates between CDP/BROP automation clients and a single
// browser extension actuator.
package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ajsharma/brop-bridge/internal/bridge"
	"github.com/ajsharma/brop-bridge/internal/config"
)

var (
	cfg        = config.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "brop-bridge",
	Short: "Mediate CDP/BROP automation clients and a browser extension",
	Long: `brop-bridge is a long-running process that multiplexes CDP and BROP
automation clients onto a single browser-extension actuator.

Example:
  # Run with defaults (CDP on 9222, BROP on 9223, extension on 9224, discovery on 9225)
  brop-bridge serve

  # Load ports and bounds from a config file
  brop-bridge serve --config ./bridge.yaml

  # Drive a running bridge from the command line
  brop-bridge control navigate --tab 1 --url https://example.com`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge, binding the CDP, BROP, extension, and discovery listeners",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&configFile, "config", "", "path to a YAML config file (overrides defaults)")
	serveCmd.Flags().IntVar(&cfg.CDPPort, "cdp-port", cfg.CDPPort, "CDP websocket listener port")
	serveCmd.Flags().IntVar(&cfg.BROPPort, "brop-port", cfg.BROPPort, "BROP websocket listener port")
	serveCmd.Flags().IntVar(&cfg.ExtPort, "ext-port", cfg.ExtPort, "extension control-channel listener port")
	serveCmd.Flags().IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "discovery HTTP listener port (set equal to --cdp-port to collapse onto the CDP listener)")
	serveCmd.Flags().BoolVar(&cfg.EnableRequestLog, "request-log", cfg.EnableRequestLog, "emit a structured log line per client call")
	serveCmd.Flags().BoolVar(&cfg.DefaultBrowserContext, "default-browser-context", cfg.DefaultBrowserContext, "create a shared default browser context at startup for Target.createTarget calls with no explicit browserContextId")

	rootCmd.Version = bridge.Version
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(controlCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		loaded, err := config.LoadFromFile(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	b := bridge.New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("brop-bridge: shutdown signal received")
		cancel()
	}()

	log.Printf("brop-bridge %s", bridge.Version)
	log.Printf("cdp=%d brop=%d ext=%d http=%d", cfg.CDPPort, cfg.BROPPort, cfg.ExtPort, cfg.HTTPPort)

	if err := b.Run(ctx); err != nil {
		var bridgeErr *bridge.Error
		if errors.As(err, &bridgeErr) {
			log.Printf("brop-bridge: exiting with code %d: %v", bridgeErr.Code, bridgeErr.Err)
			os.Exit(int(bridgeErr.Code))
		}
		return err
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// --- control command tree -------------------------------------------------

var (
	controlAddr    string
	controlTabID   int64
	controlTimeout time.Duration
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Drive a running bridge's BROP server for scripting and manual testing",
	Long: `Send individual BROP calls to a running brop-bridge process.

Example:
  brop-bridge control create-tab --url https://example.com
  brop-bridge control navigate --tab 1 --url https://example.com
  brop-bridge control click --tab 1 --selector "button#submit"
  brop-bridge control type --tab 1 --selector "input[name=q]" --text "search query"
  brop-bridge control eval --tab 1 --js "document.title"`,
}

func init() {
	controlCmd.PersistentFlags().StringVar(&controlAddr, "addr", "localhost:9223", "BROP server address (host:port)")
	controlCmd.PersistentFlags().Int64VarP(&controlTabID, "tab", "T", 0, "target tab id")
	controlCmd.PersistentFlags().DurationVarP(&controlTimeout, "timeout", "t", 30*time.Second, "call timeout")

	createTabCmd.Flags().String("url", "about:blank", "URL for the new tab")
	navigateCmd.Flags().String("url", "", "URL to navigate to")
	clickCmd.Flags().String("selector", "", "CSS selector of element to click")
	typeCmd.Flags().String("selector", "", "CSS selector of element")
	typeCmd.Flags().String("text", "", "text to type")
	evalCmd.Flags().String("js", "", "JavaScript to evaluate")
	screenshotCmd.Flags().StringP("output", "o", "screenshot.png", "output file (use - for base64 stdout)")
	textCmd.Flags().String("selector", "", "CSS selector of element")

	controlCmd.AddCommand(listTabsCmd, createTabCmd, navigateCmd, clickCmd, typeCmd, evalCmd, screenshotCmd, titleCmd, urlCmd, textCmd)
}

var listTabsCmd = &cobra.Command{
	Use:   "list-tabs",
	Short: "List live tabs",
	RunE: withClient(func(c *controlClient, cmd *cobra.Command, args []string) error {
		result, err := c.ListTabs()
		if err != nil {
			return err
		}
		fmt.Println(string(result))
		return nil
	}),
}

var createTabCmd = &cobra.Command{
	Use:   "create-tab",
	Short: "Open a new tab",
	RunE: withClient(func(c *controlClient, cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")
		tabID, err := c.CreateTab(url)
		if err != nil {
			return fmt.Errorf("create-tab failed: %w", err)
		}
		fmt.Printf("Created tab: %d\n", tabID)
		return nil
	}),
}

var navigateCmd = &cobra.Command{
	Use:   "navigate",
	Short: "Navigate a tab to a URL",
	RunE: withClient(func(c *controlClient, cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")
		if url == "" {
			return fmt.Errorf("--url is required")
		}
		finalURL, err := c.Navigate(controlTabID, url)
		if err != nil {
			return fmt.Errorf("navigate failed: %w", err)
		}
		fmt.Printf("Navigated to: %s\n", finalURL)
		return nil
	}),
}

var clickCmd = &cobra.Command{
	Use:   "click",
	Short: "Click an element",
	RunE: withClient(func(c *controlClient, cmd *cobra.Command, args []string) error {
		selector, _ := cmd.Flags().GetString("selector")
		if selector == "" {
			return fmt.Errorf("--selector is required")
		}
		if err := c.Click(controlTabID, selector); err != nil {
			return fmt.Errorf("click failed: %w", err)
		}
		fmt.Printf("Clicked: %s\n", selector)
		return nil
	}),
}

var typeCmd = &cobra.Command{
	Use:   "type",
	Short: "Type text into an element",
	RunE: withClient(func(c *controlClient, cmd *cobra.Command, args []string) error {
		selector, _ := cmd.Flags().GetString("selector")
		text, _ := cmd.Flags().GetString("text")
		if selector == "" {
			return fmt.Errorf("--selector is required")
		}
		if text == "" {
			return fmt.Errorf("--text is required")
		}
		if err := c.Type(controlTabID, selector, text); err != nil {
			return fmt.Errorf("type failed: %w", err)
		}
		fmt.Printf("Typed into %s: %s\n", selector, text)
		return nil
	}),
}

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate JavaScript",
	RunE: withClient(func(c *controlClient, cmd *cobra.Command, args []string) error {
		js, _ := cmd.Flags().GetString("js")
		if js == "" {
			return fmt.Errorf("--js is required")
		}
		result, err := c.Evaluate(controlTabID, js)
		if err != nil {
			return fmt.Errorf("eval failed: %w", err)
		}
		fmt.Println(string(result))
		return nil
	}),
}

var screenshotCmd = &cobra.Command{
	Use:   "screenshot",
	Short: "Capture a screenshot",
	RunE: withClient(func(c *controlClient, cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			output = "screenshot.png"
		}
		data, err := c.Screenshot(controlTabID)
		if err != nil {
			return fmt.Errorf("screenshot failed: %w", err)
		}
		if output == "-" {
			fmt.Println(base64.StdEncoding.EncodeToString(data))
		} else {
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("failed to write file: %w", err)
			}
			fmt.Printf("Screenshot saved to: %s\n", output)
		}
		return nil
	}),
}

var titleCmd = &cobra.Command{
	Use:   "title",
	Short: "Get page title",
	RunE: withClient(func(c *controlClient, cmd *cobra.Command, args []string) error {
		title, err := c.GetTitle(controlTabID)
		if err != nil {
			return fmt.Errorf("failed to get title: %w", err)
		}
		fmt.Println(title)
		return nil
	}),
}

var urlCmd = &cobra.Command{
	Use:   "url",
	Short: "Get current URL",
	RunE: withClient(func(c *controlClient, cmd *cobra.Command, args []string) error {
		url, err := c.GetURL(controlTabID)
		if err != nil {
			return fmt.Errorf("failed to get URL: %w", err)
		}
		fmt.Println(url)
		return nil
	}),
}

var textCmd = &cobra.Command{
	Use:   "text",
	Short: "Get text content of an element",
	RunE: withClient(func(c *controlClient, cmd *cobra.Command, args []string) error {
		selector, _ := cmd.Flags().GetString("selector")
		if selector == "" {
			return fmt.Errorf("--selector is required")
		}
		text, err := c.GetText(controlTabID, selector)
		if err != nil {
			return fmt.Errorf("failed to get text: %w", err)
		}
		fmt.Println(text)
		return nil
	}),
}
