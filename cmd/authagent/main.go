package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	agentapp "github.com/healthsign/authagent/internal/agent/app"
)

func main() {
	root := &cobra.Command{
		Use:          "authagent",
		Short:        "Smart-card authentication agent for connector-mediated IdP logins",
		SilenceUsage: true,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent: flow engine, user-id cache and loopback listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := agentapp.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			application, err := agentapp.New(cfg)
			if err != nil {
				return fmt.Errorf("initialize agent: %w", err)
			}
			return application.Run()
		},
	}

	var sendPort int
	sendCmd := &cobra.Command{
		Use:   "send <url>",
		Short: "Forward a deep-link URL to a running agent",
		Long: "Forwards an authenticator: deep link to the agent's loopback listener.\n" +
			"The OS protocol handler registration points here, replacing the\n" +
			"browser redirect for relying parties that launch the agent directly.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			location, err := forwardDeepLink(sendPort, args[0])
			if err != nil {
				return err
			}
			if location != "" {
				fmt.Println(location)
			}
			return nil
		},
	}
	sendCmd.Flags().IntVar(&sendPort, "port", defaultPort(), "agent listener port (env AGENT_PORT)")

	root.AddCommand(serveCmd, sendCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultPort() int {
	if v := os.Getenv("AGENT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			return port
		}
	}
	return 39000
}

// forwardDeepLink strips the custom scheme off a deep link and replays
// its content against the loopback listener. Returns the redirect the
// flow finished with, empty when the agent answered with a body.
func forwardDeepLink(port int, deepLink string) (string, error) {
	content := strings.TrimPrefix(deepLink, "authenticator://")
	content = strings.TrimPrefix(content, "authenticator:")
	content = strings.TrimLeft(content, "/")
	if !strings.HasPrefix(content, "?") {
		content = "?" + content
	}

	client := &http.Client{
		// the request parks until the card flow finishes, so no timeout
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	// cheap liveness probe first, for a usable error message
	probe := &http.Client{Timeout: 2 * time.Second}
	if _, err := probe.Get(fmt.Sprintf("http://127.0.0.1:%d/status", port)); err != nil {
		return "", fmt.Errorf("no agent listening on port %d (is `authagent serve` running?): %w", port, err)
	}

	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/%s", port, content))
	if err != nil {
		return "", fmt.Errorf("forward deep link: %w", err)
	}
	defer resp.Body.Close()

	if location := resp.Header.Get("Location"); location != "" {
		return location, nil
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("agent answered %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return strings.TrimSpace(string(body)), nil
}
