// ABOUTME: Door scanner CLI for validating admission credentials
// ABOUTME: Reads scanned payloads from stdin and prints GRANTED/DENIED per scan

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
)

var version = "dev"

// getConfigPath returns the path to the gate config file.
// Priority: GATHER_GATE_CONFIG env var > XDG_CONFIG_HOME/gather/gate.toml > ~/.config/gather/gate.toml
func getConfigPath() string {
	if envPath := os.Getenv("GATHER_GATE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gate.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "gather", "gate.toml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: gather-gate <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  scan                Read scanned credentials from stdin, one per line")
		fmt.Println("  check CREDENTIAL    Validate a single credential and exit")
		fmt.Println("  version             Print version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "scan":
		err = runScan(ctx)
	case "check":
		if len(os.Args) < 3 {
			err = fmt.Errorf("check requires a credential argument")
		} else {
			err = runCheck(ctx, os.Args[2])
		}
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// decision mirrors the gateway's gate validation response.
type decision struct {
	Granted        bool   `json:"granted"`
	AttendeeName   string `json:"attendee_name"`
	GatheringTitle string `json:"gathering_title"`
	Reason         string `json:"reason"`
}

// validate posts the scanned credential to the gateway and returns its decision.
func validate(ctx context.Context, cfg *Config, cred string) (*decision, error) {
	body, err := json.Marshal(map[string]string{"credential": cred})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	url := strings.TrimSuffix(cfg.Gateway.URL, "/") + "/api/gate/validate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.Gateway.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Gateway.Token)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("validating credential: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var d decision
		if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
			return nil, fmt.Errorf("parsing response: %w", err)
		}
		return &d, nil
	case http.StatusBadRequest:
		// Unreadable payload counts as a deny at the door.
		return &decision{Granted: false, Reason: "unreadable credential"}, nil
	default:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, data)
	}
}

// printDecision renders the scan result: big green GRANTED or red DENIED.
func printDecision(d *decision, beep bool) {
	if d.Granted {
		green := color.New(color.FgGreen, color.Bold)
		green.Print("  ✓ GRANTED  ")
		fmt.Printf("%s", d.AttendeeName)
		if d.GatheringTitle != "" {
			gray := color.New(color.FgHiBlack)
			gray.Printf("  (%s)", d.GatheringTitle)
		}
		fmt.Println()
		return
	}

	red := color.New(color.FgRed, color.Bold)
	red.Print("  ✗ DENIED   ")
	fmt.Println(d.Reason)
	if beep {
		fmt.Print("\a")
	}
}

func runScan(ctx context.Context) error {
	cfg, err := Load(getConfigPath())
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Println("gather-gate: scanning mode")
	fmt.Printf("gateway: %s\n", cfg.Gateway.URL)
	fmt.Println("paste or scan a credential, one per line (ctrl-d to quit)")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	// Encoded credentials can exceed the default token size.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		cred := strings.TrimSpace(scanner.Text())
		if cred == "" {
			continue
		}

		d, err := validate(ctx, cfg, cred)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  ! error: %v\n", err)
			continue
		}
		printDecision(d, cfg.Scanner.Beep)
	}

	return scanner.Err()
}

func runCheck(ctx context.Context, cred string) error {
	cfg, err := Load(getConfigPath())
	if err != nil {
		return err
	}

	d, err := validate(ctx, cfg, strings.TrimSpace(cred))
	if err != nil {
		return err
	}
	printDecision(d, false)

	if !d.Granted {
		os.Exit(1)
	}
	return nil
}
