package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/lmcbridge/internal/config"
)

type checkReport struct {
	Path        string   `json:"path"`
	Valid       bool     `json:"valid"`
	Fingerprint string   `json:"blake3,omitempty"`
	Connections int      `json:"connections"`
	Warnings    []string `json:"warnings,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// resolveConfigPath applies discovery when path is empty and maps a directory
// to the config.yaml inside it.
func resolveConfigPath(path string) (string, error) {
	if path == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			return "", err
		}
		path = discovered
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, "config.yaml")
	}
	return filepath.Abs(path)
}

func loadConfig(path string) (*config.Config, string, error) {
	resolved, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(resolved)
	if err != nil {
		return nil, resolved, err
	}
	return cfg, resolved, nil
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	report := checkReport{}
	cfg, resolved, err := loadConfig(*configPath)
	report.Path = resolved
	if err != nil {
		report.Error = err.Error()
	} else {
		report.Valid = true
		report.Connections = len(cfg.Connections)
		report.Warnings = config.UnknownTypes(cfg)
		if report.Fingerprint, err = config.Fingerprint(resolved); err != nil {
			report.Valid = false
			report.Error = err.Error()
		}
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(data))
	} else {
		printCheckReport(report)
	}
	if !report.Valid {
		return 1
	}
	return 0
}

func printCheckReport(r checkReport) {
	fmt.Printf("Config: %s\n", r.Path)
	if !r.Valid {
		fmt.Printf("Error: %s\n", r.Error)
		fmt.Println("Status: Configuration check FAILED.")
		return
	}
	fmt.Printf("BLAKE3: %s\n", r.Fingerprint)
	fmt.Printf("Connections: %d\n", r.Connections)
	for _, w := range r.Warnings {
		fmt.Printf("Warning: %s\n", w)
	}
	fmt.Println("Status: Configuration check PASSED.")
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Render error: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Render error: %v\n", err)
		return 1
	}
	fmt.Print(string(data))
	return 0
}
