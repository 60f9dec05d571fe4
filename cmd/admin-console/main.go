package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/dgellow/admin-console/internal"
	"github.com/dgellow/admin-console/internal/config"
	"github.com/dgellow/admin-console/internal/log"
)

var BuildVersion = "dev"

// sectionOrder is the order in which the validation report lists the
// top-level config sections.
var sectionOrder = []string{"version", "server", "auth", "session"}

func defaultConfig() map[string]any {
	return map[string]any{
		"version": config.ConfigVersion,
		"server": map[string]any{
			"baseURL":     "https://console.yourcompany.com",
			"addr":        ":8080",
			"metricsAddr": ":9090",
		},
		"auth": map[string]any{
			"issuer":          "https://idp.yourcompany.com",
			"clientId":        "admin-console",
			"clientSecret":    map[string]string{"$env": "OAUTH_CLIENT_SECRET"},
			"redirectUri":     "https://console.yourcompany.com/auth/login/callback",
			"scopes":          []string{"openid"},
			"stateSecret":     map[string]string{"$env": "STATE_SECRET"},
			"exchangeTimeout": "10s",
		},
		"session": map[string]any{
			"store":           "redis",
			"encryptionKey":   map[string]string{"$env": "SESSION_ENCRYPTION_KEY"},
			"cleanupInterval": "1m",
			"redis": map[string]any{
				"addr":      "localhost:6379",
				"password":  map[string]string{"$env": "REDIS_PASSWORD"},
				"keyPrefix": config.DefaultRedisKeyPrefix,
			},
		},
	}
}

func writeDefaultConfig(path string) error {
	data, err := json.MarshalIndent(defaultConfig(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// section returns the top-level config key an issue path belongs to
func section(path string) string {
	if path == "" {
		return "file"
	}
	top, _, _ := strings.Cut(path, ".")
	return top
}

// writeReport prints the validation issues of path grouped by config
// section and returns an error when any issue was found.
func writeReport(w io.Writer, path string, result *config.ValidationResult) error {
	type issue struct {
		level string
		config.ValidationError
	}
	bySection := make(map[string][]issue)
	for _, e := range result.Errors {
		bySection[section(e.Path)] = append(bySection[section(e.Path)], issue{"error", e})
	}
	for _, e := range result.Warnings {
		bySection[section(e.Path)] = append(bySection[section(e.Path)], issue{"warning", e})
	}

	if len(bySection) == 0 {
		fmt.Fprintf(w, "%s: ok\n", path)
		return nil
	}

	sections := make([]string, 0, len(bySection))
	for s := range bySection {
		sections = append(sections, s)
	}
	slices.SortFunc(sections, func(a, b string) int {
		ia, ib := slices.Index(sectionOrder, a), slices.Index(sectionOrder, b)
		if ia == -1 {
			ia = len(sectionOrder)
		}
		if ib == -1 {
			ib = len(sectionOrder)
		}
		if ia != ib {
			return ia - ib
		}
		return strings.Compare(a, b)
	})

	fmt.Fprintf(w, "%s:\n", path)
	for _, s := range sections {
		fmt.Fprintf(w, "  [%s]\n", s)
		for _, is := range bySection[s] {
			if is.Path != "" && is.Path != s {
				fmt.Fprintf(w, "    %s %s: %s\n", is.level, is.Path, is.Message)
			} else {
				fmt.Fprintf(w, "    %s: %s\n", is.level, is.Message)
			}
		}
	}
	return fmt.Errorf("%d error(s), %d warning(s)", len(result.Errors), len(result.Warnings))
}

// run parses args and returns the process exit code
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("admin-console", flag.ContinueOnError)
	fs.SetOutput(stderr)
	conf := fs.String("config", "", "path to config file (required)")
	version := fs.Bool("version", false, "print version and exit")
	configInit := fs.String("config-init", "", "write a default config file to the given path and exit")
	validate := fs.Bool("validate", false, "validate the config file and exit")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}

	switch {
	case *version:
		fmt.Fprintln(stdout, BuildVersion)
		return 0
	case *configInit != "":
		if err := writeDefaultConfig(*configInit); err != nil {
			fmt.Fprintf(stderr, "config-init: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "wrote default config to %s\n", *configInit)
		return 0
	case *conf == "":
		fmt.Fprintln(stderr, "-config is required (see -help)")
		return 2
	case *validate:
		result, err := config.ValidateFile(*conf)
		if err != nil {
			fmt.Fprintf(stderr, "validate: %v\n", err)
			return 1
		}
		if err := writeReport(stdout, *conf, result); err != nil {
			return 1
		}
		return 0
	}

	cfg, err := config.Load(*conf)
	if err != nil {
		log.LogError("Failed to load config: %v", err)
		return 1
	}

	log.LogInfoWithFields("main", "Starting admin-console", map[string]any{
		"version": BuildVersion,
		"config":  *conf,
		"store":   cfg.Session.Store,
	})

	console, err := internal.NewConsole(ctx, cfg)
	if err != nil {
		log.LogError("Failed to create admin console: %v", err)
		return 1
	}
	if err := console.Run(ctx); err != nil {
		log.LogError("Admin console stopped with error: %v", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
