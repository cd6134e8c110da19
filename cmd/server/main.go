// Package main provides the entry point for the hosted H-E-B session service.
// The service stores per-user H-E-B credentials, keeps them fresh and relays persisted GraphQL
// operations on behalf of MCP tool hosts.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/heb-mcp/hebsession/internal/buildinfo"
	"github.com/heb-mcp/hebsession/internal/cmd"
	"github.com/heb-mcp/hebsession/internal/config"
	"github.com/heb-mcp/hebsession/internal/logging"
	log "github.com/sirupsen/logrus"
)

var (
	Version           = "dev"
	Commit            = "none"
	BuildDate         = "unknown"
	DefaultConfigPath = ""
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

// main parses command-line flags, loads configuration and starts the mode the flags select:
// login, key generation or the API server.
func main() {
	fmt.Printf("hebsession Version: %s, Commit: %s, BuiltAt: %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)

	var login bool
	var keygen bool
	var noBrowser bool
	var userID string
	var configPath string
	var envPath string

	flag.BoolVar(&login, "login", false, "Sign in to H-E-B with OAuth and store the tokens")
	flag.BoolVar(&keygen, "keygen", false, "Print a new HEB_SESSION_KEY and exit")
	flag.BoolVar(&noBrowser, "no-browser", false, "Don't open browser automatically for OAuth")
	flag.StringVar(&userID, "user", "default", "User id the login is stored under")
	flag.StringVar(&configPath, "config", DefaultConfigPath, "Configure File Path")
	flag.StringVar(&envPath, "env-file", ".env", "Dotenv file loaded before the environment")
	flag.Parse()

	if keygen {
		cmd.DoKeygen()
		return
	}

	if err := config.LoadDotEnv(envPath); err != nil {
		log.Errorf("failed to load %s: %v", envPath, err)
		os.Exit(1)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		os.Exit(1)
	}
	if err = cfg.Validate(); err != nil {
		log.Errorf("invalid config: %v", err)
		os.Exit(1)
	}
	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.Errorf("failed to configure log output: %v", err)
		os.Exit(1)
	}

	if login {
		cmd.DoLogin(cfg, strings.TrimSpace(userID), &cmd.LoginOptions{NoBrowser: noBrowser})
		return
	}
	cmd.StartService(cfg)
}
