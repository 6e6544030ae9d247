package main

import (
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"github.com/lox/tablesight/internal/config"
	"github.com/lox/tablesight/internal/logging"
)

// version is set by ldflags during build
var version = "dev"

// Globals are the flags shared by every command
type Globals struct {
	Config   string `short:"c" type:"path" default:"tablesight.hcl" env:"TABLESIGHT_CONFIG" help:"HCL configuration file (defaults apply when missing)"`
	LogLevel string `env:"TABLESIGHT_LOG_LEVEL" help:"Override the configured log level"`

	stdout io.Writer `kong:"-"`
}

type CLI struct {
	Globals

	Version     kong.VersionFlag `short:"v" help:"Show version"`
	Serve       ServeCmd         `cmd:"" help:"Run the engine with the websocket feed and recorders"`
	Replay      ReplayCmd        `cmd:"" help:"Replay a JSON-lines observation log through the engine"`
	Hands       HandsCmd         `cmd:"" help:"List recorded hands"`
	CheckConfig CheckConfigCmd   `cmd:"check-config" help:"Validate the configuration and print the effective values"`
}

func main() {
	// A missing .env is fine
	_ = godotenv.Load()

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("tablesight"),
		kong.Description("Fuses noisy table observations into a trusted, versioned game state"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version,
		},
	)
	cli.Globals.stdout = os.Stdout
	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}

func (g *Globals) out() io.Writer {
	if g.stdout == nil {
		return os.Stdout
	}
	return g.stdout
}

// load reads and validates the configuration
func (g *Globals) load() (*config.Config, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	if g.LogLevel != "" {
		cfg.Logging.Level = g.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", g.Config, err)
	}
	return cfg, nil
}

// logger builds the root logger. Logs go to stderr so stdout stays readable.
func (g *Globals) logger(cfg *config.Config) (*log.Logger, io.Closer, error) {
	return logging.New(cfg.Logging, os.Stderr)
}
