// Command granth runs the document question-answering service.
//
// Usage:
//
//	granth serve --config granth.yaml
//	granth index ./docs
//	granth query "What does the onboarding guide say about VPN access?"
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/granthlabs/granth/pkg/config"
	"github.com/granthlabs/granth/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP server."`
	Index    IndexCmd    `cmd:"" help:"Index a folder of documents."`
	Query    QueryCmd    `cmd:"" help:"Ask a question against the indexed documents."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Generate JSON Schema for the configuration."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("granth version %s\n", version)
	return nil
}

// initLogger installs the default slog logger from CLI flags, falling
// back to LOG_LEVEL, LOG_FILE and LOG_FORMAT environment variables.
// Returns a cleanup function that closes the log file, if any.
func initLogger(cli *CLI) (func(), error) {
	logLevel := cli.LogLevel
	if logLevel == "" {
		logLevel = config.EnvString("LOG_LEVEL", "info")
	}
	logFile := cli.LogFile
	if logFile == "" {
		logFile = os.Getenv("LOG_FILE")
	}
	logFormat := cli.LogFormat
	if logFormat == "" {
		logFormat = config.EnvString("LOG_FORMAT", logger.FormatSimple)
	}

	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var output *os.File
	cleanup := func() {}
	if logFile != "" {
		file, err := logger.OpenLogFile(logFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
		cleanup = func() { file.Close() }
	}

	logger.Init(level, output, logFormat)
	return cleanup, nil
}

func main() {
	// .env files are loaded before kong parsing so that flag defaults
	// backed by env vars see them.
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("granth"),
		kong.Description("Granth - document question-answering service"),
		kong.UsageOnError(),
	)

	cleanup, err := initLogger(&cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
