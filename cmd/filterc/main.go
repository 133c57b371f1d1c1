// filterc compiles, checks and manages trace event filters.
package main

import (
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	"github.com/urfave/cli/v2"

	"github.com/chazu/tracefilter/cache"
	"github.com/chazu/tracefilter/compiler"
	"github.com/chazu/tracefilter/config"
	"github.com/chazu/tracefilter/server"

	_ "github.com/tliron/commonlog/simple"
)

const configKey = "config"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	var verbosity int
	return &cli.App{
		Name:  "filterc",
		Usage: "Compile and manage trace event filter expressions",
		Description: `Compiles filter expressions such as

  $ctx.procname == "bash" && fd > 2

into the bytecode consumed by tracing probes.

Configuration is read from tracefilter.toml in the current directory or
the nearest parent, or from the file given with --config.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to tracefilter.toml",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Increase log verbosity (repeatable)",
				Count:   &verbosity,
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := loadConfig(c.String("config"))
			if err != nil {
				return err
			}
			v := cfg.Log.Verbosity
			if verbosity > 0 {
				v = verbosity
			}
			commonlog.Configure(v, cfg.LogFile())
			c.App.Metadata[configKey] = cfg
			return nil
		},
		Commands: []*cli.Command{
			compileCommand(),
			checkCommand(),
			fmtCommand(),
			evalCommand(),
			disasmCommand(),
			registryCommand(),
			lspCommand(),
		},
		Metadata: map[string]any{},
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfg, err := config.FindAndLoad(wd)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

func configFrom(c *cli.Context) *config.Config {
	if cfg, ok := c.App.Metadata[configKey].(*config.Config); ok {
		return cfg
	}
	return config.Default()
}

func compilerFrom(c *cli.Context) *compiler.Compiler {
	return compiler.New(configFrom(c).CompilerLimits())
}

func lspCommand() *cli.Command {
	return &cli.Command{
		Name:  "lsp",
		Usage: "Start the language server on stdio",
		Action: func(c *cli.Context) error {
			cfg := configFrom(c)
			s := server.NewLSP(cache.New(compilerFrom(c), cfg.Registry.CacheSize), cfg)
			return s.Run()
		},
	}
}
