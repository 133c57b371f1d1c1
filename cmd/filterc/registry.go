package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/chazu/tracefilter/compiler/hash"
	"github.com/chazu/tracefilter/registry"
)

func registryCommand() *cli.Command {
	return &cli.Command{
		Name:  "registry",
		Usage: "Manage persisted filter attachments",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "db",
				Usage: "Filter database `PATH` (default from configuration)",
			},
		},
		Subcommands: []*cli.Command{
			{
				Name:      "attach",
				Usage:     "Attach a filter to an event",
				ArgsUsage: "SESSION CHANNEL EVENT EXPR",
				Action:    withRegistry(runAttach),
			},
			{
				Name:      "detach",
				Usage:     "Detach the filter of an event",
				ArgsUsage: "SESSION CHANNEL EVENT",
				Action:    withRegistry(runDetach),
			},
			{
				Name:      "list",
				Usage:     "List attached filters",
				ArgsUsage: "[SESSION]",
				Action:    withRegistry(runList),
			},
			{
				Name:      "save",
				Usage:     "Write a session snapshot",
				ArgsUsage: "SESSION",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "out",
						Aliases:  []string{"o"},
						Usage:    "Snapshot `FILE`",
						Required: true,
					},
				},
				Action: withRegistry(runSave),
			},
			{
				Name:      "load",
				Usage:     "Attach every filter of a session snapshot",
				ArgsUsage: "FILE",
				Action:    withRegistry(runLoad),
			},
		},
	}
}

// withRegistry opens the SQLite-backed registry, restores it and hands it
// to fn.
func withRegistry(fn func(*cli.Context, *registry.Registry) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg := configFrom(c)
		path := c.String("db")
		if path == "" {
			path = cfg.DatabasePath()
		}
		store, err := registry.OpenSQLite(path)
		if err != nil {
			return err
		}
		r := registry.New(store, registry.WithCompiler(compilerFrom(c)))
		defer r.Close()

		if _, err := r.Restore(c.Context); err != nil {
			fmt.Fprintf(c.App.ErrWriter, "warning: %v\n", err)
		}
		return fn(c, r)
	}
}

func keyArgs(c *cli.Context) (registry.Key, error) {
	if c.NArg() < 3 {
		return registry.Key{}, cli.Exit("need SESSION CHANNEL EVENT", 1)
	}
	a := c.Args()
	return registry.Key{Session: a.Get(0), Channel: a.Get(1), Event: a.Get(2)}, nil
}

func runAttach(c *cli.Context, r *registry.Registry) error {
	key, err := keyArgs(c)
	if err != nil {
		return err
	}
	if c.NArg() != 4 {
		return cli.Exit("attach needs SESSION CHANNEL EVENT EXPR", 1)
	}
	expr := c.Args().Get(3)
	rule, err := r.Attach(c.Context, key, expr)
	if err != nil {
		return cli.Exit(describeError(expr, err), 1)
	}
	fmt.Fprintf(c.App.Writer, "attached %s %s\n", rule.Key, hash.String(rule.Fingerprint)[:12])
	return nil
}

func runDetach(c *cli.Context, r *registry.Registry) error {
	key, err := keyArgs(c)
	if err != nil {
		return err
	}
	if err := r.Detach(c.Context, key); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "detached %s\n", key)
	return nil
}

func runList(c *cli.Context, r *registry.Registry) error {
	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tFINGERPRINT\tINSTRUCTIONS\tEXPRESSION")
	for _, rule := range r.List(c.Args().First()) {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n",
			rule.Key, hash.String(rule.Fingerprint)[:12], len(rule.Program.Code), rule.Expression)
	}
	return tw.Flush()
}

func runSave(c *cli.Context, r *registry.Registry) error {
	session := c.Args().First()
	data, err := r.Save(session)
	if err != nil {
		return err
	}
	out := c.String("out")
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", out, err)
	}
	fmt.Fprintf(c.App.Writer, "saved %d filters of %s to %s\n", len(r.List(session)), session, out)
	return nil
}

func runLoad(c *cli.Context, r *registry.Registry) error {
	if c.NArg() != 1 {
		return cli.Exit("load takes exactly one FILE", 1)
	}
	data, err := os.ReadFile(c.Args().First())
	if err != nil {
		return err
	}
	n, err := r.Load(c.Context, data)
	fmt.Fprintf(c.App.Writer, "attached %d filters\n", n)
	return err
}
