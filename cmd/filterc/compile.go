package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/chazu/tracefilter/compiler"
	"github.com/chazu/tracefilter/pkg/bytecode"
)

func compileCommand() *cli.Command {
	return &cli.Command{
		Name:      "compile",
		Usage:     "Compile a filter expression",
		ArgsUsage: "EXPR",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Write the serialized program to `FILE`",
			},
			&cli.BoolFlag{
				Name:    "disasm",
				Aliases: []string{"d"},
				Usage:   "Print the disassembly",
			},
			&cli.BoolFlag{
				Name:  "hex",
				Usage: "Print the serialized program as hex",
			},
		},
		Action: runCompile,
	}
}

func runCompile(c *cli.Context) error {
	expr, err := exprArg(c)
	if err != nil {
		return err
	}
	prog, err := compileExpr(c, expr)
	if err != nil {
		return err
	}
	data, err := prog.Serialize()
	if err != nil {
		return err
	}

	w := c.App.Writer
	out := c.String("out")
	if out != "" {
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", out, err)
		}
		fmt.Fprintf(w, "wrote %d bytes to %s\n", len(data), out)
	}
	if c.Bool("hex") {
		fmt.Fprintln(w, hex.EncodeToString(data))
	}
	if c.Bool("disasm") || (out == "" && !c.Bool("hex")) {
		fmt.Fprint(w, prog.Disassemble())
	}
	return nil
}

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:      "check",
		Usage:     "Check a filter expression without emitting code",
		ArgsUsage: "EXPR",
		Action: func(c *cli.Context) error {
			expr, err := exprArg(c)
			if err != nil {
				return err
			}
			if _, err := compileExpr(c, expr); err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, "ok")
			return nil
		},
	}
}

func evalCommand() *cli.Command {
	return &cli.Command{
		Name:      "eval",
		Usage:     "Compile a filter and run it against one event",
		ArgsUsage: "EXPR",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "field",
				Aliases: []string{"f"},
				Usage:   "Event field as `PATH=VALUE` (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "trace",
				Usage: "Trace each executed instruction",
			},
		},
		Action: runEval,
	}
}

func runEval(c *cli.Context) error {
	expr, err := exprArg(c)
	if err != nil {
		return err
	}
	fields, err := parseFields(c.StringSlice("field"))
	if err != nil {
		return err
	}
	prog, err := compileExpr(c, expr)
	if err != nil {
		return err
	}

	vm := bytecode.NewVM()
	vm.Trace = c.Bool("trace")
	vm.TraceOut = c.App.ErrWriter
	match, err := vm.Execute(prog, fields)
	if err != nil {
		return cli.Exit(fmt.Sprintf("runtime error: %v", err), 2)
	}
	fmt.Fprintf(c.App.Writer, "%t (%d instructions, %d field lookups)\n",
		match, vm.Stats.Instructions, vm.Stats.FieldLookups)
	return nil
}

func fmtCommand() *cli.Command {
	return &cli.Command{
		Name:      "fmt",
		Usage:     "Print a filter expression in canonical layout",
		ArgsUsage: "EXPR",
		Action: func(c *cli.Context) error {
			expr, err := exprArg(c)
			if err != nil {
				return err
			}
			out, err := compiler.Format(expr)
			if err != nil {
				return cli.Exit(describeError(expr, err), 1)
			}
			fmt.Fprintln(c.App.Writer, out)
			return nil
		},
	}
}

func disasmCommand() *cli.Command {
	return &cli.Command{
		Name:      "disasm",
		Usage:     "Disassemble a serialized program",
		ArgsUsage: "FILE",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("disasm takes exactly one FILE", 1)
			}
			path := c.Args().First()
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			prog, err := bytecode.Deserialize(data)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			fmt.Fprint(c.App.Writer, prog.DisassembleWithName(path))
			return nil
		},
	}
}

func exprArg(c *cli.Context) (string, error) {
	if c.NArg() == 0 {
		return "", cli.Exit(c.Command.Name+" needs a filter expression", 1)
	}
	return strings.Join(c.Args().Slice(), " "), nil
}

func compileExpr(c *cli.Context, expr string) (*bytecode.Program, error) {
	prog, err := compilerFrom(c).Compile(expr)
	if err != nil {
		return nil, cli.Exit(describeError(expr, err), 1)
	}
	return prog, nil
}

// describeError renders err with the offending source line and a caret
// under the error offset.
func describeError(expr string, err error) string {
	ce, ok := compiler.AsError(err)
	if !ok || ce.Offset < 0 || ce.Offset > len(expr) {
		return err.Error()
	}

	start := strings.LastIndexByte(expr[:ce.Offset], '\n') + 1
	end := strings.IndexByte(expr[ce.Offset:], '\n')
	if end < 0 {
		end = len(expr)
	} else {
		end += ce.Offset
	}

	var b strings.Builder
	b.WriteString(err.Error())
	b.WriteString("\n  ")
	b.WriteString(expr[start:end])
	b.WriteString("\n  ")
	b.WriteString(strings.Repeat(" ", ce.Offset-start))
	b.WriteString("^")
	return b.String()
}
