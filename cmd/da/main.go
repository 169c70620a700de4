// Copyright (C) 2024 the da Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Command da is the CLI described in spec.md §6: `da [flags] FILE.da`,
// compiling and (by default) running the named source file. Flag
// handling is grounded on cmd/sneller/main.go's package-level dash*
// vars registered from init(), rather than a flag.FlagSet built
// per-call.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dalang/da/bytecode"
	"github.com/dalang/da/compiler"
	"github.com/dalang/da/device"
	"github.com/dalang/da/frontend"
	"github.com/dalang/da/internal/errs"
	"github.com/dalang/da/internal/logflag"
	"github.com/dalang/da/kernel"
	"github.com/dalang/da/value"
	"github.com/dalang/da/vm"
)

var (
	dashv bool
	dashs bool
	dashl bool
	dashp bool
	dashc bool
	dashr string
	dasho string
)

func init() {
	flag.BoolVar(&dashv, "v", false, "verbose: print tokens, AST, and bytecode")
	flag.BoolVar(&dashs, "s", false, "silent: suppress the program's own stdout")
	flag.BoolVar(&dashl, "l", false, "print the lexer's token stream")
	flag.BoolVar(&dashp, "p", false, "print the parsed AST")
	flag.BoolVar(&dashc, "c", false, "print compiled bytecode")
	flag.StringVar(&dashr, "r", "1", "run the program if not \"0\" or \"disable\"")
	flag.StringVar(&dasho, "o", "", "emit compiled bytecode to FILE (reserved)")
}

func runEnabled() bool {
	return dashr != "0" && dashr != "disable"
}

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: da [flags] FILE.da")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if err := run(args[0]); err != nil {
		fmt.Fprintln(os.Stderr, "da:", err)
		os.Exit(1)
	}
}

func run(filename string) (err error) {
	defer errs.Recover(&err)

	if dashv {
		logflag.Add(logflag.Verbose)
	}
	if dashl {
		logflag.Add(logflag.Tokens)
	}
	if dashp {
		logflag.Add(logflag.AST)
	}
	if dashc {
		logflag.Add(logflag.Bytecode)
	}

	src, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	toks := frontend.Lex(filename, string(src))
	if logflag.Has(logflag.Tokens) {
		frontend.DumpTokens(os.Stderr, toks)
	}

	module := frontend.Parse(filename, string(src))
	if logflag.Has(logflag.AST) {
		frontend.DumpAST(os.Stderr, module)
	}

	prog, err := compiler.CompileModule(module)
	if err != nil {
		return err
	}
	if logflag.Has(logflag.Bytecode) {
		dumpProgram(os.Stderr, prog)
	}

	if dasho != "" {
		f, err := os.Create(dasho)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := bytecode.Dump(f, prog); err != nil {
			return err
		}
	}

	if !runEnabled() {
		return nil
	}

	mgr := device.NewManager()
	reg := kernel.NewRegistry(nil)
	reg.Register(kernel.NewCPULibrary())
	dev := value.Device{Type: value.CPU}

	v := vm.New(prog, mgr, reg, dev)
	defer v.Close()
	v.SetFilename(filename)
	if dashs {
		v.SetStdout(discardWriter{})
	}
	_, err = v.Run(nil)
	return err
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// dumpProgram writes every compiled Code object's instruction stream,
// backing the CLI's -c / -v flags.
func dumpProgram(w *os.File, prog *bytecode.Program) {
	for i, code := range prog.Codes {
		fmt.Fprintf(w, "Code[%d] %s %q\n", i, code.Kind, code.Name)
		for _, instr := range code.Instructions {
			fmt.Fprintf(w, "  %s\n", instr)
		}
	}
}
