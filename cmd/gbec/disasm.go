package main

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/gbe-go/gbe/internal/engine/gen/encoder"
)

type disasmOptions struct {
	programOptions
	kernels []string
}

func newDisasmCommand() *cobra.Command {
	var opts disasmOptions

	cmd := &cobra.Command{
		Use:   "disasm [OPTIONS] PROGRAM [KERNEL...]",
		Short: "Disassemble the instruction words of kernels",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.path, opts.kernels = args[0], args[1:]
			return runDisasm(cmd.OutOrStdout(), opts)
		},
	}
	addProgramFlags(cmd, &opts.programOptions)
	return cmd
}

func runDisasm(out io.Writer, opts disasmOptions) error {
	p, err := loadProgram(opts.programOptions)
	if err != nil {
		return err
	}
	kernels, err := kernelsOf(p, opts.kernels)
	if err != nil {
		return err
	}
	for _, k := range kernels {
		words, err := encoder.WordsFromBytes(k.Code)
		if err != nil {
			return errors.Wrapf(err, "kernel %s", k.Name)
		}
		fmt.Fprintf(out, "%s: SIMD%d\n%s", k.Name, k.SIMDWidth, encoder.Disassemble(words))
	}
	return nil
}
