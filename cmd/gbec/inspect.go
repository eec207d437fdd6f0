package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gbe-go/gbe"
	"github.com/gbe-go/gbe/api"
	"github.com/gbe-go/gbe/internal/engine/gen/encoder"
)

type inspectOptions struct {
	programOptions
	kernels []string
}

func newInspectCommand() *cobra.Command {
	var opts inspectOptions

	cmd := &cobra.Command{
		Use:   "inspect [OPTIONS] PROGRAM [KERNEL...]",
		Short: "Print the kernels of a program binary",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.path, opts.kernels = args[0], args[1:]
			return runInspect(cmd.OutOrStdout(), opts)
		},
	}
	addProgramFlags(cmd, &opts.programOptions)
	return cmd
}

func runInspect(out io.Writer, opts inspectOptions) error {
	p, err := loadProgram(opts.programOptions)
	if err != nil {
		return err
	}
	kernels, err := kernelsOf(p, opts.kernels)
	if err != nil {
		return err
	}

	if c := p.Constants; c != nil && len(opts.kernels) == 0 {
		fmt.Fprintf(out, "constants: %d bytes\n", len(c.Data))
		for _, k := range c.Constants {
			fmt.Fprintf(out, "  %s offset=%d size=%d align=%d\n", k.Name, k.Offset, k.Size, k.Align)
		}
	}
	for idx, k := range kernels {
		printKernel(out, k)
		// print extra space between kernels, but not after the last one
		if idx+1 != len(kernels) {
			fmt.Fprintln(out)
		}
	}
	return nil
}

func printKernel(out io.Writer, k *gbe.Kernel) {
	w := tabwriter.NewWriter(out, 0, 4, 1, ' ', 0)
	fmt.Fprintf(w, "kernel:\t%s\n", k.Name)
	fmt.Fprintf(w, "simd:\t%d\n", k.SIMDWidth)
	fmt.Fprintf(w, "words:\t%d\n", len(k.Code)/encoder.WordSize)
	fmt.Fprintf(w, "curbe:\t%d bytes\n", k.CurbeSize)
	fmt.Fprintf(w, "stack:\t%d bytes per lane\n", k.StackSize)
	fmt.Fprintf(w, "scratch:\t%d bytes per thread\n", k.ScratchSize)
	if k.UseSLM {
		fmt.Fprintf(w, "slm:\t%d bytes\n", k.SLMSize)
	}
	if k.WorkGroupSize != [3]uint32{} {
		fmt.Fprintf(w, "work group:\t%dx%dx%d\n", k.WorkGroupSize[0], k.WorkGroupSize[1], k.WorkGroupSize[2])
	}
	_ = w.Flush()

	if len(k.Args) > 0 {
		fmt.Fprintln(out, "args:")
		for i, a := range k.Args {
			fmt.Fprintf(out, "  %d: %s %s size=%d align=%d curbe=%d\n", i, a.Type, a.Name, a.Size, a.Align,
				k.CurbeOffset(api.CurbeKernelArgument, uint32(i)))
		}
	}
	if len(k.Patches) > 0 {
		fmt.Fprintln(out, "curbe:")
		for _, p := range k.Patches {
			fmt.Fprintf(out, "  %s[%d] @ %d\n", p.Type, p.Sub, p.Offset)
		}
	}
	for i, s := range k.Samplers {
		fmt.Fprintf(out, "sampler %d: %#x\n", i, s)
	}
	for i, img := range k.Images {
		fmt.Fprintf(out, "image %d: arg %d slot %d\n", i, img.Arg, img.Slot)
	}
}
