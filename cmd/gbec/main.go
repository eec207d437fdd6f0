// Command gbec inspects program binaries produced by gbe, either serialized by Program.MarshalBinary
// or read from an lz4 compressed compilation cache entry.
package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/gbe-go/gbe"
)

func main() {
	if err := newRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

type programOptions struct {
	path string
	lz4  bool
}

func newRootCommand(stdOut, stdErr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "gbec",
		Short:        "Inspect gbe program binaries",
		SilenceUsage: true,
	}
	cmd.SetOut(stdOut)
	cmd.SetErr(stdErr)
	cmd.AddCommand(newInspectCommand(), newDisasmCommand())
	return cmd
}

func addProgramFlags(cmd *cobra.Command, opts *programOptions) {
	cmd.Flags().BoolVar(&opts.lz4, "lz4", false, "The binary is an lz4 frame, as stored by the compilation cache")
}

// loadProgram reads and decodes the program binary at opts.path.
func loadProgram(opts programOptions) (*gbe.Program, error) {
	b, err := os.ReadFile(opts.path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if opts.lz4 {
		if b, err = io.ReadAll(lz4.NewReader(bytes.NewReader(b))); err != nil {
			return nil, errors.Wrapf(err, "decompress %s", opts.path)
		}
	}
	p, err := gbe.DecodeProgram(b)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", opts.path)
	}
	return p, nil
}

// kernelsOf returns the kernels of p named in names, or all of them when names is empty.
func kernelsOf(p *gbe.Program, names []string) ([]*gbe.Kernel, error) {
	if len(names) == 0 {
		return p.Kernels, nil
	}
	ret := make([]*gbe.Kernel, 0, len(names))
	for _, name := range names {
		k := p.Kernel(name)
		if k == nil {
			return nil, fmt.Errorf("no such kernel: %s", name)
		}
		ret = append(ret, k)
	}
	return ret, nil
}
