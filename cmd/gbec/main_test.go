package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/require"

	"github.com/gbe-go/gbe"
	"github.com/gbe-go/gbe/api"
	"github.com/gbe-go/gbe/ir"
)

func addKernel(name string) *ir.Function {
	fn := ir.NewFunction(name)
	fn.SIMDWidth = 8
	fn.WorkGroupSize = [3]uint32{8, 1, 1}
	x := fn.AddArgument(api.ArgValue, 4, 4, "x")
	y := fn.AddArgument(api.ArgValue, 4, 4, "y")
	out := fn.AddArgument(api.ArgGlobalPointer, 4, 4, "out")
	sum := fn.NewRegister(ir.FamilyDWord)
	b := ir.NewBuilder(fn)
	b.Binary(ir.OpcodeAdd, ir.TypeS32, sum, x, y)
	b.Store(ir.TypeS32, ir.SpaceGlobal, true, out, sum)
	b.Ret()
	return fn
}

// writeProgram compiles a program of two kernels and writes its binary, raw and lz4 compressed.
func writeProgram(t *testing.T) (raw, compressed string) {
	unit := &ir.Unit{Name: "test", Functions: []*ir.Function{addKernel("first"), addKernel("second")}}
	unit.Constants = &ir.ConstantSet{}
	unit.Constants.Add("lut", []byte{1, 2, 3, 4}, 4)

	c, err := gbe.NewCompiler(gbe.NewConfig())
	require.NoError(t, err)
	sink := &gbe.MemorySink{}
	_, err = c.CompileProgram(context.Background(), unit, sink)
	require.NoError(t, err)

	dir := t.TempDir()
	raw = filepath.Join(dir, "program.bin")
	require.NoError(t, os.WriteFile(raw, sink.Binary(), 0o600))

	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	_, err = zw.Write(sink.Binary())
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	compressed = filepath.Join(dir, "entry")
	require.NoError(t, os.WriteFile(compressed, buf.Bytes(), 0o600))
	return
}

func runMain(t *testing.T, args ...string) (string, string, error) {
	var stdOut, stdErr bytes.Buffer
	cmd := newRootCommand(&stdOut, &stdErr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdOut.String(), stdErr.String(), err
}

func TestInspect(t *testing.T) {
	raw, compressed := writeProgram(t)

	stdOut, _, err := runMain(t, "inspect", raw)
	require.NoError(t, err)
	require.Contains(t, stdOut, "constants: 4 bytes\n  lut offset=0 size=4 align=4\n")
	require.Contains(t, stdOut, "kernel:     first\n")
	require.Contains(t, stdOut, "kernel:     second\n")
	require.Contains(t, stdOut, "simd:       8\n")
	require.Contains(t, stdOut, "work group: 8x1x1\n")
	require.Contains(t, stdOut, "  2: global_ptr out size=4 align=4 curbe=")
	require.Contains(t, stdOut, "arg[0] @ 0\n")

	t.Run("lz4", func(t *testing.T) {
		out, _, err := runMain(t, "inspect", "--lz4", compressed)
		require.NoError(t, err)
		require.Equal(t, stdOut, out)
	})
	t.Run("one kernel", func(t *testing.T) {
		out, _, err := runMain(t, "inspect", raw, "second")
		require.NoError(t, err)
		require.NotContains(t, out, "constants")
		require.NotContains(t, out, "first")
		require.Contains(t, out, "kernel:     second\n")
	})
	t.Run("no such kernel", func(t *testing.T) {
		_, stdErr, err := runMain(t, "inspect", raw, "third")
		require.EqualError(t, err, "no such kernel: third")
		require.Contains(t, stdErr, "no such kernel: third")
	})
	t.Run("not lz4", func(t *testing.T) {
		_, _, err := runMain(t, "inspect", "--lz4", raw)
		require.Error(t, err)
	})
	t.Run("invalid binary", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad")
		require.NoError(t, os.WriteFile(bad, []byte("not a program"), 0o600))
		_, _, err := runMain(t, "inspect", bad)
		require.ErrorIs(t, err, api.ErrInvalidBinary)
	})
	t.Run("missing file", func(t *testing.T) {
		_, _, err := runMain(t, "inspect", filepath.Join(t.TempDir(), "missing"))
		require.ErrorIs(t, err, os.ErrNotExist)
	})
	t.Run("no args", func(t *testing.T) {
		_, _, err := runMain(t, "inspect")
		require.Error(t, err)
	})
}

func TestDisasm(t *testing.T) {
	raw, _ := writeProgram(t)

	stdOut, _, err := runMain(t, "disasm", raw, "first")
	require.NoError(t, err)
	require.Contains(t, stdOut, "first: SIMD8\n000000: ")
	require.Contains(t, stdOut, "add")
	require.Contains(t, stdOut, "send")
	require.NotContains(t, stdOut, "second")

	all, _, err := runMain(t, "disasm", raw)
	require.NoError(t, err)
	require.Contains(t, all, "first: SIMD8\n")
	require.Contains(t, all, "second: SIMD8\n")
}
