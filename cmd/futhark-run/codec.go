package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wippyai/futhark-host/errors"
	"github.com/wippyai/futhark-host/values"
)

func newEncodeCmd() *cobra.Command {
	var (
		typ   string
		shape string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "encode --type TYPE VALUE...",
		Short: "Encode scalars as one binary value",
		Example: `  futhark-run encode --type i64 42
  futhark-run encode --type '[]f32' 1 2.5 3
  futhark-run encode --type '[][]i32' --shape 2,2 1 2 3 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if f, ok := out.(*os.File); ok && isTerminal(f) && !force {
				return errors.InvalidInput(errors.PhaseEncode, "refusing to write binary data to a terminal, use --force")
			}
			b, err := encodeArgs(typ, shape, args)
			if err != nil {
				return err
			}
			_, err = out.Write(b)
			return err
		},
	}
	cmd.Flags().StringVarP(&typ, "type", "t", "", "Futhark type of the value, e.g. i32 or [][]f64")
	cmd.Flags().StringVar(&shape, "shape", "", "comma-separated dimensions; defaults to one dimension of all values")
	cmd.Flags().BoolVar(&force, "force", false, "write binary data even to a terminal")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func encodeArgs(typ, shapeFlag string, args []string) ([]byte, error) {
	elem, rank, err := values.ParseType(typ)
	if err != nil {
		return nil, err
	}

	scalars := make([]any, len(args))
	for i, a := range args {
		s, err := elem.ParseScalar(a)
		if err != nil {
			return nil, err
		}
		scalars[i] = s
	}

	if rank == 0 {
		if len(scalars) != 1 {
			return nil, errors.InvalidInput(errors.PhaseEncode,
				fmt.Sprintf("scalar %s takes exactly one value, got %d", typ, len(scalars)))
		}
		return values.Encode(typ, scalars[0])
	}

	shape, err := parseShape(shapeFlag, rank, len(scalars))
	if err != nil {
		return nil, err
	}
	return values.Encode(typ, scalars, shape...)
}

func parseShape(flag string, rank, n int) ([]int64, error) {
	if flag == "" {
		if rank != 1 {
			return nil, errors.InvalidInput(errors.PhaseEncode, "--shape is required for arrays of rank above 1")
		}
		return []int64{int64(n)}, nil
	}
	parts := strings.Split(flag, ",")
	shape := make([]int64, len(parts))
	for i, p := range parts {
		d, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil || d < 0 {
			return nil, errors.InvalidInput(errors.PhaseEncode, fmt.Sprintf("invalid dimension %q", p))
		}
		shape[i] = d
	}
	return shape, nil
}

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode [FILE]",
		Short: "Print binary values as text, one per line",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			raw, err := readInput(path, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return decodeAll(raw, cmd.OutOrStdout())
		},
	}
}

func decodeAll(raw []byte, w io.Writer) error {
	vs, err := values.NewReader(raw).ReadAll()
	for _, v := range vs {
		if _, werr := fmt.Fprintln(w, values.Format(v)); werr != nil {
			return werr
		}
	}
	return err
}
