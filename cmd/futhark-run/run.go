package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/futhark-host/errors"
	"github.com/wippyai/futhark-host/values"
)

type runOptions struct {
	wasm     string
	manifest string
	entry    string
	input    string
	output   string
	text     bool
	report   bool
	trace    bool
}

func newRunCmd() *cobra.Command {
	var o runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Call an entry point on binary values",
		Long: `Reads one binary value per entry point input, calls the entry point and
writes its results as binary values. Results written to a terminal are
printed as text instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEntry(cmd.Context(), o, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.wasm, "wasm", "", "compiled wasm module")
	f.StringVar(&o.manifest, "manifest", "", "manifest JSON produced with the module")
	f.StringVarP(&o.entry, "entry", "e", "main", "entry point to call")
	f.StringVarP(&o.input, "input", "i", "-", "input values file, - for stdin")
	f.StringVarP(&o.output, "output", "o", "-", "output file, - for stdout")
	f.BoolVar(&o.text, "text", false, "write results as text")
	f.BoolVar(&o.report, "report", false, "print the context report to stderr")
	f.BoolVar(&o.trace, "trace", false, "print spans for foreign calls to stderr")
	_ = cmd.MarkFlagRequired("wasm")
	_ = cmd.MarkFlagRequired("manifest")
	return cmd
}

func runEntry(ctx context.Context, o runOptions, stdin io.Reader, stdout io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if o.trace || cfg.Telemetry.Trace {
		shutdown, err := setupTracing()
		if err != nil {
			return err
		}
		defer shutdown(ctx)
	}

	prog, closeAll, err := loadProgram(ctx, o.wasm, o.manifest)
	if err != nil {
		return err
	}
	defer closeAll()

	entry, err := prog.Entry(o.entry)
	if err != nil {
		return err
	}

	raw, err := readInput(o.input, stdin)
	if err != nil {
		return err
	}
	r := values.NewReader(raw)
	inputs := make([]values.Value, 0, len(entry.Inputs()))
	for _, in := range entry.Inputs() {
		v, err := r.ReadValue(in.Type)
		if err != nil {
			return fmt.Errorf("input %s: %w", in.Name, err)
		}
		inputs = append(inputs, v)
	}
	if r.More() {
		return errors.New(errors.PhaseDecode, errors.KindInvalidInput).
			Detail("%d bytes left after %d inputs", r.Remaining(), len(inputs)).
			Build()
	}

	outputs, err := entry.CallValues(ctx, inputs)
	if err != nil {
		return err
	}
	log.Debug("entry point returned", zap.String("entry", o.entry), zap.Int("outputs", len(outputs)))

	if err := writeOutputs(o, stdout, outputs); err != nil {
		return err
	}

	if o.report {
		report, err := prog.Context().Report(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, report)
	}
	return nil
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(bufio.NewReader(stdin))
	}
	return os.ReadFile(path)
}

func writeOutputs(o runOptions, stdout io.Writer, outputs []values.Value) error {
	if o.output != "-" {
		f, err := os.Create(o.output)
		if err != nil {
			return err
		}
		return writeAndClose(f, o.text, outputs)
	}
	text := o.text
	if f, ok := stdout.(*os.File); ok && isTerminal(f) {
		text = true
	}
	return writeValues(stdout, text, outputs)
}

// writeAndClose writes outputs to wc and closes it. A failed close is
// reported unless the write already failed.
func writeAndClose(wc io.WriteCloser, text bool, outputs []values.Value) (err error) {
	defer func() {
		err = multierr.Append(err, wc.Close())
	}()
	return writeValues(wc, text, outputs)
}

func writeValues(w io.Writer, text bool, outputs []values.Value) error {
	bw := bufio.NewWriter(w)
	for _, v := range outputs {
		if text {
			fmt.Fprintln(bw, values.Format(v))
			continue
		}
		b, err := values.EncodeValue(v)
		if err != nil {
			return err
		}
		if _, err := bw.Write(b); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// setupTracing installs a tracer provider printing spans to stderr. The
// returned function flushes and removes it.
func setupTracing() (func(context.Context), error) {
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(os.Stderr),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return func(ctx context.Context) {
		if err := tp.Shutdown(ctx); err != nil {
			log.Warn("shutdown tracer provider", zap.Error(err))
		}
	}, nil
}
