package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/isopose/isopose/internal/onnx"
	"github.com/isopose/isopose/internal/tensor"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <model.onnx>",
	Short: "Print a model's signatures and run it once on random inputs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		noRun, _ := cmd.Flags().GetBool("no-run")
		seed, _ := cmd.Flags().GetUint64("seed")
		return inspect(cmd.Context(), cmd.OutOrStdout(), args[0], !noRun, seed)
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().Bool("no-run", false, "Only print signatures")
	inspectCmd.Flags().Uint64("seed", 0, "Seed for the random inputs (0 picks one)")
}

func inspect(ctx context.Context, w io.Writer, path string, run bool, seed uint64) error {
	info, err := onnx.GetModelInfo(path)
	if err != nil {
		return err
	}
	printInfo(w, path, info)
	if !run {
		return nil
	}

	model, err := onnx.Load(path, newBackend(cfg), loadOptions(cfg))
	if err != nil {
		return err
	}
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	inputs, err := dummyInputs(model.Inputs(), rand.NewPCG(seed, seed>>1|1))
	if err != nil {
		return err
	}

	start := time.Now()
	outputs, err := model.ForwardContext(ctx, inputs)
	if err != nil {
		return fmt.Errorf("dummy run failed: %w", err)
	}
	fmt.Fprintf(w, "\nDummy run OK in %s\n", time.Since(start).Round(time.Microsecond))
	for _, name := range model.OutputNames() {
		out := outputs[name]
		fmt.Fprintf(w, "  %s: shape %v %s\n", name, out.Shape(), preview(out))
	}
	return nil
}

func printInfo(w io.Writer, path string, info *onnx.ModelInfo) {
	fmt.Fprintf(w, "Model: %s\n", path)
	fmt.Fprintf(w, "Producer: %s %s\n", info.ProducerName, info.ProducerVersion)
	fmt.Fprintf(w, "IR version: %d, opset: %d\n", info.IRVersion, info.OpsetVersion)
	fmt.Fprintf(w, "SHA-256: %s\n", info.SHA256)
	fmt.Fprintf(w, "Nodes: %d, initializers: %d\n", info.NodeCount, info.WeightCount)
	supported := onnx.ListSupportedOps()
	var unsupported []string
	for _, op := range slices.Sorted(maps.Keys(info.OpCounts)) {
		if _, ok := slices.BinarySearch(supported, op); !ok {
			unsupported = append(unsupported, op)
			fmt.Fprintf(w, "  %-24s %d  (unsupported)\n", op, info.OpCounts[op])
			continue
		}
		fmt.Fprintf(w, "  %-24s %d\n", op, info.OpCounts[op])
	}
	if len(unsupported) > 0 {
		fmt.Fprintf(w, "Unsupported operators: %s\n", strings.Join(unsupported, ", "))
	}

	fmt.Fprintln(w, "Inputs:")
	for _, in := range info.Inputs {
		fmt.Fprintf(w, "  %s %s %s\n", in.Name, in.TypeName(), in.ShapeString())
	}
	fmt.Fprintln(w, "Outputs:")
	for _, out := range info.Outputs {
		fmt.Fprintf(w, "  %s %s %s\n", out.Name, out.TypeName(), out.ShapeString())
	}
}

// dummyInputs synthesizes a standard-normal tensor per float input and a
// zero tensor per int64 input. Symbolic dimensions become 1.
func dummyInputs(infos []onnx.ValueInfo, src rand.Source) (map[string]*tensor.RawTensor, error) {
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	inputs := make(map[string]*tensor.RawTensor, len(infos))
	for _, info := range infos {
		shape := info.ConcreteShape(1)
		var (
			t   *tensor.RawTensor
			err error
		)
		switch info.ElemType {
		case onnx.TensorProtoFloat:
			data := make([]float32, shape.NumElements())
			for i := range data {
				data[i] = float32(normal.Rand())
			}
			t, err = tensor.FromFloat32(shape, data)
		case onnx.TensorProtoInt64:
			t, err = tensor.FromInt64(shape, make([]int64, shape.NumElements()))
		default:
			return nil, fmt.Errorf("input %s: cannot synthesize %s", info.Name, info.TypeName())
		}
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", info.Name, err)
		}
		inputs[info.Name] = t
	}
	return inputs, nil
}

func preview(t *tensor.RawTensor) string {
	const limit = 8
	switch t.DType() {
	case tensor.Float32:
		v := t.AsFloat32()
		if len(v) > limit {
			return fmt.Sprintf("%v ...", v[:limit])
		}
		return fmt.Sprint(v)
	case tensor.Int64:
		v := t.AsInt64()
		if len(v) > limit {
			return fmt.Sprintf("%v ...", v[:limit])
		}
		return fmt.Sprint(v)
	}
	return ""
}
