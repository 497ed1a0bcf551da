// Package onnx loads and executes ONNX inference graphs.
//
// Models are decoded straight from the protobuf wire format with protowire,
// then compiled into a topologically ordered node list that runs on a
// tensor.Backend. Only the operators registered in the operators package are
// supported; loading in strict mode rejects anything else up front.
//
// Key components:
//   - ModelProto, GraphProto, NodeProto, TensorProto: the decoded file
//   - ValueInfo: input and output signatures, including symbolic dims
//   - Model: the compiled, concurrency-safe executor
//
// Example usage:
//
//	model, err := onnx.Load("isotope_upright_with_xyz_arrows.onnx", cpu.New())
//	if err != nil {
//	    return err
//	}
//	for _, in := range model.Inputs() {
//	    fmt.Println(in.Name, in.TypeName(), in.ShapeString())
//	}
//	out, err := model.ForwardContext(ctx, map[string]*tensor.RawTensor{"obs": obs})
package onnx
