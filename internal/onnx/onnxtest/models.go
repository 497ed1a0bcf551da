package onnxtest

// PoseModel returns a small image-to-quaternion network with the same
// interface as the production pose model: "input" [N,3,224,224] float to
// "output" [N,4]. The convolutional trunk is real but the head has zero
// weights, so the output is always quat.
func PoseModel(quat [4]float32) []byte {
	convW := make([]float32, 4*3*3*3)
	for i := range convW {
		convW[i] = float32(i%5-2) * 0.1
	}
	return New().
		Producer("pytorch", "2.1.0").
		Input("input", Float, 0, 3, 224, 224).
		Output("output", Float, 0, 4).
		Initializer("conv.weight", []int64{4, 3, 3, 3}, convW).
		Initializer("conv.bias", []int64{4}, []float32{0.1, -0.1, 0.2, 0}).
		Initializer("bn.scale", []int64{4}, []float32{1, 1, 1, 1}).
		Initializer("bn.bias", []int64{4}, []float32{0, 0, 0, 0}).
		Initializer("bn.mean", []int64{4}, []float32{0, 0, 0, 0}).
		Initializer("bn.var", []int64{4}, []float32{1, 1, 1, 1}).
		Initializer("fc.weight", []int64{4, 4}, make([]float32, 16)).
		Initializer("fc.bias", []int64{4}, quat[:]).
		Node("Conv", []string{"input", "conv.weight", "conv.bias"}, []string{"conv"},
			Ints("kernel_shape", 3, 3), Ints("strides", 2, 2), Ints("pads", 1, 1, 1, 1)).
		Node("BatchNormalization", []string{"conv", "bn.scale", "bn.bias", "bn.mean", "bn.var"}, []string{"bn"}).
		Node("Relu", []string{"bn"}, []string{"relu"}).
		Node("MaxPool", []string{"relu"}, []string{"pool"},
			Ints("kernel_shape", 3, 3), Ints("strides", 2, 2), Ints("pads", 1, 1, 1, 1)).
		Node("GlobalAveragePool", []string{"pool"}, []string{"gap"}).
		Node("Flatten", []string{"gap"}, []string{"flat"}, Int("axis", 1)).
		Node("Gemm", []string{"flat", "fc.weight", "fc.bias"}, []string{"output"}, Int("transB", 1)).
		Bytes()
}

// PolicyModel returns a linear policy "obs" [N,16] to "actions" [N,3]
// computing actions = obs·Wᵀ + bias, unclipped.
func PolicyModel(w [3][16]float32, bias [3]float32) []byte {
	flat := make([]float32, 0, 48)
	for _, row := range w {
		flat = append(flat, row[:]...)
	}
	return New().
		Producer("stable-baselines3", "2.2.1").
		Input("obs", Float, 0, 16).
		Output("actions", Float, 0, 3).
		Initializer("policy.weight", []int64{3, 16}, flat).
		Initializer("policy.bias", []int64{3}, bias[:]).
		Node("Gemm", []string{"obs", "policy.weight", "policy.bias"}, []string{"actions"}, Int("transB", 1)).
		Bytes()
}

// AddModel returns Z = X + Y over two [2,2] float inputs.
func AddModel() []byte {
	return New().
		Input("X", Float, 2, 2).
		Input("Y", Float, 2, 2).
		Output("Z", Float, 2, 2).
		Node("Add", []string{"X", "Y"}, []string{"Z"}).
		Bytes()
}
