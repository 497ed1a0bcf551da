package tensor

// Conv2DParams configures a 2-D convolution over NCHW input.
type Conv2DParams struct {
	Strides   [2]int // H, W
	Pads      [4]int // top, left, bottom, right
	Dilations [2]int // H, W
	Group     int
}

// Pool2DParams configures a 2-D pooling window over NCHW input.
type Pool2DParams struct {
	Kernel          [2]int
	Strides         [2]int
	Pads            [4]int // top, left, bottom, right
	CountIncludePad bool   // average pooling only
}

// Backend defines the compute kernels used by the ONNX executor.
//
// Implementations must not modify their inputs and must be safe for
// concurrent use. Kernels return an error instead of panicking on shape or
// dtype mismatches so a malformed graph fails one request, not the process.
type Backend interface {
	// Name returns the backend identifier reported by health checks.
	Name() string

	// Element-wise binary ops with NumPy broadcasting.
	Add(a, b *RawTensor) (*RawTensor, error)
	Sub(a, b *RawTensor) (*RawTensor, error)
	Mul(a, b *RawTensor) (*RawTensor, error)
	Div(a, b *RawTensor) (*RawTensor, error)
	Pow(a, b *RawTensor) (*RawTensor, error)

	// MatMul follows numpy.matmul semantics including batch broadcasting.
	MatMul(a, b *RawTensor) (*RawTensor, error)
	Transpose(x *RawTensor, perm []int) (*RawTensor, error)

	// Unary math.
	Exp(x *RawTensor) (*RawTensor, error)
	Log(x *RawTensor) (*RawTensor, error)
	Sqrt(x *RawTensor) (*RawTensor, error)
	Neg(x *RawTensor) (*RawTensor, error)
	Abs(x *RawTensor) (*RawTensor, error)

	// Activations.
	Relu(x *RawTensor) (*RawTensor, error)
	LeakyRelu(x *RawTensor, alpha float32) (*RawTensor, error)
	Sigmoid(x *RawTensor) (*RawTensor, error)
	Tanh(x *RawTensor) (*RawTensor, error)
	Softmax(x *RawTensor, axis int) (*RawTensor, error)
	Clip(x *RawTensor, lo, hi float32) (*RawTensor, error)

	// Convolutional network kernels.
	Conv2D(x, w, bias *RawTensor, p Conv2DParams) (*RawTensor, error)
	MaxPool2D(x *RawTensor, p Pool2DParams) (*RawTensor, error)
	AvgPool2D(x *RawTensor, p Pool2DParams) (*RawTensor, error)
	GlobalAvgPool(x *RawTensor) (*RawTensor, error)
	BatchNorm(x, scale, bias, mean, variance *RawTensor, eps float32) (*RawTensor, error)
	ReduceMean(x *RawTensor, axes []int, keepDims bool) (*RawTensor, error)
}
