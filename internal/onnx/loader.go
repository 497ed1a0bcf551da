package onnx

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/isopose/isopose/internal/onnx/operators"
	"github.com/isopose/isopose/internal/tensor"
)

// LoadOptions configures model loading behavior.
type LoadOptions struct {
	// StrictMode rejects graphs that use operators missing from the registry.
	// Without it the failure surfaces on the first forward pass instead.
	StrictMode bool

	// CustomOps provides custom operator handlers.
	CustomOps map[string]operators.OpHandler
}

// DefaultLoadOptions returns default loading options.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{StrictMode: true}
}

// Load loads an ONNX model from file and prepares it for inference. A path
// ending in .zip is read as an archive holding one .onnx entry.
//
// Example:
//
//	model, err := onnx.Load("pose_model_final.onnx", cpu.New())
//	if err != nil {
//	    return err
//	}
//	output, err := model.Forward(input)
func Load(path string, backend tensor.Backend, opts ...LoadOptions) (*Model, error) {
	opt := DefaultLoadOptions()
	if len(opts) > 0 {
		opt = opts[0]
	}

	data, err := ReadModelFile(path)
	if err != nil {
		return nil, err
	}
	proto, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ONNX file %s: %w", path, err)
	}
	return loadFingerprinted(proto, data, backend, opt)
}

// LoadFromBytes loads an ONNX model from bytes.
func LoadFromBytes(data []byte, backend tensor.Backend, opts ...LoadOptions) (*Model, error) {
	opt := DefaultLoadOptions()
	if len(opts) > 0 {
		opt = opts[0]
	}

	proto, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ONNX data: %w", err)
	}
	return loadFingerprinted(proto, data, backend, opt)
}

func loadFingerprinted(proto *ModelProto, data []byte, backend tensor.Backend, opt LoadOptions) (*Model, error) {
	model, err := LoadFromProto(proto, backend, opt)
	if err != nil {
		return nil, err
	}
	model.fingerprint = Fingerprint(data)
	return model, nil
}

// LoadFromProto loads a model from parsed ModelProto.
func LoadFromProto(proto *ModelProto, backend tensor.Backend, opt LoadOptions) (*Model, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is nil")
	}

	registry := operators.NewRegistry()
	for opType, handler := range opt.CustomOps {
		registry.Register(opType, handler)
	}

	if opt.StrictMode {
		if err := validateOperators(proto.Graph, registry); err != nil {
			return nil, err
		}
	}

	model := &Model{
		proto:    proto,
		registry: registry,
		backend:  backend,
	}
	if err := model.compile(); err != nil {
		return nil, fmt.Errorf("failed to compile model: %w", err)
	}
	return model, nil
}

// ReadModelFile returns the raw ONNX bytes at path, unpacking .zip archives.
//
//nolint:gosec // G304: model path is operator-supplied configuration.
func ReadModelFile(path string) ([]byte, error) {
	if !strings.EqualFold(filepath.Ext(path), ".zip") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read model: %w", err)
		}
		return data, nil
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open model archive: %w", err)
	}
	defer func() { _ = zr.Close() }()

	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.EqualFold(filepath.Ext(f.Name), ".onnx") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s in %s: %w", f.Name, path, err)
		}
		var buf bytes.Buffer
		_, err = io.Copy(&buf, rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s in %s: %w", f.Name, path, err)
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("archive %s contains no .onnx file", path)
}

// validateOperators checks that all operators are supported.
func validateOperators(graph *GraphProto, registry *operators.Registry) error {
	if graph == nil {
		return fmt.Errorf("model has no graph")
	}

	seen := make(map[string]bool)
	var unsupported []string
	for i := range graph.Nodes {
		op := graph.Nodes[i].OpType
		if _, ok := registry.Get(op); !ok && !seen[op] {
			seen[op] = true
			unsupported = append(unsupported, op)
		}
	}
	if len(unsupported) > 0 {
		sort.Strings(unsupported)
		return fmt.Errorf("unsupported operators: %v", unsupported)
	}
	return nil
}

// ModelInfo contains basic information about an ONNX model without fully loading it.
type ModelInfo struct {
	IRVersion       int64
	OpsetVersion    int64
	ProducerName    string
	ProducerVersion string
	Inputs          []ValueInfo
	Outputs         []ValueInfo
	NodeCount       int
	WeightCount     int
	OpCounts        map[string]int
	// SHA256 is the hex digest of the model bytes, for telling exports apart.
	SHA256 string
}

// GetModelInfo extracts basic info from an ONNX file.
func GetModelInfo(path string) (*ModelInfo, error) {
	data, err := ReadModelFile(path)
	if err != nil {
		return nil, err
	}
	proto, err := Parse(data)
	if err != nil {
		return nil, err
	}

	info := &ModelInfo{
		IRVersion:       proto.IRVersion,
		OpsetVersion:    defaultOpset(proto),
		ProducerName:    proto.ProducerName,
		ProducerVersion: proto.ProducerVersion,
		OpCounts:        make(map[string]int),
		SHA256:          Fingerprint(data),
	}

	if g := proto.Graph; g != nil {
		initNames := make(map[string]bool, len(g.Initializers))
		for i := range g.Initializers {
			initNames[g.Initializers[i].Name] = true
		}
		for i := range g.Inputs {
			if !initNames[g.Inputs[i].Name] {
				info.Inputs = append(info.Inputs, valueInfoFromProto(&g.Inputs[i]))
			}
		}
		for i := range g.Outputs {
			info.Outputs = append(info.Outputs, valueInfoFromProto(&g.Outputs[i]))
		}
		for i := range g.Nodes {
			info.OpCounts[g.Nodes[i].OpType]++
		}
		info.NodeCount = len(g.Nodes)
		info.WeightCount = len(g.Initializers)
	}

	return info, nil
}

// Fingerprint returns the hex SHA-256 of a serialized model.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ListSupportedOps returns all supported ONNX operators.
func ListSupportedOps() []string {
	return operators.NewRegistry().SupportedOps()
}
