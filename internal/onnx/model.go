package onnx

import (
	"context"
	"fmt"

	"github.com/isopose/isopose/internal/onnx/operators"
	"github.com/isopose/isopose/internal/tensor"
)

// Model is a loaded ONNX graph ready for inference.
//
// Weights and the execution plan are fixed at load time. Every forward pass
// works on its own value table, so one Model may serve concurrent callers.
type Model struct {
	proto        *ModelProto
	registry     *operators.Registry
	backend      tensor.Backend
	weights      map[string]*tensor.RawTensor
	inputs       []ValueInfo
	outputs      []ValueInfo
	nodes        []*operators.Node
	opsetVersion int64
	fingerprint  string
}

// InputNames returns the names of model inputs, excluding initializers.
func (m *Model) InputNames() []string {
	return names(m.inputs)
}

// OutputNames returns the names of model outputs.
func (m *Model) OutputNames() []string {
	return names(m.outputs)
}

// Inputs returns the declared input signatures.
func (m *Model) Inputs() []ValueInfo {
	return m.inputs
}

// Outputs returns the declared output signatures.
func (m *Model) Outputs() []ValueInfo {
	return m.outputs
}

// OpsetVersion returns the default-domain opset version.
func (m *Model) OpsetVersion() int64 {
	return m.opsetVersion
}

// NodeCount returns the number of graph nodes.
func (m *Model) NodeCount() int {
	return len(m.nodes)
}

// Fingerprint returns the SHA-256 of the bytes the model was loaded from, or
// "" for models built from an already parsed proto.
func (m *Model) Fingerprint() string {
	return m.fingerprint
}

// Metadata returns model metadata as key-value pairs.
func (m *Model) Metadata() map[string]string {
	meta := make(map[string]string)
	for _, prop := range m.proto.MetadataProps {
		meta[prop.Key] = prop.Value
	}
	meta["producer_name"] = m.proto.ProducerName
	meta["producer_version"] = m.proto.ProducerVersion
	meta["domain"] = m.proto.Domain
	return meta
}

// Forward runs inference with a single input tensor and returns the single
// output. For other arities use ForwardNamed.
func (m *Model) Forward(input *tensor.RawTensor) (*tensor.RawTensor, error) {
	if len(m.inputs) != 1 {
		return nil, fmt.Errorf("model has %d inputs, use ForwardNamed", len(m.inputs))
	}
	if len(m.outputs) != 1 {
		return nil, fmt.Errorf("model has %d outputs, use ForwardNamed", len(m.outputs))
	}

	outputs, err := m.ForwardNamed(map[string]*tensor.RawTensor{m.inputs[0].Name: input})
	if err != nil {
		return nil, err
	}
	return outputs[m.outputs[0].Name], nil
}

// ForwardNamed runs inference with named inputs and returns outputs by name.
func (m *Model) ForwardNamed(inputs map[string]*tensor.RawTensor) (map[string]*tensor.RawTensor, error) {
	return m.ForwardContext(context.Background(), inputs)
}

// ForwardContext is ForwardNamed with cancellation checked between nodes.
// A kernel panic is reported as an error for the failing node.
func (m *Model) ForwardContext(ctx context.Context, inputs map[string]*tensor.RawTensor) (result map[string]*tensor.RawTensor, err error) {
	values := make(map[string]*tensor.RawTensor, len(m.weights)+len(m.nodes))
	for name, t := range m.weights {
		values[name] = t
	}
	for _, in := range m.inputs {
		t, ok := inputs[in.Name]
		if !ok || t == nil {
			return nil, fmt.Errorf("missing input: %s", in.Name)
		}
		if err := in.check(t); err != nil {
			return nil, err
		}
		values[in.Name] = t
	}

	var current *operators.Node
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("node %s (%s): panic: %v", current.Name, current.OpType, r)
		}
	}()

	opCtx := &operators.Context{Backend: m.backend, Opset: m.opsetVersion}
	nodeInputs := make([]*tensor.RawTensor, 0, 8)
	for _, node := range m.nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current = node

		nodeInputs = nodeInputs[:0]
		for _, name := range node.Inputs {
			if name == "" {
				nodeInputs = append(nodeInputs, nil) // optional input not provided
				continue
			}
			t, ok := values[name]
			if !ok {
				return nil, fmt.Errorf("node %s: missing input %s", node.Name, name)
			}
			nodeInputs = append(nodeInputs, t)
		}

		outputs, err := m.registry.Execute(opCtx, node, nodeInputs)
		if err != nil {
			return nil, fmt.Errorf("node %s (%s): %w", node.Name, node.OpType, err)
		}
		for i, name := range node.Outputs {
			if i < len(outputs) && name != "" {
				values[name] = outputs[i]
			}
		}
	}

	result = make(map[string]*tensor.RawTensor, len(m.outputs))
	for _, out := range m.outputs {
		t, ok := values[out.Name]
		if !ok {
			return nil, fmt.Errorf("missing output: %s", out.Name)
		}
		result[out.Name] = t
	}
	return result, nil
}

// compile converts initializers, signatures and nodes into the execution plan.
func (m *Model) compile() error {
	graph := m.proto.Graph
	if graph == nil {
		return fmt.Errorf("model has no graph")
	}

	m.weights = make(map[string]*tensor.RawTensor, len(graph.Initializers))
	for i := range graph.Initializers {
		init := &graph.Initializers[i]
		t, err := tensorFromProto(init)
		if err != nil {
			return fmt.Errorf("failed to load initializer %s: %w", init.Name, err)
		}
		m.weights[init.Name] = t
	}

	// Inputs are graph inputs minus initializers.
	for i := range graph.Inputs {
		if _, isWeight := m.weights[graph.Inputs[i].Name]; !isWeight {
			m.inputs = append(m.inputs, valueInfoFromProto(&graph.Inputs[i]))
		}
	}
	for i := range graph.Outputs {
		m.outputs = append(m.outputs, valueInfoFromProto(&graph.Outputs[i]))
	}

	m.opsetVersion = defaultOpset(m.proto)

	sorted, err := topologicalSort(graph.Nodes)
	if err != nil {
		return err
	}
	m.nodes = make([]*operators.Node, len(sorted))
	for i := range sorted {
		node, err := nodeProtoToOperatorNode(&sorted[i])
		if err != nil {
			return err
		}
		m.nodes[i] = node
	}
	return nil
}

func defaultOpset(proto *ModelProto) int64 {
	for _, opset := range proto.OpsetImport {
		if opset.Domain == "" || opset.Domain == "ai.onnx" {
			return opset.Version
		}
	}
	return 0
}

// nodeProtoToOperatorNode converts NodeProto to operators.Node, decoding
// tensor attributes.
func nodeProtoToOperatorNode(proto *NodeProto) (*operators.Node, error) {
	attrs := make([]operators.Attribute, len(proto.Attributes))
	for i := range proto.Attributes {
		attr := &proto.Attributes[i]
		attrs[i] = operators.Attribute{
			Name:    attr.Name,
			Type:    attr.Type,
			F:       attr.F,
			I:       attr.I,
			S:       attr.S,
			Floats:  attr.Floats,
			Ints:    attr.Ints,
			Strings: attr.Strings,
		}
		if attr.T != nil {
			t, err := tensorFromProto(attr.T)
			if err != nil {
				return nil, fmt.Errorf("node %s attribute %s: %w", proto.Name, attr.Name, err)
			}
			attrs[i].T = t
		}
	}
	return &operators.Node{
		Name:       proto.Name,
		OpType:     proto.OpType,
		Inputs:     proto.Inputs,
		Outputs:    proto.Outputs,
		Attributes: attrs,
		Domain:     proto.Domain,
	}, nil
}

// topologicalSort orders nodes so every producer runs before its consumers.
// Cycles are rejected.
func topologicalSort(nodes []NodeProto) ([]NodeProto, error) {
	producer := make(map[string]int)
	for i := range nodes {
		for _, output := range nodes[i].Outputs {
			producer[output] = i
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(nodes))
	result := make([]NodeProto, 0, len(nodes))

	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("graph has a cycle through node %q", nodes[i].Name)
		}
		state[i] = visiting
		for _, input := range nodes[i].Inputs {
			if dep, ok := producer[input]; ok {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		state[i] = done
		result = append(result, nodes[i])
		return nil
	}

	for i := range nodes {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return result, nil
}
