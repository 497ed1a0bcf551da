package mcptools

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isopose/isopose/internal/policy"
	"github.com/isopose/isopose/internal/pose"
	"github.com/isopose/isopose/internal/rotation"
	"github.com/isopose/isopose/internal/service"
)

type stubPolicy struct{}

func (stubPolicy) Decide(_ context.Context, q rotation.Quat, v [3]float64) (policy.Decision, error) {
	return policy.Decision{
		Action: [3]float32{float32(v[0]), float32(v[1]), float32(v[2])},
		ZAxis:  rotation.ZAxis(q),
	}, nil
}

type stubPose struct{}

func (stubPose) PredictBase64(context.Context, string) (pose.Prediction, error) {
	return pose.Prediction{Quaternion: rotation.Identity}, nil
}

func call(t *testing.T, s *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	tool := s.MCPServer().GetTool(name)
	require.NotNil(t, tool, "tool %s not registered", name)

	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := tool.Handler(context.Background(), req)
	require.NoError(t, err)
	return res
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := mcp.AsTextContent(res.Content[0])
	require.True(t, ok)
	return tc.Text
}

func TestToolsRegistered(t *testing.T) {
	s := NewServer(service.New(nil, nil), "test")
	tools := s.MCPServer().ListTools()
	assert.Len(t, tools, 3)
	for _, name := range []string{"predict_pose", "predict_action", "quaternion_error"} {
		assert.Contains(t, tools, name)
	}
}

func TestPredictPoseTool(t *testing.T) {
	s := NewServer(service.New(stubPose{}, nil), "test")

	res := call(t, s, "predict_pose", map[string]any{"image": "abc"})
	assert.False(t, res.IsError)
	out, ok := res.StructuredContent.(service.PoseResponse)
	require.True(t, ok)
	assert.Equal(t, []float64{0, 0, 0, 1}, out.Quaternion)

	res = call(t, s, "predict_pose", map[string]any{"image": 3})
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "image must be a string")
}

func TestPredictActionTool(t *testing.T) {
	s := NewServer(service.New(nil, stubPolicy{}), "test")

	res := call(t, s, "predict_action", map[string]any{
		"quaternion":       []any{0.0, 0.0, 0.0, 1.0},
		"angular_velocity": []any{0.5, "0.25", 0.0},
	})
	require.False(t, res.IsError, text(t, res))
	out, ok := res.StructuredContent.(service.ActionResponse)
	require.True(t, ok)
	assert.Equal(t, []float32{0.5, 0.25, 0}, out.Action)
	assert.InDeltaSlice(t, []float64{0, 0, 1}, out.ZAxis, 1e-9)

	res = call(t, s, "predict_action", map[string]any{"quaternion": []any{1.0}})
	assert.True(t, res.IsError)
}

func TestPredictActionToolWithoutModel(t *testing.T) {
	s := NewServer(service.New(nil, nil), "test")
	res := call(t, s, "predict_action", map[string]any{
		"quaternion":       []any{0.0, 0.0, 0.0, 1.0},
		"angular_velocity": []any{0.0, 0.0, 0.0},
	})
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "rl model not loaded")
}

func TestQuaternionErrorTool(t *testing.T) {
	s := NewServer(service.New(nil, nil), "test")
	res := call(t, s, "quaternion_error", map[string]any{
		"predicted": []any{0.0, 0.0, 0.0, 1.0},
		"actual":    []any{0.0, 0.0, 0.0, -1.0},
	})
	require.False(t, res.IsError, text(t, res))
	out, ok := res.StructuredContent.(service.ErrorResponse)
	require.True(t, ok)
	assert.InDelta(t, 0, out.Error, 1e-12)
	assert.InDelta(t, 2, out.RawError, 1e-12)
}
