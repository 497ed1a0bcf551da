// Package mcptools exposes the inference service as Model Context Protocol
// tools so that agents can query poses and policy actions over stdio.
package mcptools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/mitchellh/mapstructure"

	"github.com/isopose/isopose/internal/service"
)

// Server wraps a service.Service as an MCP server.
type Server struct {
	svc       *service.Service
	mcpServer *server.MCPServer
}

// NewServer registers predict_pose, predict_action and quaternion_error.
func NewServer(svc *service.Service, version string) *Server {
	s := &Server{
		svc: svc,
		mcpServer: server.NewMCPServer("isopose", version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio serves on stdin/stdout until EOF or SIGINT/SIGTERM.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	poseTool := mcp.NewTool("predict_pose",
		mcp.WithDescription("Predict the orientation of the object in a base64-encoded image. Returns a scalar-last quaternion and extrinsic xyz Euler angles in degrees."),
		mcp.WithString("image", mcp.Required(), mcp.Description("Base64 image data, optionally with a data URL prefix")),
		mcp.WithOutputSchema[service.PoseResponse](),
	)
	s.mcpServer.AddTool(poseTool, mcp.NewStructuredToolHandler(s.handlePredictPose))

	actionTool := mcp.NewTool("predict_action",
		mcp.WithDescription("Compute the control policy torque action for an orientation and angular velocity."),
		mcp.WithArray("quaternion", mcp.Required(), mcp.WithNumberItems(), mcp.MinItems(4), mcp.MaxItems(4),
			mcp.Description("Orientation as [x, y, z, w]")),
		mcp.WithArray("angular_velocity", mcp.Required(), mcp.WithNumberItems(), mcp.MinItems(3), mcp.MaxItems(3),
			mcp.Description("Angular velocity in rad/s")),
		mcp.WithOutputSchema[service.ActionResponse](),
	)
	s.mcpServer.AddTool(actionTool, mcp.NewStructuredToolHandler(s.handlePredictAction))

	errorTool := mcp.NewTool("quaternion_error",
		mcp.WithDescription("Compare a predicted orientation with a reference, ignoring quaternion sign."),
		mcp.WithArray("predicted", mcp.Required(), mcp.WithNumberItems(), mcp.MinItems(4), mcp.MaxItems(4)),
		mcp.WithArray("actual", mcp.Required(), mcp.WithNumberItems(), mcp.MinItems(4), mcp.MaxItems(4)),
		mcp.WithOutputSchema[service.ErrorResponse](),
	)
	s.mcpServer.AddTool(errorTool, mcp.NewStructuredToolHandler(s.handleQuaternionError))
}

func (s *Server) handlePredictPose(ctx context.Context, _ mcp.CallToolRequest, args map[string]any) (service.PoseResponse, error) {
	image, ok := args["image"].(string)
	if !ok {
		return service.PoseResponse{}, fmt.Errorf("image must be a string, got %T", args["image"])
	}
	return s.svc.PredictPose(ctx, image)
}

func (s *Server) handlePredictAction(ctx context.Context, _ mcp.CallToolRequest, args map[string]any) (service.ActionResponse, error) {
	var req service.ActionRequest
	if err := decodeArgs(args, &req); err != nil {
		return service.ActionResponse{}, err
	}
	return s.svc.PredictAction(ctx, req)
}

func (s *Server) handleQuaternionError(_ context.Context, _ mcp.CallToolRequest, args map[string]any) (service.ErrorResponse, error) {
	var req service.ErrorRequest
	if err := decodeArgs(args, &req); err != nil {
		return service.ErrorResponse{}, err
	}
	return s.svc.QuaternionError(req)
}

// decodeArgs converts loosely typed tool arguments into a request struct.
// Numeric strings are accepted since some clients send every value quoted.
func decodeArgs(args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(args); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
