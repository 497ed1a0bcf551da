// Package service implements the pose, action and quaternion-error
// operations shared by the HTTP API and the MCP tools.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/klauspost/cpuid/v2"

	"github.com/isopose/isopose/internal/policy"
	"github.com/isopose/isopose/internal/pose"
	"github.com/isopose/isopose/internal/rotation"
)

// ErrModelUnavailable reports an operation whose model failed to load.
var ErrModelUnavailable = errors.New("model not loaded")

// Device is the only inference device this build supports.
const Device = "cpu"

// Model status strings reported by Health.
const (
	StatusLoaded      = "loaded"
	StatusUnavailable = "unavailable"
)

// PoseEstimator predicts orientation from an encoded image.
type PoseEstimator interface {
	PredictBase64(ctx context.Context, image string) (pose.Prediction, error)
}

// ActionPolicy maps a state to a torque action.
type ActionPolicy interface {
	Decide(ctx context.Context, q rotation.Quat, angVel [3]float64) (policy.Decision, error)
}

// Health is the service status document.
type Health struct {
	Status    string `json:"status"`
	PoseModel string `json:"pose_model"`
	RLModel   string `json:"rl_model"`
	Device    string `json:"device"`
	CPU       string `json:"cpu,omitempty"`
}

// PoseResponse is the predicted orientation of an image.
type PoseResponse struct {
	Quaternion []float64 `json:"quaternion"`
	Euler      []float64 `json:"euler"`
}

// ActionRequest is the policy input state.
type ActionRequest struct {
	Quaternion      []float64 `json:"quaternion" mapstructure:"quaternion"`
	AngularVelocity []float64 `json:"angular_velocity" mapstructure:"angular_velocity"`
}

// ActionResponse is the policy decision.
type ActionResponse struct {
	Action      []float32 `json:"action"`
	ZAxis       []float64 `json:"z_axis"`
	Orientation []float32 `json:"orientation"`
}

// ErrorRequest pairs a predicted and a reference quaternion.
type ErrorRequest struct {
	Predicted []float64 `json:"predicted" mapstructure:"predicted"`
	Actual    []float64 `json:"actual" mapstructure:"actual"`
}

// ErrorResponse scores a prediction.
type ErrorResponse struct {
	Error    float64 `json:"error"`
	AngleDeg float64 `json:"angle_deg"`
	RawError float64 `json:"raw_error"`
}

// Service holds the loaded models. Either may be nil when loading failed;
// the matching operation then returns ErrModelUnavailable.
type Service struct {
	pose   PoseEstimator
	policy ActionPolicy
}

// New returns a Service over the given models.
func New(est PoseEstimator, pol ActionPolicy) *Service {
	return &Service{pose: est, policy: pol}
}

// Health reports which models are usable.
func (s *Service) Health() Health {
	return Health{
		Status:    "ok",
		PoseModel: status(s.pose != nil),
		RLModel:   status(s.policy != nil),
		Device:    Device,
		CPU:       cpuid.CPU.BrandName,
	}
}

func status(loaded bool) string {
	if loaded {
		return StatusLoaded
	}
	return StatusUnavailable
}

// PredictPose decodes a base64 image and predicts its orientation.
func (s *Service) PredictPose(ctx context.Context, image string) (PoseResponse, error) {
	if s.pose == nil {
		return PoseResponse{}, fmt.Errorf("pose %w", ErrModelUnavailable)
	}
	p, err := s.pose.PredictBase64(ctx, image)
	if err != nil {
		return PoseResponse{}, err
	}
	return PoseResponse{Quaternion: p.Quaternion.Slice(), Euler: p.Euler[:]}, nil
}

// PredictAction runs the policy for the given state.
func (s *Service) PredictAction(ctx context.Context, req ActionRequest) (ActionResponse, error) {
	if s.policy == nil {
		return ActionResponse{}, fmt.Errorf("rl %w", ErrModelUnavailable)
	}
	q, err := rotation.FromSlice(req.Quaternion)
	if err != nil {
		return ActionResponse{}, fmt.Errorf("quaternion: %w", err)
	}
	if len(req.AngularVelocity) != 3 {
		return ActionResponse{}, fmt.Errorf("angular_velocity needs 3 values, got %d: %w", len(req.AngularVelocity), rotation.ErrShape)
	}
	angVel := [3]float64{req.AngularVelocity[0], req.AngularVelocity[1], req.AngularVelocity[2]}

	d, err := s.policy.Decide(ctx, q, angVel)
	if err != nil {
		return ActionResponse{}, err
	}
	return ActionResponse{
		Action:      d.Action[:],
		ZAxis:       d.ZAxis[:],
		Orientation: d.Orientation[:],
	}, nil
}

// QuaternionError compares a predicted quaternion with a reference.
func (s *Service) QuaternionError(req ErrorRequest) (ErrorResponse, error) {
	pred, err := rotation.FromSlice(req.Predicted)
	if err != nil {
		return ErrorResponse{}, fmt.Errorf("predicted: %w", err)
	}
	actual, err := rotation.FromSlice(req.Actual)
	if err != nil {
		return ErrorResponse{}, fmt.Errorf("actual: %w", err)
	}
	c := rotation.Compare(pred, actual)
	return ErrorResponse{Error: c.Error, AngleDeg: c.AngleDeg, RawError: c.RawError}, nil
}
