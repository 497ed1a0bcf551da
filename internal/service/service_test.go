package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isopose/isopose/internal/policy"
	"github.com/isopose/isopose/internal/pose"
	"github.com/isopose/isopose/internal/rotation"
)

type fakePose struct {
	pred pose.Prediction
	err  error
}

func (f fakePose) PredictBase64(context.Context, string) (pose.Prediction, error) {
	return f.pred, f.err
}

type fakePolicy struct {
	gotQ   rotation.Quat
	gotVel [3]float64
}

func (f *fakePolicy) Decide(_ context.Context, q rotation.Quat, v [3]float64) (policy.Decision, error) {
	f.gotQ, f.gotVel = q, v
	return policy.Decision{Action: [3]float32{0.1, -1, 1}, ZAxis: [3]float64{0, 0, 1}, Orientation: [6]float32{1}}, nil
}

func TestHealth(t *testing.T) {
	h := New(fakePose{}, nil).Health()
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, StatusLoaded, h.PoseModel)
	assert.Equal(t, StatusUnavailable, h.RLModel)
	assert.Equal(t, "cpu", h.Device)
}

func TestPredictPose(t *testing.T) {
	s := New(fakePose{pred: pose.Prediction{Quaternion: rotation.Identity, Euler: [3]float64{1, 2, 3}}}, nil)

	resp, err := s.PredictPose(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0, 1}, resp.Quaternion)
	assert.Equal(t, []float64{1, 2, 3}, resp.Euler)

	_, err = New(fakePose{err: errors.New("decode")}, nil).PredictPose(context.Background(), "abc")
	assert.EqualError(t, err, "decode")

	_, err = New(nil, nil).PredictPose(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.EqualError(t, err, "pose model not loaded")
}

func TestPredictAction(t *testing.T) {
	pol := &fakePolicy{}
	s := New(nil, pol)

	resp, err := s.PredictAction(context.Background(), ActionRequest{
		Quaternion:      []float64{0, 0, 0, 1},
		AngularVelocity: []float64{0.1, 0.2, 0.3},
	})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, -1, 1}, resp.Action)
	assert.Equal(t, []float64{0, 0, 1}, resp.ZAxis)
	assert.Len(t, resp.Orientation, 6)
	assert.Equal(t, [3]float64{0.1, 0.2, 0.3}, pol.gotVel)

	_, err = s.PredictAction(context.Background(), ActionRequest{Quaternion: []float64{0, 0, 1}, AngularVelocity: []float64{0, 0, 0}})
	assert.ErrorIs(t, err, rotation.ErrShape)

	_, err = s.PredictAction(context.Background(), ActionRequest{Quaternion: []float64{0, 0, 0, 1}})
	assert.ErrorIs(t, err, rotation.ErrShape)

	_, err = New(nil, nil).PredictAction(context.Background(), ActionRequest{})
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestQuaternionError(t *testing.T) {
	s := New(nil, nil)

	resp, err := s.QuaternionError(ErrorRequest{Predicted: []float64{0, 0, 0, 1}, Actual: []float64{0, 0, 0, -1}})
	require.NoError(t, err)
	assert.InDelta(t, 0, resp.Error, 1e-12)
	assert.InDelta(t, 2, resp.RawError, 1e-12)
	assert.InDelta(t, 0, resp.AngleDeg, 1e-9)

	_, err = s.QuaternionError(ErrorRequest{Predicted: []float64{0, 0, 0, 1}})
	assert.ErrorContains(t, err, "actual")
}
