package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isopose/isopose/internal/backend/cpu"
	"github.com/isopose/isopose/internal/logging"
	"github.com/isopose/isopose/internal/metrics"
	"github.com/isopose/isopose/internal/onnx"
	"github.com/isopose/isopose/internal/onnx/onnxtest"
	"github.com/isopose/isopose/internal/policy"
	"github.com/isopose/isopose/internal/pose"
	"github.com/isopose/isopose/internal/service"
)

type fixture struct {
	handler http.Handler
	doc     *openapi3.T
	router  routers.Router
	static  string
}

func newFixture(t *testing.T, withModels bool) *fixture {
	t.Helper()
	ctx := context.Background()

	var svc *service.Service
	if withModels {
		poseModel, err := onnx.LoadFromBytes(onnxtest.PoseModel([4]float32{0, 0, 0, 2}), cpu.New())
		require.NoError(t, err)
		est, err := pose.NewEstimator(poseModel)
		require.NoError(t, err)

		var bias [3]float32
		bias[0] = 3
		policyModel, err := onnx.LoadFromBytes(onnxtest.PolicyModel([3][16]float32{}, bias), cpu.New())
		require.NoError(t, err)
		pol, err := policy.New(policyModel)
		require.NoError(t, err)
		svc = service.New(est, pol)
	} else {
		svc = service.New(nil, nil)
	}

	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "index.html"), []byte("<h1>isopose</h1>"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(static, "app.js"), []byte("console.log(1)"), 0o600))

	h, err := NewHandler(ctx, svc, Options{
		BodyLimit:  1 << 20,
		CORS:       true,
		StaticRoot: static,
		Metrics:    metrics.New(),
		Logger:     logging.NewNop(),
	})
	require.NoError(t, err)

	doc, err := OpenAPI(ctx)
	require.NoError(t, err)
	router, err := legacy.NewRouter(doc)
	require.NoError(t, err)
	return &fixture{handler: h, doc: doc, router: router, static: static}
}

// do serves one request and checks the response against the API document
// whenever the route is part of it.
func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	route, params, err := f.router.FindRoute(req)
	if err == nil {
		input := &openapi3filter.ResponseValidationInput{
			RequestValidationInput: &openapi3filter.RequestValidationInput{
				Request:    req,
				PathParams: params,
				Route:      route,
			},
			Status: rec.Code,
			Header: rec.Header(),
		}
		input.SetBodyBytes(rec.Body.Bytes())
		require.NoError(t, openapi3filter.ValidateResponse(context.Background(), input), "response must match openapi.yaml")
	}
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func pngBase64(t *testing.T) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 32, 24))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.Set(3, 3, color.NRGBA{R: 10, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestHealth(t *testing.T) {
	rec := newFixture(t, true).do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "loaded", body["pose_model"])
	assert.Equal(t, "loaded", body["rl_model"])
	assert.Equal(t, "cpu", body["device"])
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = newFixture(t, false).do(t, http.MethodGet, "/health", "")
	body = decodeBody(t, rec)
	assert.Equal(t, "unavailable", body["pose_model"])
	assert.Equal(t, "unavailable", body["rl_model"])
}

func TestPredictPose(t *testing.T) {
	f := newFixture(t, true)
	payload, err := json.Marshal(map[string]string{"image": pngBase64(t)})
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/predict_pose", string(payload))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp service.PoseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.InDeltaSlice(t, []float64{0, 0, 0, 1}, resp.Quaternion, 1e-6)
	assert.InDeltaSlice(t, []float64{0, 0, 0}, resp.Euler, 1e-6)
}

func TestPredictPoseErrors(t *testing.T) {
	f := newFixture(t, true)
	tests := []struct {
		name   string
		body   string
		status int
		msg    string
	}{
		{"missing image", `{"picture": "x"}`, http.StatusBadRequest, "No image provided"},
		{"null image", `{"image": null}`, http.StatusInternalServerError, "image must be a string"},
		{"number image", `{"image": 5}`, http.StatusInternalServerError, "image must be a string"},
		{"not an image", `{"image": "aGVsbG8="}`, http.StatusInternalServerError, "cannot identify image"},
		{"malformed json", `{"image": `, http.StatusInternalServerError, "invalid request body"},
		{"array body", `[1, 2]`, http.StatusInternalServerError, "invalid request body"},
		{"second object", `{"image": "aGVsbG8="} {}`, http.StatusInternalServerError, "unexpected data after the JSON object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/predict_pose", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, decodeBody(t, rec)["error"], tt.msg)
		})
	}
}

func TestPredictPoseModelUnavailable(t *testing.T) {
	rec := newFixture(t, false).do(t, http.MethodPost, "/predict_pose", `{"image": "abc"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "pose model not loaded", decodeBody(t, rec)["error"])
}

func TestPredictAction(t *testing.T) {
	f := newFixture(t, true)
	rec := f.do(t, http.MethodPost, "/predict_action", `{"quaternion": [0, 0, 0, 1], "angular_velocity": [0, 0, 0]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp service.ActionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []float32{1, 0, 0}, resp.Action)
	assert.InDeltaSlice(t, []float64{0, 0, 1}, resp.ZAxis, 1e-9)
	assert.Equal(t, []float32{1, 0, 0, 0, 0, 0}, resp.Orientation)

	rec = f.do(t, http.MethodPost, "/predict_action", `{"quaternion": [0, 0, 0, 1]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "angular_velocity")
}

func TestQuaternionError(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(t, http.MethodPost, "/quaternion_error", `{"predicted": [0, 0, 0, 1], "actual": [0, 0, 0, -1]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.InDelta(t, 0, body["error"], 1e-12)
	assert.InDelta(t, 2, body["raw_error"], 1e-12)
	assert.InDelta(t, 0, body["angle_deg"], 1e-9)

	rec = f.do(t, http.MethodPost, "/quaternion_error", `{"predicted": [1, 2]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = f.do(t, http.MethodPost, "/quaternion_error", `{"predicted": [0, 0, 0, 1], "actual": [0, 0, 0, 1]} junk`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "invalid request body")

	rec = f.do(t, http.MethodPost, "/quaternion_error", "{\"predicted\": [0, 0, 0, 1], \"actual\": [0, 0, 0, 1]}\n")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBodyLimit(t *testing.T) {
	f := newFixture(t, true)
	big := `{"image": "` + strings.Repeat("A", 2<<20) + `"}`
	rec := f.do(t, http.MethodPost, "/predict_pose", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(t, http.MethodOptions, "/predict_pose", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestStaticFiles(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<h1>isopose</h1>", rec.Body.String())

	rec = f.do(t, http.MethodGet, "/app.js", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "console.log(1)", rec.Body.String())

	rec = f.do(t, http.MethodGet, "/missing.png", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStaticRejectsSymlinkEscape(t *testing.T) {
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("secret"), 0o600))
	root := t.TempDir()
	if err := os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(root, "link.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	h := NewStatic(root, logging.NewNop())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/link.txt", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/../"+filepath.Base(outside)+"/secret.txt", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStaticMissingRoot(t *testing.T) {
	h := NewStatic(filepath.Join(t.TempDir(), "absent"), logging.NewNop())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsAndSpecEndpoints(t *testing.T) {
	f := newFixture(t, false)
	f.do(t, http.MethodGet, "/health", "")

	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `isopose_http_requests_total{code="200",route="/health"} 1`)

	rec = f.do(t, http.MethodGet, "/openapi.yaml", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/predict_pose:")
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, ln, NewStatic(t.TempDir(), nil), time.Second, logging.NewNop())
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
