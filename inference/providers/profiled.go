package providers

import (
	"fmt"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"
)

// SessionArgs describes a model with fixed-shape float32 inputs and outputs.
type SessionArgs struct {
	ModelPath    string
	InputNames   []string
	InputShapes  []ort.Shape
	OutputNames  []string
	OutputShapes []ort.Shape
}

// Metrics holds inference counters for a session.
type Metrics struct {
	InferenceCount int64
	TotalMS        float64
	LastMS         float64
}

// AverageMS returns the mean run time, or zero before the first run.
func (m Metrics) AverageMS() float64 {
	if m.InferenceCount == 0 {
		return 0
	}
	return m.TotalMS / float64(m.InferenceCount)
}

// record adds one run of duration d.
func (m *Metrics) record(d time.Duration) {
	ms := float64(d.Nanoseconds()) / 1e6
	m.InferenceCount++
	m.TotalMS += ms
	m.LastMS = ms
}

// ProfiledSession wraps an ONNX AdvancedSession with preallocated tensors and run timing.
// Runs are serialized because the bound tensors are shared.
type ProfiledSession struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	inputs  []*ort.Tensor[float32]
	outputs []*ort.Tensor[float32]
	metrics Metrics
}

// NewProfiledSession creates a session for args using the providers in cfg.
//
// Order of operations:
//  1. Environment setup: loads the native library once per process.
//  2. Tensor allocation: fixed-shape buffers for every input and output.
//  3. Session options: threading, graph optimization and the execution provider.
//  4. Session creation: loads the model and binds the tensors.
//
// Arguments:
//   - cfg: The provider configuration.
//   - args: Model path, tensor names and shapes.
//
// Returns:
//   - *ProfiledSession: The session; the caller must Close it.
//   - error: An error if any step fails. Native resources are released on failure.
func NewProfiledSession(cfg Config, args SessionArgs) (*ProfiledSession, error) {
	if len(args.InputNames) != len(args.InputShapes) || len(args.OutputNames) != len(args.OutputShapes) {
		return nil, fmt.Errorf("tensor names and shapes must pair up")
	}
	if err := InitializeEnvironment(cfg); err != nil {
		return nil, err
	}

	ps := &ProfiledSession{}
	for _, shape := range args.InputShapes {
		t, err := ort.NewEmptyTensor[float32](shape)
		if err != nil {
			ps.destroyTensors()
			return nil, fmt.Errorf("error creating input tensor %v: %w", shape, err)
		}
		ps.inputs = append(ps.inputs, t)
	}
	for _, shape := range args.OutputShapes {
		t, err := ort.NewEmptyTensor[float32](shape)
		if err != nil {
			ps.destroyTensors()
			return nil, fmt.Errorf("error creating output tensor %v: %w", shape, err)
		}
		ps.outputs = append(ps.outputs, t)
	}

	options, err := NewSessionOptions(cfg)
	if err != nil {
		ps.destroyTensors()
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewAdvancedSession(
		args.ModelPath,
		args.InputNames,
		args.OutputNames,
		values(ps.inputs),
		values(ps.outputs),
		options,
	)
	if err != nil {
		ps.destroyTensors()
		return nil, fmt.Errorf("error creating ORT session for %s: %w", args.ModelPath, err)
	}
	ps.session = session
	return ps, nil
}

// Run copies inputs into the bound tensors, runs the model and returns copies of the outputs.
//
// Arguments:
//   - inputs: One flat buffer per input, each matching its tensor's element count.
//
// Returns:
//   - [][]float32: One buffer per output.
//   - error: An error if a buffer has the wrong size or the run fails.
func (ps *ProfiledSession) Run(inputs ...[]float32) ([][]float32, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.session == nil {
		return nil, fmt.Errorf("session is closed")
	}
	if len(inputs) != len(ps.inputs) {
		return nil, fmt.Errorf("expected %d inputs, got %d", len(ps.inputs), len(inputs))
	}
	for i, in := range inputs {
		dst := ps.inputs[i].GetData()
		if len(in) != len(dst) {
			return nil, fmt.Errorf("input %d holds %d values, tensor needs %d", i, len(in), len(dst))
		}
		copy(dst, in)
	}

	start := time.Now()
	err := ps.session.Run()
	ps.metrics.record(time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("error running session: %w", err)
	}

	out := make([][]float32, len(ps.outputs))
	for i, t := range ps.outputs {
		out[i] = append([]float32(nil), t.GetData()...)
	}
	return out, nil
}

// Metrics returns a snapshot of the run counters.
func (ps *ProfiledSession) Metrics() Metrics {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.metrics
}

// Close releases the session and its tensors. It waits for an in-progress run.
func (ps *ProfiledSession) Close() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	var err error
	if ps.session != nil {
		if derr := ps.session.Destroy(); derr != nil {
			err = fmt.Errorf("error destroying ORT session: %w", derr)
		}
		ps.session = nil
	}
	ps.destroyTensors()
	return err
}

func (ps *ProfiledSession) destroyTensors() {
	for _, t := range ps.inputs {
		t.Destroy()
	}
	for _, t := range ps.outputs {
		t.Destroy()
	}
	ps.inputs, ps.outputs = nil, nil
}

func values(ts []*ort.Tensor[float32]) []ort.Value {
	out := make([]ort.Value, len(ts))
	for i, t := range ts {
		out[i] = t
	}
	return out
}
