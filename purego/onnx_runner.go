package purego

import (
	"fmt"
	"os"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"baatcheet-go/baatcheet"
	"baatcheet-go/internal/logger"
)

// ONNXModelRunner implements ModelRunner using ONNX Runtime. The graph
// must be exported without past key values; every step re-runs the full
// sequence.
type ONNXModelRunner struct {
	modelPath  string
	session    *ort.DynamicAdvancedSession
	inputNames []string
	samplers   samplerSet
	mu         sync.Mutex
}

var ortInit sync.Once
var ortInitErr error

// initRuntime loads the onnxruntime shared library once per process.
// ONNXRUNTIME_LIB overrides the library path.
func initRuntime() error {
	ortInit.Do(func() {
		if lib := os.Getenv("ONNXRUNTIME_LIB"); lib != "" {
			ort.SetSharedLibraryPath(lib)
		}
		if !ort.IsInitialized() {
			ortInitErr = ort.InitializeEnvironment()
		}
	})
	return ortInitErr
}

// NewONNXModelRunner creates a session for modelPath. On DeviceCUDA the
// CUDA execution provider is appended; otherwise it runs on CPU.
func NewONNXModelRunner(modelPath string, config *baatcheet.Config) (*ONNXModelRunner, error) {
	if err := initRuntime(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect model: %w", err)
	}

	var inputNames []string
	for _, in := range inputs {
		switch {
		case in.Name == "input_ids", in.Name == "attention_mask", in.Name == "position_ids":
			inputNames = append(inputNames, in.Name)
		case strings.HasPrefix(in.Name, "past_key_values"):
			return nil, fmt.Errorf("model expects %s; export it without past key values", in.Name)
		default:
			return nil, fmt.Errorf("unsupported model input %s", in.Name)
		}
	}
	if len(inputNames) == 0 || inputNames[0] != "input_ids" {
		return nil, fmt.Errorf("model must take input_ids first")
	}
	if len(outputs) == 0 || outputs[0].Name != "logits" {
		return nil, fmt.Errorf("model must produce logits first")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	if config.Device == baatcheet.DeviceCUDA {
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, fmt.Errorf("failed to create CUDA options: %w", err)
		}
		defer cuda.Destroy()
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return nil, fmt.Errorf("%w: %v", baatcheet.ErrUnsupportedDevice, err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, []string{"logits"}, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	logger.Log.Info("loaded ONNX model", "path", modelPath, "inputs", strings.Join(inputNames, ","), "device", config.Device)
	return &ONNXModelRunner{
		modelPath:  modelPath,
		session:    session,
		inputNames: inputNames,
	}, nil
}

// Run executes inference on the sequences
func (m *ONNXModelRunner) Run(seqs []*baatcheet.Sequence, isPrefill bool) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil, fmt.Errorf("model runner is closed")
	}
	if len(seqs) == 0 {
		return nil, fmt.Errorf("no sequences to process")
	}

	tokenIDs := make([]int, len(seqs))
	for i, seq := range seqs {
		logits, err := m.lastLogits(seq.TokenIDs)
		if err != nil {
			return nil, fmt.Errorf("sequence %d: %w", seq.SeqID, err)
		}
		tokenIDs[i] = m.samplers.get(seq).Sample(logits)
	}
	return tokenIDs, nil
}

// lastLogits runs the graph over ids and returns the final position's row
func (m *ONNXModelRunner) lastLogits(ids []int) ([]float32, error) {
	n := len(ids)
	if n == 0 {
		return nil, fmt.Errorf("sequence has no tokens")
	}

	shape := ort.NewShape(1, int64(n))
	inputs := make([]ort.Value, 0, len(m.inputNames))
	defer func() {
		for _, v := range inputs {
			v.Destroy()
		}
	}()

	for _, name := range m.inputNames {
		data := make([]int64, n)
		for j := range data {
			switch name {
			case "input_ids":
				data[j] = int64(ids[j])
			case "attention_mask":
				data[j] = 1
			case "position_ids":
				data[j] = int64(j)
			}
		}
		t, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s tensor: %w", name, err)
		}
		inputs = append(inputs, t)
	}

	outputs := []ort.Value{nil}
	if err := m.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	defer outputs[0].Destroy()

	logits, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("logits are not float32")
	}
	dims := logits.GetShape()
	if len(dims) != 3 || dims[1] != int64(n) {
		return nil, fmt.Errorf("unexpected logits shape %v", dims)
	}

	vocab := int(dims[2])
	data := logits.GetData()
	last := make([]float32, vocab)
	copy(last, data[(n-1)*vocab:n*vocab])
	return last, nil
}

// Release drops the sampler of a finished sequence
func (m *ONNXModelRunner) Release(seqID int64) {
	m.samplers.release(seqID)
}

// Close destroys the session
func (m *ONNXModelRunner) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}
