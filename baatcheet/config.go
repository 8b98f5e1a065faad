package baatcheet

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// DefaultModelID is the translation model the demo was built around.
const DefaultModelID = "fnnerd/Baatcheet-7b"

// DType selects the numeric precision weights are kept in.
type DType string

const (
	DTypeAuto     DType = "auto" // resolved from the checkpoint's torch_dtype
	DTypeFloat16  DType = "float16"
	DTypeBFloat16 DType = "bfloat16"
	DTypeFloat32  DType = "float32"
)

// Backend names the inference implementation behind ModelRunner.
type Backend string

const (
	BackendNative Backend = "native" // pure Go forward pass
	BackendONNX   Backend = "onnx"   // onnxruntime session
	BackendHTTP   Backend = "http"   // remote inference server
)

// Device names the compute device a backend should bind to.
type Device string

const (
	DeviceAuto Device = "auto"
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
)

// Config holds everything needed to load a model and its tokenizer
type Config struct {
	ModelID        string
	Revision       string
	MaxSeqLength   int
	DType          DType
	LoadIn4Bit     bool
	QuantGroupSize int
	Device         Device
	Backend        Backend
	ServerURL      string
	CacheDir       string
	Token          string
	ShowProgress   bool
	EOS            int
}

// ConfigOption is a functional option for Config
type ConfigOption func(*Config)

// NewConfig creates a new Config with the demo's defaults.
// HF_TOKEN and HF_HOME are picked up from the environment when set.
func NewConfig(modelID string, opts ...ConfigOption) *Config {
	if modelID == "" {
		modelID = DefaultModelID
	}

	c := &Config{
		ModelID:        modelID,
		Revision:       "main",
		MaxSeqLength:   2048,
		DType:          DTypeAuto,
		LoadIn4Bit:     true,
		QuantGroupSize: 64,
		Device:         DeviceAuto,
		Backend:        BackendNative,
		Token:          os.Getenv("HF_TOKEN"),
		CacheDir:       os.Getenv("HF_HOME"),
		EOS:            -1,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Validate checks the configuration without touching the model artifact.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ModelID) == "" {
		return fmt.Errorf("%w: model id is empty", ErrInvalidConfig)
	}

	if c.MaxSeqLength <= 0 {
		return fmt.Errorf("%w: max_seq_length must be positive, got %d", ErrInvalidConfig, c.MaxSeqLength)
	}

	switch c.DType {
	case DTypeAuto, DTypeFloat16, DTypeBFloat16, DTypeFloat32:
	default:
		return fmt.Errorf("%w: unknown dtype %q", ErrInvalidConfig, c.DType)
	}

	if c.LoadIn4Bit && (c.QuantGroupSize <= 0 || c.QuantGroupSize%2 != 0) {
		return fmt.Errorf("%w: quant group size must be a positive even number, got %d", ErrInvalidConfig, c.QuantGroupSize)
	}

	switch c.Device {
	case DeviceAuto, DeviceCPU, DeviceCUDA:
	default:
		return fmt.Errorf("%w: unknown device %q", ErrInvalidConfig, c.Device)
	}

	switch c.Backend {
	case BackendNative:
		if c.Device == DeviceCUDA {
			return fmt.Errorf("%w: the native backend runs on cpu only", ErrUnsupportedDevice)
		}
	case BackendONNX:
	case BackendHTTP:
		if c.ServerURL == "" {
			return fmt.Errorf("%w: http backend needs a server url", ErrInvalidConfig)
		}
		u, err := url.Parse(c.ServerURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: invalid server url %q", ErrInvalidConfig, c.ServerURL)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}

	return nil
}

// WithRevision sets the hub revision (branch, tag or commit)
func WithRevision(rev string) ConfigOption {
	return func(c *Config) {
		c.Revision = rev
	}
}

// WithMaxSeqLength sets the maximum sequence length (prompt plus completion)
func WithMaxSeqLength(n int) ConfigOption {
	return func(c *Config) {
		c.MaxSeqLength = n
	}
}

// WithDType sets the weight precision
func WithDType(d DType) ConfigOption {
	return func(c *Config) {
		c.DType = d
	}
}

// WithLoadIn4Bit toggles 4-bit weight storage
func WithLoadIn4Bit(b bool) ConfigOption {
	return func(c *Config) {
		c.LoadIn4Bit = b
	}
}

// WithQuantGroupSize sets how many weights share one 4-bit scale
func WithQuantGroupSize(n int) ConfigOption {
	return func(c *Config) {
		c.QuantGroupSize = n
	}
}

// WithDevice sets the compute device
func WithDevice(d Device) ConfigOption {
	return func(c *Config) {
		c.Device = d
	}
}

// WithBackend sets the inference backend
func WithBackend(b Backend) ConfigOption {
	return func(c *Config) {
		c.Backend = b
	}
}

// WithServerURL sets the base URL of the remote inference server
func WithServerURL(u string) ConfigOption {
	return func(c *Config) {
		c.ServerURL = u
	}
}

// WithCacheDir sets the hub cache directory
func WithCacheDir(dir string) ConfigOption {
	return func(c *Config) {
		c.CacheDir = dir
	}
}

// WithToken sets the hub auth token used for gated models
func WithToken(token string) ConfigOption {
	return func(c *Config) {
		c.Token = token
	}
}

// WithShowProgress toggles download and generation progress bars
func WithShowProgress(b bool) ConfigOption {
	return func(c *Config) {
		c.ShowProgress = b
	}
}

// WithEOS overrides the EOS token ID reported by the tokenizer
func WithEOS(id int) ConfigOption {
	return func(c *Config) {
		c.EOS = id
	}
}
