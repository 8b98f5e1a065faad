package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every metric the demo records. There is no HTTP
// endpoint; WriteTextfile dumps it in the node_exporter textfile format.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	ModelLoadDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "baatcheet_model_load_duration_seconds",
		Help:    "Time spent resolving and loading the model and tokenizer",
		Buckets: []float64{0.1, 1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"backend"})

	ModelWeightBytes = factory.NewGauge(prometheus.GaugeOpts{
		Name: "baatcheet_model_weight_bytes",
		Help: "Bytes held by the loaded weights after quantization",
	})

	PromptsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "baatcheet_prompts_total",
		Help: "Prompts processed, by finish reason",
	}, []string{"finish_reason"})

	PromptTokens = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "baatcheet_prompt_tokens",
		Help:    "Distribution of encoded prompt lengths",
		Buckets: []float64{8, 16, 32, 64, 128, 256, 512, 1024, 2048},
	})

	GeneratedTokens = factory.NewCounter(prometheus.CounterOpts{
		Name: "baatcheet_generated_tokens_total",
		Help: "The total number of tokens generated",
	})

	GenerationDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "baatcheet_generation_duration_seconds",
		Help:    "Wall time of one prompt's generation",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	})
)

// WriteTextfile writes the current metric values to path
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
