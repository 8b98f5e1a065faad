package purego

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"baatcheet-go/baatcheet"
	"baatcheet-go/internal/logger"
)

// ServerInfo is what an inference server reports on /info. Token ids the
// server omits are -1.
type ServerInfo struct {
	ModelID    string `json:"model_id"`
	ModelType  string `json:"model_type"`
	VocabSize  int    `json:"vocab_size"`
	EOSTokenID int    `json:"eos_token_id"`
	BOSTokenID int    `json:"bos_token_id"`
}

type httpClient struct {
	serverURL string
	client    *http.Client
}

func newHTTPClient(serverURL string) *httpClient {
	return &httpClient{
		serverURL: strings.TrimRight(serverURL, "/"),
		client:    &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *httpClient) get(path string, out any) error {
	resp, err := c.client.Get(c.serverURL + path)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	return decodeResponse(resp, path, out)
}

func (c *httpClient) post(path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	resp, err := c.client.Post(c.serverURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return decodeResponse(resp, path, out)
}

func decodeResponse(resp *http.Response, path string, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: server returned %s: %s", path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", path, err)
	}
	return nil
}

// HTTPModelRunner implements ModelRunner by delegating each step to an
// inference server that holds the model.
type HTTPModelRunner struct {
	*httpClient
	info ServerInfo
}

// NewHTTPModelRunner connects to serverURL and checks that it serves
// modelID. An empty modelID, or a server that does not report one,
// skips the check.
func NewHTTPModelRunner(serverURL, modelID string) (*HTTPModelRunner, error) {
	runner := &HTTPModelRunner{
		httpClient: newHTTPClient(serverURL),
		info:       ServerInfo{EOSTokenID: -1, BOSTokenID: -1},
	}

	if err := runner.get("/info", &runner.info); err != nil {
		return nil, err
	}
	if modelID != "" && runner.info.ModelID != "" && runner.info.ModelID != modelID {
		return nil, fmt.Errorf("server serves %s, want %s", runner.info.ModelID, modelID)
	}

	logger.Log.Info("connected to inference server",
		"url", runner.serverURL,
		"model", runner.info.ModelID,
		"vocab", runner.info.VocabSize,
	)
	return runner, nil
}

// Info returns what the server reported at connect time
func (m *HTTPModelRunner) Info() ServerInfo {
	return m.info
}

type inferenceSequence struct {
	SeqID       int64   `json:"seq_id"`
	TokenIDs    []int   `json:"token_ids"`
	Temperature float64 `json:"temperature"`
	TopK        int     `json:"top_k"`
	TopP        float64 `json:"top_p"`
	Seed        int64   `json:"seed"`
}

type inferenceRequest struct {
	Sequences []inferenceSequence `json:"sequences"`
	IsPrefill bool                `json:"is_prefill"`
}

type inferenceResponse struct {
	TokenIDs []int `json:"token_ids"`
}

// Run executes inference via HTTP
func (m *HTTPModelRunner) Run(seqs []*baatcheet.Sequence, isPrefill bool) ([]int, error) {
	req := inferenceRequest{
		Sequences: make([]inferenceSequence, len(seqs)),
		IsPrefill: isPrefill,
	}
	for i, seq := range seqs {
		req.Sequences[i] = inferenceSequence{
			SeqID:       seq.SeqID,
			TokenIDs:    seq.TokenIDs,
			Temperature: seq.Params.Temperature,
			TopK:        seq.Params.TopK,
			TopP:        seq.Params.TopP,
			Seed:        seq.Params.Seed,
		}
	}

	var result inferenceResponse
	if err := m.post("/inference", req, &result); err != nil {
		return nil, err
	}
	if len(result.TokenIDs) != len(seqs) {
		return nil, fmt.Errorf("server returned %d tokens for %d sequences", len(result.TokenIDs), len(seqs))
	}
	return result.TokenIDs, nil
}

// Close cleans up resources
func (m *HTTPModelRunner) Close() error {
	m.client.CloseIdleConnections()
	return nil
}

// HTTPTokenizer implements Tokenizer using the server's tokenizer
type HTTPTokenizer struct {
	*httpClient
	eosID int
}

// NewHTTPTokenizer creates a new HTTP-based tokenizer
func NewHTTPTokenizer(serverURL string, eosID int) *HTTPTokenizer {
	return &HTTPTokenizer{
		httpClient: newHTTPClient(serverURL),
		eosID:      eosID,
	}
}

// Encode converts text to token IDs via HTTP
func (t *HTTPTokenizer) Encode(text string) ([]int, error) {
	var result struct {
		Tokens []int `json:"tokens"`
	}
	if err := t.post("/tokenize", map[string]string{"text": text}, &result); err != nil {
		return nil, err
	}
	return result.Tokens, nil
}

// Decode converts token IDs to text via HTTP
func (t *HTTPTokenizer) Decode(tokenIDs []int) (string, error) {
	var result struct {
		Text string `json:"text"`
	}
	if err := t.post("/detokenize", map[string][]int{"tokens": tokenIDs}, &result); err != nil {
		return "", err
	}
	return result.Text, nil
}

// EOSTokenID returns the EOS token ID
func (t *HTTPTokenizer) EOSTokenID() int {
	return t.eosID
}
