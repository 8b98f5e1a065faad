package purego

import (
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"baatcheet-go/purego/tensor"
)

// SpecialTokens holds resolved special token ids, -1 when unknown
type SpecialTokens struct {
	BOS int
	EOS int
	Pad int
}

// LoadSpecialTokens resolves special token ids for a model directory.
// tokenizer_config.json names are looked up first, then config.json ids
// override them, then generation_config.json, the file generation itself
// reads. lookup maps a token string to its id and may be nil.
func LoadSpecialTokens(dir string, lookup func(string) (int, bool)) SpecialTokens {
	st := SpecialTokens{BOS: -1, EOS: -1, Pad: -1}

	var tokCfg struct {
		BOSToken any `json:"bos_token"`
		EOSToken any `json:"eos_token"`
		PadToken any `json:"pad_token"`
	}
	if readJSON(filepath.Join(dir, "tokenizer_config.json"), &tokCfg) && lookup != nil {
		for _, pair := range []struct {
			val any
			dst *int
		}{
			{tokCfg.BOSToken, &st.BOS},
			{tokCfg.EOSToken, &st.EOS},
			{tokCfg.PadToken, &st.Pad},
		} {
			if id, ok := lookup(extractTokenString(pair.val)); ok {
				*pair.dst = id
			}
		}
	}

	for _, name := range []string{"config.json", "generation_config.json"} {
		var ids struct {
			BOS tensor.TokenIDList `json:"bos_token_id"`
			EOS tensor.TokenIDList `json:"eos_token_id"`
			Pad tensor.TokenIDList `json:"pad_token_id"`
		}
		if !readJSON(filepath.Join(dir, name), &ids) {
			continue
		}
		if id := ids.BOS.First(); id >= 0 {
			st.BOS = id
		}
		if id := ids.EOS.First(); id >= 0 {
			st.EOS = id
		}
		if id := ids.Pad.First(); id >= 0 {
			st.Pad = id
		}
	}

	return st
}

func readJSON(path string, v any) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

// extractTokenString accepts either "</s>" or {"content": "</s>", ...}
func extractTokenString(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case map[string]any:
		if content, ok := v["content"].(string); ok {
			return content
		}
	}
	return ""
}
