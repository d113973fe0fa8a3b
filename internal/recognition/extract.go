package recognition

import (
	"encoding/json"
	"strings"
)

// resultPayload mirrors the shapes DashScope has used for result-generated
// payloads. output.sentence has shipped both as a single object and as an
// array of segments, so it is kept raw and probed in order.
type resultPayload struct {
	Output struct {
		Sentence json.RawMessage `json:"sentence"`
		Text     string          `json:"text"`
	} `json:"output"`
}

type sentence struct {
	Text string `json:"text"`
}

// extractTranscript pulls the transcript text out of a result-generated
// payload. Probe order: output.sentence as an array of segments (texts
// joined), output.sentence as a single object, then output.text. Returns
// "" when no shape matches.
func extractTranscript(payload json.RawMessage) string {
	var res resultPayload
	if err := json.Unmarshal(payload, &res); err != nil {
		return ""
	}

	if len(res.Output.Sentence) > 0 {
		var many []sentence
		if err := json.Unmarshal(res.Output.Sentence, &many); err == nil {
			parts := make([]string, 0, len(many))
			for _, s := range many {
				if s.Text != "" {
					parts = append(parts, s.Text)
				}
			}
			if len(parts) > 0 {
				return strings.Join(parts, "")
			}
		}

		var one sentence
		if err := json.Unmarshal(res.Output.Sentence, &one); err == nil && one.Text != "" {
			return one.Text
		}
	}

	return res.Output.Text
}
