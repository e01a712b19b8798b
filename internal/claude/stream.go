package claude

import "encoding/json"

// streamEvent is the subset of the claude stream-json protocol we read.
// Assistant events carry content blocks; everything else (system, tool
// use, the final result event) is skipped.
type streamEvent struct {
	Type    string `json:"type"`
	Message struct {
		Content []contentBlock `json:"content"`
	} `json:"message"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// assistantText extracts the text blocks from one stream-json line.
// Non-JSON lines and non-assistant events yield nothing.
func assistantText(line []byte) []string {
	var ev streamEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil
	}
	if ev.Type != "assistant" {
		return nil
	}
	var texts []string
	for _, block := range ev.Message.Content {
		if block.Type == "text" && block.Text != "" {
			texts = append(texts, block.Text)
		}
	}
	return texts
}
