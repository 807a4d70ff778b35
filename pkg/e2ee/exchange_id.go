package e2ee

import (
	"bytes"
	"encoding/json"
)

// streamExchangeID returns the first top-level "id" found in a data: line.
func streamExchangeID(raw []byte) string {
	for len(raw) > 0 {
		line := raw
		if i := bytes.IndexByte(raw, '\n'); i >= 0 {
			line, raw = raw[:i], raw[i+1:]
		} else {
			raw = nil
		}
		payload, ok := bytes.CutPrefix(bytes.TrimSpace(line), []byte("data:"))
		if !ok {
			continue
		}
		if id := documentExchangeID(payload); id != "" {
			return id
		}
	}
	return ""
}

func documentExchangeID(doc []byte) string {
	var v struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(doc), &v); err != nil {
		return ""
	}
	return v.ID
}
