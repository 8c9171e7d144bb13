package producer

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// DetectManifest scans Director output for an execution manifest. It
// accepts a fenced json block or a bare JSON object, and requires the
// "type":"manifest" discriminator so ordinary structured replies are
// never mistaken for a plan.
func DetectManifest(text string) (*Manifest, bool) {
	var candidates []string
	for _, m := range fencedJSON.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, m[1])
	}
	if len(candidates) == 0 {
		if start := strings.Index(text, "{"); start >= 0 {
			if end := strings.LastIndex(text, "}"); end > start {
				candidates = append(candidates, text[start:end+1])
			}
		}
	}
	for _, c := range candidates {
		var m Manifest
		if err := json.Unmarshal([]byte(c), &m); err != nil {
			continue
		}
		if m.Type != "manifest" || len(m.Steps) == 0 {
			continue
		}
		return &m, true
	}
	return nil, false
}
