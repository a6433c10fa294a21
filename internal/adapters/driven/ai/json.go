package ai

import (
	"encoding/json"
	"fmt"
	neturl "net/url"
	"strings"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
)

// decodeJSON reads a JSON object out of model output. A surrounding code
// fence is stripped; anything else around the object is malformed output.
func decodeJSON(raw string, out any) error {
	cleaned := strings.TrimSpace(raw)
	for _, fence := range []string{"```json", "```JSON", "```"} {
		if strings.HasPrefix(cleaned, fence) {
			cleaned = strings.TrimPrefix(cleaned, fence)
			cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
			break
		}
	}

	if err := json.Unmarshal([]byte(strings.TrimSpace(cleaned)), out); err != nil {
		return fmt.Errorf("%w: response is not a JSON object: %v", domain.ErrValidationFailed, err)
	}
	return nil
}

// normalizeOpenAIBaseURL makes sure a custom endpoint ends in /v1
func normalizeOpenAIBaseURL(raw string) string {
	base := strings.TrimSpace(raw)
	if base == "" {
		return ""
	}
	parsed, err := neturl.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return strings.TrimRight(base, "/")
	}

	path := strings.TrimRight(parsed.Path, "/")
	if !strings.HasSuffix(path, "/v1") {
		path += "/v1"
	}
	parsed.Path = path
	return strings.TrimRight(parsed.String(), "/")
}
