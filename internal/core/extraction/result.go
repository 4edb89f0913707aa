package extraction

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clinovia/labpipe/internal/models"
)

// extractionPrompt instructs a provider to return strict JSON for one
// scanned lab report. Both providers share it so their outputs are
// interchangeable.
const extractionPrompt = `You are extracting structured data from a scanned clinical laboratory report.
Return ONLY a JSON object with this shape, no prose and no markdown:
{
  "patient_name": string,
  "patient_dob": string (YYYY-MM-DD or empty),
  "test_date": string (YYYY-MM-DD or empty),
  "lab_name": string,
  "tests": [
    {"name": string, "value": string, "unit": string, "reference_range": string, "flag": string}
  ]
}
If the image is not a lab report or contains no test results, return {"tests": []}.`

// parseResult decodes a provider's raw text into an ExtractionResult.
// Models wrap JSON in code fences often enough that we strip them first.
func parseResult(raw string) (*models.ExtractionResult, error) {
	content := strings.TrimSpace(raw)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		if i := strings.LastIndex(content, "```"); i >= 0 {
			content = content[:i]
		}
		content = strings.TrimSpace(content)
	}
	// Some models prepend a sentence anyway; cut to the outermost object.
	if i := strings.Index(content, "{"); i > 0 {
		content = content[i:]
	}

	var res models.ExtractionResult
	if err := json.Unmarshal([]byte(content), &res); err != nil {
		return nil, fmt.Errorf("decode extraction payload: %w", err)
	}
	return &res, nil
}
