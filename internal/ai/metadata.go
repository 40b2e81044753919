package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"dashboard-knowledge-engine/models"
)

// MetadataService asks the generative model for structured document
// metadata: a short summary, entity tags, extracted business rules and
// suggested questions. Ingestion treats any failure here as non-fatal.
type MetadataService struct {
	gemini *GeminiClient
}

func NewMetadataService(gemini *GeminiClient) *MetadataService {
	return &MetadataService{gemini: gemini}
}

const metadataMaxInput = 8000

func (ms *MetadataService) ExtractMetadata(ctx context.Context, title, text string) (*models.DocumentMetadata, error) {
	prompt := buildMetadataPrompt(title, truncateText(text, metadataMaxInput))

	raw, err := ms.gemini.generateText(ctx, prompt, 0)
	if err != nil {
		return nil, fmt.Errorf("metadata extraction failed: %w", err)
	}

	var meta models.DocumentMetadata
	if err := json.Unmarshal([]byte(stripCodeFences(raw)), &meta); err != nil {
		return nil, fmt.Errorf("metadata response was not valid JSON: %w", err)
	}
	if meta.Category == "" {
		meta.Category = "general"
	}
	return &meta, nil
}

func buildMetadataPrompt(title, text string) string {
	return fmt.Sprintf(`Analyze the following business document and respond with a single JSON object, no prose, with exactly these keys:
- "summary": a 2-3 sentence summary
- "category": one word, e.g. "contract", "ledger", "policy", "general"
- "entity_tags": names, organizations, amounts and dates worth indexing
- "extracted_rules": concrete obligations, thresholds or rules stated in the text
- "suggested_questions": 3 questions this document can answer

Title: %s

Document:
%s`, title, text)
}

// stripCodeFences unwraps the ```json fences models like to add despite
// instructions.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// truncateText truncates text to specified length
func truncateText(text string, maxLength int) string {
	if len(text) <= maxLength {
		return text
	}
	return text[:maxLength]
}
