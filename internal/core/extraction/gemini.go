package extraction

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/clinovia/labpipe/internal/core"
	objectclient "github.com/clinovia/labpipe/internal/core/object-client"
	"github.com/clinovia/labpipe/internal/models"
)

// GeminiProvider is the primary extraction backend. It pulls the stored
// report from object storage and sends the bytes inline to Gemini.
type GeminiProvider struct {
	client    *genai.Client
	modelName string
	obj       core.ObjectClient
}

func NewGeminiProvider(ctx context.Context, apiKey, modelName string, obj core.ObjectClient) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key not set")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &GeminiProvider{client: cl, modelName: modelName, obj: obj}, nil
}

func (g *GeminiProvider) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiProvider) Name() models.ExtractionProvider {
	return models.ProviderPrimary
}

func (g *GeminiProvider) Extract(ctx context.Context, fileURL, mimeType string) (*models.ExtractionResult, error) {
	bucket, key := objectclient.ParseObjectURL(fileURL)
	data, err := g.obj.GetFile(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("fetch report bytes: %w", err)
	}

	m := g.client.GenerativeModel(g.modelName)
	resp, err := m.GenerateContent(ctx,
		genai.Blob{MIMEType: mimeType, Data: data},
		genai.Text(extractionPrompt),
	)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("gemini returned no candidates")
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return parseResult(b.String())
}

var _ core.ExtractionProvider = (*GeminiProvider)(nil)
