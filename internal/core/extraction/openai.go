package extraction

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/clinovia/labpipe/internal/core"
	objectclient "github.com/clinovia/labpipe/internal/core/object-client"
	"github.com/clinovia/labpipe/internal/models"
)

// OpenAIProvider is the secondary extraction backend, speaking the
// chat/completions wire format so any OpenAI-compatible gateway works.
type OpenAIProvider struct {
	apiKey  string
	baseURL string
	model   string
	httpc   *http.Client
	obj     core.ObjectClient
}

func NewOpenAIProvider(apiKey, baseURL, model string, obj core.ObjectClient) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key not set")
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIProvider{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		httpc:   &http.Client{Timeout: 90 * time.Second},
		obj:     obj,
	}, nil
}

func (o *OpenAIProvider) Name() models.ExtractionProvider {
	return models.ProviderSecondary
}

func (o *OpenAIProvider) Extract(ctx context.Context, fileURL, mimeType string) (*models.ExtractionResult, error) {
	bucket, key := objectclient.ParseObjectURL(fileURL)
	data, err := o.obj.GetFile(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("fetch report bytes: %w", err)
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
	body := map[string]any{
		"model":       o.model,
		"temperature": 0,
		"messages": []map[string]any{
			{"role": "system", "content": extractionPrompt},
			{"role": "user", "content": []map[string]any{
				{"type": "image_url", "image_url": map[string]any{"url": dataURL}},
			}},
		},
	}

	raw, err := o.post(ctx, o.baseURL+"/chat/completions", body)
	if err != nil {
		return nil, err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return nil, fmt.Errorf("decode openai response: %w", err)
	}
	if len(cc.Choices) == 0 {
		return nil, fmt.Errorf("no choices in openai response")
	}
	return parseResult(cc.Choices[0].Message.Content)
}

func (o *OpenAIProvider) post(ctx context.Context, url string, body any) ([]byte, error) {
	bs, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bs))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return raw, fmt.Errorf("non-2xx status: %d", resp.StatusCode)
	}
	return raw, nil
}

var _ core.ExtractionProvider = (*OpenAIProvider)(nil)
