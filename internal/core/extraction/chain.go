package extraction

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/clinovia/labpipe/internal/core"
	"github.com/clinovia/labpipe/internal/models"
)

// Chain calls the primary provider and, on any error, retries the same
// input against the secondary. Whichever call succeeds determines the
// provider recorded on the Document.
type Chain struct {
	primary   core.ExtractionProvider
	secondary core.ExtractionProvider
	log       *zap.Logger
}

func NewChain(primary, secondary core.ExtractionProvider, log *zap.Logger) *Chain {
	return &Chain{primary: primary, secondary: secondary, log: log}
}

// Extract runs the fallback chain. A nil-error return with an empty result
// is a valid outcome (the caller discards the document); an error means
// every provider failed.
func (c *Chain) Extract(ctx context.Context, fileURL, mimeType string) (*models.ExtractionResult, models.ExtractionProvider, error) {
	res, err := c.primary.Extract(ctx, fileURL, mimeType)
	if err == nil {
		return res, c.primary.Name(), nil
	}
	primaryErr := err
	c.log.Warn("primary extraction failed, falling back",
		zap.String("file_url", fileURL),
		zap.Error(err),
	)

	if c.secondary == nil {
		return nil, models.ProviderUnknown, fmt.Errorf("primary extraction failed: %w", primaryErr)
	}

	res, err = c.secondary.Extract(ctx, fileURL, mimeType)
	if err == nil {
		return res, c.secondary.Name(), nil
	}
	return nil, models.ProviderUnknown, fmt.Errorf("all providers failed: primary: %v; secondary: %v", primaryErr, err)
}
