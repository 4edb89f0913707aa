package extraction

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clinovia/labpipe/internal/models"
)

type fakeProvider struct {
	name models.ExtractionProvider
	res  *models.ExtractionResult
	err  error

	calls int
}

func (f *fakeProvider) Name() models.ExtractionProvider { return f.name }

func (f *fakeProvider) Extract(context.Context, string, string) (*models.ExtractionResult, error) {
	f.calls++
	return f.res, f.err
}

func someResult() *models.ExtractionResult {
	return &models.ExtractionResult{
		PatientName: "Jane Roe",
		Tests:       []models.TestResult{{Name: "Hemoglobin", Value: "13.1", Unit: "g/dL"}},
	}
}

func TestChainPrimarySucceeds(t *testing.T) {
	primary := &fakeProvider{name: models.ProviderPrimary, res: someResult()}
	secondary := &fakeProvider{name: models.ProviderSecondary}
	c := NewChain(primary, secondary, zap.NewNop())

	res, provider, err := c.Extract(context.Background(), "https://b.s3.r.amazonaws.com/k", "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, models.ProviderPrimary, provider)
	assert.True(t, res.HasTestData())
	assert.Equal(t, 0, secondary.calls)
}

func TestChainFallsBackToSecondary(t *testing.T) {
	primary := &fakeProvider{name: models.ProviderPrimary, err: errors.New("rate limited")}
	secondary := &fakeProvider{name: models.ProviderSecondary, res: someResult()}
	c := NewChain(primary, secondary, zap.NewNop())

	res, provider, err := c.Extract(context.Background(), "https://b.s3.r.amazonaws.com/k", "image/png")
	require.NoError(t, err)
	assert.Equal(t, models.ProviderSecondary, provider)
	assert.True(t, res.HasTestData())
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, secondary.calls)
}

func TestChainBothFail(t *testing.T) {
	primary := &fakeProvider{name: models.ProviderPrimary, err: errors.New("network down")}
	secondary := &fakeProvider{name: models.ProviderSecondary, err: errors.New("quota exhausted")}
	c := NewChain(primary, secondary, zap.NewNop())

	_, provider, err := c.Extract(context.Background(), "u", "m")
	require.Error(t, err)
	assert.Equal(t, models.ProviderUnknown, provider)
	assert.Contains(t, err.Error(), "network down")
	assert.Contains(t, err.Error(), "quota exhausted")
}

func TestChainNoSecondaryConfigured(t *testing.T) {
	primary := &fakeProvider{name: models.ProviderPrimary, err: errors.New("boom")}
	c := NewChain(primary, nil, zap.NewNop())

	_, _, err := c.Extract(context.Background(), "u", "m")
	assert.Error(t, err)
}

func TestParseResultPlain(t *testing.T) {
	res, err := parseResult(`{"patient_name":"Jane Roe","tests":[{"name":"TSH","value":"2.1"}]}`)
	require.NoError(t, err)
	assert.Equal(t, "Jane Roe", res.PatientName)
	require.Len(t, res.Tests, 1)
	assert.Equal(t, "TSH", res.Tests[0].Name)
}

func TestParseResultCodeFenced(t *testing.T) {
	raw := "```json\n{\"patient_name\":\"Jane Roe\",\"tests\":[]}\n```"
	res, err := parseResult(raw)
	require.NoError(t, err)
	assert.Equal(t, "Jane Roe", res.PatientName)
	assert.False(t, res.HasTestData())
}

func TestParseResultLeadingProse(t *testing.T) {
	raw := `Here is the extracted data: {"tests":[{"name":"Glucose","value":"98"}]}`
	res, err := parseResult(raw)
	require.NoError(t, err)
	assert.True(t, res.HasTestData())
}

func TestParseResultGarbage(t *testing.T) {
	_, err := parseResult("sorry, I cannot read this image")
	assert.Error(t, err)
}
