package dedup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinovia/labpipe/internal/core"
	"github.com/clinovia/labpipe/internal/models"
)

func TestFingerprintDeterministic(t *testing.T) {
	data := []byte("lab report bytes")
	assert.Equal(t, Fingerprint(data), Fingerprint(data))
	assert.Len(t, Fingerprint(data), 64)
}

func TestFingerprintBitFlip(t *testing.T) {
	a := []byte("lab report bytes")
	b := make([]byte, len(a))
	copy(b, a)
	b[0] ^= 0x01

	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintIgnoresName(t *testing.T) {
	// Identical bytes hash identically no matter how they arrived.
	assert.Equal(t, Fingerprint([]byte{1, 2, 3}), Fingerprint([]byte{1, 2, 3}))
}

type fakeHashDB struct {
	core.DbClient
	known map[string]*models.Document
}

func (f *fakeHashDB) LookupHash(_ context.Context, hash string) (*models.Document, error) {
	return f.known[hash], nil
}

func (f *fakeHashDB) RecordHash(_ context.Context, hash, documentID string) (bool, error) {
	if _, ok := f.known[hash]; ok {
		return false, nil
	}
	f.known[hash] = &models.Document{ID: documentID, ContentHash: hash}
	return true, nil
}

func TestEngineDuplicateDetection(t *testing.T) {
	db := &fakeHashDB{known: map[string]*models.Document{}}
	e := NewEngine(db)
	ctx := context.Background()

	hash := Fingerprint([]byte("report"))

	_, dup, err := e.IsDuplicate(ctx, hash)
	require.NoError(t, err)
	assert.False(t, dup)

	won, err := e.Record(ctx, hash, "doc-1")
	require.NoError(t, err)
	assert.True(t, won)

	doc, dup, err := e.IsDuplicate(ctx, hash)
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, "doc-1", doc.ID)

	// A second claim on the same hash loses.
	won, err = e.Record(ctx, hash, "doc-2")
	require.NoError(t, err)
	assert.False(t, won)
}
