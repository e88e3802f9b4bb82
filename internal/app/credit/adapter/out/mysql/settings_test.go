package mysql

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsSource(t *testing.T) {
	ctx := context.Background()
	client := newSQLiteClient(t)
	src := NewSettingsSource(client)

	_, ok, err := src.ConversionRate(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, src.SetConversionRate(ctx, 1500))
	require.NoError(t, src.SetConversionRate(ctx, 2500))
	rate, ok, err := src.ConversionRate(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(2500), rate)

	assert.Error(t, src.SetConversionRate(ctx, 0))

	require.NoError(t, client.DB().Model(&sqlSetting{}).
		Where(&sqlSetting{Key: ConversionRateKey}).
		Update("value", "abc").Error)
	_, _, err = src.ConversionRate(ctx)
	assert.Error(t, err)
}

func TestInstanceDirectory(t *testing.T) {
	ctx := context.Background()
	dir := NewInstanceDirectory(newSQLiteClient(t))

	require.NoError(t, dir.IncrementUsedAudits(ctx, "t1", 3))
	require.NoError(t, dir.IncrementUsedAudits(ctx, "t1", 2))
	require.NoError(t, dir.IncrementUsedTokens(ctx, "t1", 2500))
	require.NoError(t, dir.IncrementUsedTokens(ctx, "t2", 10))

	audits, tokens, err := dir.Usage(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), audits)
	assert.Equal(t, int64(2500), tokens)

	audits, tokens, err = dir.Usage(ctx, "t2")
	require.NoError(t, err)
	assert.Zero(t, audits)
	assert.Equal(t, int64(10), tokens)
}
