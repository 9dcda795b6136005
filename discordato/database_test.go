package discordato

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestCreateDBRejectsUnknownType(t *testing.T) {
	t.Parallel()
	_, err := CreateDB(context.Background(), "oracle", "dsn")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database type")
}

func TestCreateDBMigratesModels(t *testing.T) {
	t.Parallel()
	db := gormDB(t)

	var config RuntimeConfig
	require.ErrorIs(
		t,
		db.Last(&config).Error,
		gorm.ErrRecordNotFound,
	)

	seeded := DefaultRuntimeConfig()
	seeded.ModWhitelistRoleIDs = "role-1"
	require.NoError(t, db.Create(&seeded).Error)

	var loaded RuntimeConfig
	require.NoError(t, db.Last(&loaded).Error)
	assert.Equal(t, "role-1", loaded.ModWhitelistRoleIDs)
	assert.True(t, loaded.DiscordGatewayEnabled)
	assert.NotZero(t, loaded.CreatedAt)

	// event tables migrated too
	for _, model := range []any{
		&InteractionLog{},
		&KeywordFilterEvent{},
		&PingEvent{},
		&ForwardedMessage{},
		&ProductIDRecord{},
	} {
		var count int64
		require.NoError(t, db.Model(model).Count(&count).Error)
		assert.Zero(t, count)
	}
}

func TestDatabaseWrites(t *testing.T) {
	t.Parallel()
	db := gormDB(t)
	writeDB := NewDatabase(db, testLogger(), false)
	ctx := context.Background()

	event := PingEvent{
		MessageID: "msg-1",
		ChannelID: "chan-1",
		UserID:    "user-1",
		PingType:  pingTypeEveryone,
	}
	rows, err := writeDB.Create(ctx, &event)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)
	assert.NotZero(t, event.ID)

	rows, err = writeDB.Updates(
		ctx, &event, map[string]any{"username": "hypeman"},
	)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	var loaded PingEvent
	require.NoError(t, db.First(&loaded, event.ID).Error)
	assert.Equal(t, "hypeman", loaded.Username)

	rows, err = writeDB.Update(ctx, &loaded, "ping_type", pingTypeHere)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	loaded.ChannelID = "chan-2"
	rows, err = writeDB.Save(ctx, &loaded)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	rows, err = writeDB.Delete(&PingEvent{}, event.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	var remaining []PingEvent
	require.NoError(t, db.Find(&remaining).Error)
	assert.Empty(t, remaining)
}

func TestDatabaseTransactionRollsBack(t *testing.T) {
	t.Parallel()
	db := gormDB(t)
	writeDB := NewDatabase(db, testLogger(), false)
	ctx := context.Background()

	err := writeDB.Transaction(ctx, func(tx *gorm.DB) error {
		if createErr := tx.Create(
			&PingEvent{MessageID: "msg-1", PingType: pingTypeRole},
		).Error; createErr != nil {
			return createErr
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	var events []PingEvent
	require.NoError(t, db.Find(&events).Error)
	assert.Empty(t, events)
}
