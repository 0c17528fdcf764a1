package cmds

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/go-go-golems/hive/pkg/providers/factory"
	"github.com/go-go-golems/hive/pkg/settings"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		store, err := OpenStore(&settings.Settings{Store: settings.StoreMemory})
		require.NoError(t, err)
		defer func() { _ = store.Close() }()
		_, err = store.StartConversation(ctx, "x")
		assert.NoError(t, err)
	})

	t.Run("sqlite file survives reopen", func(t *testing.T) {
		s := &settings.Settings{Store: settings.StoreSQLite, DBPath: filepath.Join(t.TempDir(), "hive.db")}
		store, err := OpenStore(s)
		require.NoError(t, err)
		id, err := store.StartConversation(ctx, "kept")
		require.NoError(t, err)
		require.NoError(t, store.Close())

		store, err = OpenStore(s)
		require.NoError(t, err)
		defer func() { _ = store.Close() }()
		c, err := store.GetConversation(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "kept", c.Title)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := OpenStore(&settings.Settings{Store: "postgres"})
		assert.Error(t, err)
	})
}

func TestNewClientWithoutProviders(t *testing.T) {
	v := viper.New()
	settings.RegisterDefaults(v)
	v.Set(settings.KeyStore, settings.StoreMemory)

	_, err := NewClient(context.Background(), v)
	assert.ErrorIs(t, err, factory.ErrNoProviders)
}

func TestFormatAnswer(t *testing.T) {
	assert.Equal(t, "**plain**", formatAnswer("**plain**", false))

	rendered := formatAnswer("**bold**", true)
	assert.Contains(t, rendered, "bold")
	assert.NotContains(t, rendered, "**")
}
