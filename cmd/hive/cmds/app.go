package cmds

import (
	"context"

	"github.com/go-go-golems/hive/pkg/client"
	"github.com/go-go-golems/hive/pkg/conversation"
	"github.com/go-go-golems/hive/pkg/providers/factory"
	"github.com/go-go-golems/hive/pkg/settings"
	"github.com/go-go-golems/hive/pkg/tools"
	"github.com/go-go-golems/hive/pkg/tools/mcp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// OpenStore opens the conversation store the settings select.
func OpenStore(s *settings.Settings) (conversation.Store, error) {
	switch s.Store {
	case settings.StoreMemory:
		return conversation.NewInMemoryStore(), nil
	case settings.StoreSQLite:
		store, err := conversation.NewSQLiteStore(conversation.SQLiteDSNForPath(s.DBPath))
		if err != nil {
			return nil, errors.Wrapf(err, "could not open conversation database %s", s.DBPath)
		}
		return store, nil
	default:
		return nil, errors.Errorf("unknown conversation store %q", s.Store)
	}
}

// NewClient wires the store, the providers and the tool servers together.
// Tool servers that fail to connect are skipped, a client without tools is
// still usable.
func NewClient(ctx context.Context, v *viper.Viper) (*client.Client, error) {
	s, err := settings.FromViper(v)
	if err != nil {
		return nil, err
	}

	registry, err := factory.NewRegistry(ctx, s)
	if err != nil {
		return nil, err
	}

	servers, err := settings.LoadServers(s.ServersFile, s.ServersFileExplicit)
	if err != nil {
		_ = registry.Close()
		return nil, err
	}

	store, err := OpenStore(s)
	if err != nil {
		_ = registry.Close()
		return nil, err
	}

	c := client.New(store, registry,
		client.WithServerManager(mcp.NewManager(tools.NewRegistry())),
		client.WithMaxIterations(s.MaxToolIterations),
		client.WithContextBuilder(conversation.NewContextBuilder(store, conversation.WithMaxTokens(s.MaxContextTokens))),
	)

	if err := c.ConnectServers(ctx, servers); err != nil {
		_ = c.Close()
		return nil, err
	}

	_, current := registry.Current()
	log.Info().
		Strs("providers", registry.Names()).
		Str("current", current).
		Strs("tools", c.Tools().Names()).
		Msg("Client ready")

	return c, nil
}
