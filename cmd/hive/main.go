package main

import (
	"os"
	"strings"

	"github.com/go-go-golems/hive/cmd/hive/cmds"
	"github.com/go-go-golems/hive/pkg/settings"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "hive",
	Short: "hive chats with LLM providers that can call tools on MCP servers",
	Long: `hive connects Gemini, Groq or OpenAI to the tools of MCP servers and keeps
the conversation history as a tree. Without a subcommand it starts an
interactive chat, or the web server with --server.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// flags are parsed now, --log-level and co can be honored
		initLogger()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetBool("server") {
			return cmds.RunServe(cmd.Context(), viper.GetViper(), viper.GetString("host"), viper.GetInt("port"))
		}
		return cmds.RunChat(cmd.Context(), viper.GetViper(), cmds.ChatOptions{
			Render: cmds.RenderDefault(),
			Out:    os.Stdout,
			In:     os.Stdin,
		})
	},
}

func initConfig(configPath string) error {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("$HOME/.hive")
		viper.AddConfigPath("/etc/hive")
	}

	err := viper.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		// no config file, env and flags only
	} else if err != nil {
		return err
	}

	settings.RegisterDefaults(viper.GetViper())
	settings.ConfigureEnv(viper.GetViper())

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return err
	}
	if err := viper.BindPFlags(rootCmd.Flags()); err != nil {
		return err
	}

	initLogger()
	log.Debug().Str("config", viper.ConfigFileUsed()).Msg("Loaded configuration")
	return nil
}

func main() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Path to a YAML configuration file")
	pf.String("log-level", "info", "Log level (trace, debug, info, warn, error, fatal)")
	pf.String("log-format", "text", "Log format (text, json)")
	pf.String("log-file", "", "Also write logs to this file, rotated")
	pf.Bool("with-caller", false, "Log the caller of each log line")
	pf.Bool("debug", false, "Enable debug logging")
	pf.String(settings.KeyServers, "", "MCP servers file (default "+settings.DefaultServersFile+")")
	pf.String(settings.KeyDBPath, settings.DefaultDBPath, "Conversation database path, :memory: for a transient one")
	pf.String(settings.KeyStore, settings.StoreSQLite, "Conversation store (sqlite, memory)")
	pf.String(settings.KeyDefaultProvider, settings.DefaultProvider, "Provider selected at startup")
	pf.Int(settings.KeyMaxContextTokens, settings.DefaultMaxContextTokens, "Token budget of the context window")
	pf.Int(settings.KeyMaxToolIterations, settings.DefaultMaxToolIterations, "Maximum tool calls answering one query")

	f := rootCmd.Flags()
	f.Bool("server", false, "Run as web server")
	f.String("host", cmds.DefaultHost, "Host to bind the web server to")
	f.Int("port", cmds.DefaultPort, "Port to bind the web server to")

	// the config file location has to be known before the other flags are bound
	configPath := ""
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			configPath = os.Args[i+1]
		} else if strings.HasPrefix(arg, "--config=") {
			configPath = strings.TrimPrefix(arg, "--config=")
		}
	}
	cobra.CheckErr(initConfig(configPath))

	rootCmd.AddCommand(
		cmds.NewChatCommand(),
		cmds.NewServeCommand(),
		cmds.NewHistoryCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
