package settings

import (
	"encoding/json"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/jsonc"
)

type TransportType string

const (
	TransportStdio TransportType = "stdio"
	TransportSSE   TransportType = "sse"
)

// ServerConfig is one entry of the "mcpServers" map.
//
//	{"command": "npx", "args": ["-y", "@modelcontextprotocol/server-filesystem", "/tmp"]}
//	{"type": "sse", "url": "http://localhost:8080/sse"}
type ServerConfig struct {
	Type    string            `json:"type,omitempty"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
}

func (c ServerConfig) Transport() (TransportType, error) {
	if strings.EqualFold(c.Type, string(TransportSSE)) {
		if c.URL == "" {
			return "", errors.New("sse server needs a url")
		}
		return TransportSSE, nil
	}
	if c.Command != "" {
		return TransportStdio, nil
	}
	return "", errors.New("cannot determine transport, set either command or type sse with url")
}

type serversFile struct {
	MCPServers map[string]ServerConfig `json:"mcpServers"`
}

// ParseServers decodes a servers file. Comments and trailing commas are allowed.
func ParseServers(data []byte) (map[string]ServerConfig, error) {
	var f serversFile
	if err := json.Unmarshal(jsonc.ToJSON(data), &f); err != nil {
		return nil, errors.Wrap(err, "parsing servers file")
	}
	if f.MCPServers == nil {
		f.MCPServers = map[string]ServerConfig{}
	}
	for name, c := range f.MCPServers {
		if _, err := c.Transport(); err != nil {
			return nil, errors.Wrapf(err, "server %s", name)
		}
	}
	return f.MCPServers, nil
}

// LoadServers reads the servers file at path. A missing file yields no servers
// unless required is set.
func LoadServers(path string, required bool) (map[string]ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			log.Warn().Str("path", path).Msg("No servers file found, running without tool servers")
			return map[string]ServerConfig{}, nil
		}
		return nil, errors.Wrapf(err, "reading %s", path)
	}

	servers, err := ParseServers(data)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", path)
	}
	log.Info().Str("path", path).Strs("servers", ServerNames(servers)).Msg("Loaded servers file")
	return servers, nil
}

func ServerNames(servers map[string]ServerConfig) []string {
	ret := make([]string, 0, len(servers))
	for name := range servers {
		ret = append(ret, name)
	}
	sort.Strings(ret)
	return ret
}
