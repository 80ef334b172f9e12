package config

import (
	"encoding/base64"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/lsnp-node/pkg/filetransfer"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lsnp.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, uint16(50999), cfg.Port())
	assert.ErrorIs(t, cfg.Validate(), ErrInvalid, "username is required")
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
[identity]
username = "alice"
address = "192.168.1.10"
display_name = "Alice"
status = "Exploring LSNP!"

[network]
mode = "simulate"
listen_addr = "/ip4/127.0.0.2/udp/51000"
broadcast_addr = "/ip4/127.255.255.255/udp/51000"
token_ttl = "10m"
strict_source = true

[presence]
interval = "5s"

[files]
chunk_size = 512
parity_chunks = 4

[log]
level = "debug"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "alice", cfg.Identity.Username)
	assert.Equal(t, ModeSimulate, cfg.Network.Mode)
	assert.Equal(t, 10*time.Minute, cfg.Network.TokenTTL)
	assert.Equal(t, 5*time.Second, cfg.Presence.Interval)
	// untouched keys keep their defaults
	assert.Equal(t, 2*time.Second, cfg.Presence.Delay)
	assert.Equal(t, "downloads", cfg.Files.DownloadDir)

	pc, err := cfg.PeerConfig()
	require.NoError(t, err)
	assert.Equal(t, "alice", pc.Username)
	assert.Equal(t, netip.MustParseAddr("192.168.1.10"), pc.Address)
	assert.Equal(t, uint16(51000), pc.Port)
	assert.Equal(t, "Alice", pc.DisplayName)
	assert.True(t, pc.StrictSource)
	assert.Equal(t, 512, pc.Files.ChunkSize)
	assert.Equal(t, 4, pc.Files.ParityChunks)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
		assert.Error(t, err)
	})

	t.Run("syntax", func(t *testing.T) {
		_, err := Load(writeConfig(t, "[identity\nusername = 1"))
		assert.Error(t, err)
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := Load(writeConfig(t, "[identity]\nusername = \"alice\"\nnickname = \"al\"\n"))
		assert.ErrorIs(t, err, ErrInvalid)
		assert.Contains(t, err.Error(), "identity.nickname")
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Identity.Username = "alice"
		return cfg
	}
	require.NoError(t, valid().Validate())

	largest := valid()
	largest.Files.ChunkSize = filetransfer.MaxSendChunkSize
	require.NoError(t, largest.Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad listen", func(c *Config) { c.Network.ListenAddr = "0.0.0.0:50999" }},
		{"tcp listen", func(c *Config) { c.Network.ListenAddr = "/ip4/0.0.0.0/tcp/50999" }},
		{"bad broadcast", func(c *Config) { c.Network.BroadcastAddr = "everyone" }},
		{"port mismatch", func(c *Config) { c.Network.BroadcastAddr = "/ip4/255.255.255.255/udp/1" }},
		{"unknown mode", func(c *Config) { c.Network.Mode = "mesh" }},
		{"simulate on any", func(c *Config) { c.Network.Mode = ModeSimulate }},
		{"bad address", func(c *Config) { c.Identity.Address = "alice.local" }},
		{"no interval", func(c *Config) { c.Presence.Interval = 0 }},
		{"no chunk size", func(c *Config) { c.Files.ChunkSize = 0 }},
		{"chunk size past datagram", func(c *Config) { c.Files.ChunkSize = filetransfer.MaxSendChunkSize + 1 }},
		{"huge chunk size", func(c *Config) { c.Files.ChunkSize = 1 << 40 }},
		{"negative parity", func(c *Config) { c.Files.ParityChunks = -1 }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestResolveAddress(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Identity.Address = "10.1.2.3"
	addr, err := cfg.ResolveAddress()
	require.NoError(t, err)
	assert.Equal(t, "10.1.2.3", addr.String())

	cfg.Identity.Address = ""
	cfg.Network.ListenAddr = "/ip4/127.0.0.5/udp/50999"
	addr, err = cfg.ResolveAddress()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.5", addr.String())
}

func TestAvatar(t *testing.T) {
	// smallest valid PNG header is enough for detection
	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}
	dir := t.TempDir()

	cfg := DefaultConfig()
	mt, data, err := cfg.Avatar()
	require.NoError(t, err)
	assert.Empty(t, mt)
	assert.Empty(t, data)

	cfg.Identity.Avatar = filepath.Join(dir, "me.png")
	require.NoError(t, os.WriteFile(cfg.Identity.Avatar, png, 0o600))
	mt, data, err = cfg.Avatar()
	require.NoError(t, err)
	assert.Equal(t, "image/png", mt)
	assert.Equal(t, base64.StdEncoding.EncodeToString(png), data)

	cfg.Identity.Avatar = filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(cfg.Identity.Avatar, []byte("just text"), 0o600))
	_, _, err = cfg.Avatar()
	assert.ErrorIs(t, err, ErrInvalid)

	cfg.Identity.Avatar = filepath.Join(dir, "huge.png")
	require.NoError(t, os.WriteFile(cfg.Identity.Avatar, append(png, make([]byte, MaxAvatarSize)...), 0o600))
	_, _, err = cfg.Avatar()
	assert.ErrorIs(t, err, ErrInvalid)
}
