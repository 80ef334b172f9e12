// Package config loads lsnp.toml node configuration
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gabriel-vasile/mimetype"
	logging "github.com/ipfs/go-log/v2"

	"github.com/ZentaChain/lsnp-node/pkg/directory"
	"github.com/ZentaChain/lsnp-node/pkg/filetransfer"
	"github.com/ZentaChain/lsnp-node/pkg/network"
	"github.com/ZentaChain/lsnp-node/pkg/protocol"
	"github.com/ZentaChain/lsnp-node/pkg/storage"
)

// Network modes. Original binds every interface and is used with one peer
// per host; simulate binds one address so several peers can share a host.
const (
	ModeOriginal = "original"
	ModeSimulate = "simulate"
)

// MaxAvatarSize bounds the avatar file so that a PROFILE fits one datagram
const MaxAvatarSize = 20 * 1024

var ErrInvalid = errors.New("invalid configuration")

// Config is the full node configuration
type Config struct {
	Identity IdentityConfig `toml:"identity"`
	Network  NetworkConfig  `toml:"network"`
	Presence PresenceConfig `toml:"presence"`
	Files    FilesConfig    `toml:"files"`
	Storage  StorageConfig  `toml:"storage"`
	API      APIConfig      `toml:"api"`
	Log      LogConfig      `toml:"log"`
}

// IdentityConfig describes the local user
type IdentityConfig struct {
	Username    string `toml:"username"`
	Address     string `toml:"address"`
	DisplayName string `toml:"display_name"`
	Status      string `toml:"status"`
	Avatar      string `toml:"avatar"`
}

// NetworkConfig describes the UDP socket and message checks
type NetworkConfig struct {
	Mode          string        `toml:"mode"`
	ListenAddr    string        `toml:"listen_addr"`
	BroadcastAddr string        `toml:"broadcast_addr"`
	TokenTTL      time.Duration `toml:"token_ttl"`
	StrictSource  bool          `toml:"strict_source"`
	Verbose       bool          `toml:"verbose"`
}

// PresenceConfig schedules PROFILE broadcasts
type PresenceConfig struct {
	Delay    time.Duration `toml:"delay"`
	Interval time.Duration `toml:"interval"`
}

// FilesConfig tunes file transfers
type FilesConfig struct {
	ChunkSize    int           `toml:"chunk_size"`
	ParityChunks int           `toml:"parity_chunks"`
	ChunkDelay   time.Duration `toml:"chunk_delay"`
	DownloadDir  string        `toml:"download_dir"`
}

// StorageConfig locates the history archive
type StorageConfig struct {
	Path string `toml:"path"`
}

// APIConfig controls the local HTTP API
type APIConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	EnableCORS bool   `toml:"enable_cors"`
}

// LogConfig sets the log level of every lsnp subsystem
type LogConfig struct {
	Level string `toml:"level"`
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *Config {
	port := protocol.DefaultPort
	return &Config{
		Identity: IdentityConfig{
			Status: protocol.DefaultStatus,
		},
		Network: NetworkConfig{
			Mode:          ModeOriginal,
			ListenAddr:    fmt.Sprintf("/ip4/0.0.0.0/udp/%d", port),
			BroadcastAddr: fmt.Sprintf("/ip4/255.255.255.255/udp/%d", port),
			TokenTTL:      protocol.DefaultTokenTTL,
		},
		Presence: PresenceConfig{
			Delay:    2 * time.Second,
			Interval: 30 * time.Second,
		},
		Files: FilesConfig{
			ChunkSize:   filetransfer.DefaultChunkSize,
			ChunkDelay:  10 * time.Millisecond,
			DownloadDir: "downloads",
		},
		Storage: StorageConfig{
			Path: storage.MemoryPath,
		},
		API: APIConfig{
			Addr:       "127.0.0.1:8080",
			EnableCORS: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a TOML file on top of the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalid, path, strings.Join(keys, ", "))
	}

	return cfg, nil
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Identity.Username == "" {
		return fmt.Errorf("%w: identity.username is required", ErrInvalid)
	}

	listen, err := network.ParseUDPAddr(c.Network.ListenAddr)
	if err != nil {
		return fmt.Errorf("%w: network.listen_addr: %w", ErrInvalid, err)
	}
	broadcast, err := network.ParseUDPAddr(c.Network.BroadcastAddr)
	if err != nil {
		return fmt.Errorf("%w: network.broadcast_addr: %w", ErrInvalid, err)
	}
	if listen.Port() != broadcast.Port() {
		return fmt.Errorf("%w: listen and broadcast ports differ (%d, %d)", ErrInvalid, listen.Port(), broadcast.Port())
	}

	switch c.Network.Mode {
	case ModeOriginal:
	case ModeSimulate:
		if listen.Addr().IsUnspecified() {
			return fmt.Errorf("%w: simulate mode needs a specific listen address", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown network.mode %q", ErrInvalid, c.Network.Mode)
	}

	if c.Identity.Address != "" {
		if _, err := netip.ParseAddr(c.Identity.Address); err != nil {
			return fmt.Errorf("%w: identity.address: %w", ErrInvalid, err)
		}
	}
	if c.Presence.Interval <= 0 {
		return fmt.Errorf("%w: presence.interval must be positive", ErrInvalid)
	}
	if c.Files.ChunkSize <= 0 || c.Files.ChunkSize > filetransfer.MaxSendChunkSize {
		return fmt.Errorf("%w: files.chunk_size must be between 1 and %d", ErrInvalid, filetransfer.MaxSendChunkSize)
	}
	if c.Files.ParityChunks < 0 {
		return fmt.Errorf("%w: files.parity_chunks cannot be negative", ErrInvalid)
	}
	if _, err := logging.LevelFromString(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %w", ErrInvalid, err)
	}
	return nil
}

// Port returns the UDP port shared by every peer on the segment
func (c *Config) Port() uint16 {
	ap, err := network.ParseUDPAddr(c.Network.ListenAddr)
	if err != nil {
		return protocol.DefaultPort
	}
	return ap.Port()
}

// ResolveAddress returns the address embedded in the local user id: the
// configured one, the listen address in simulate mode, otherwise the
// address of the interface that routes off-host.
func (c *Config) ResolveAddress() (netip.Addr, error) {
	if c.Identity.Address != "" {
		return netip.ParseAddr(c.Identity.Address)
	}

	listen, err := network.ParseUDPAddr(c.Network.ListenAddr)
	if err == nil && !listen.Addr().IsUnspecified() {
		return listen.Addr(), nil
	}

	// no packet is sent; connecting a UDP socket only selects a route
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return netip.IPv4Unspecified(), fmt.Errorf("cannot determine local address: %w", err)
	}
	defer conn.Close()

	ua, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return netip.IPv4Unspecified(), fmt.Errorf("cannot determine local address from %s", conn.LocalAddr())
	}
	return ua.AddrPort().Addr().Unmap(), nil
}

// Avatar reads the configured avatar image and returns its MIME type and
// base64 content. Both are empty when no avatar is configured.
func (c *Config) Avatar() (mimeType, data string, err error) {
	if c.Identity.Avatar == "" {
		return "", "", nil
	}

	raw, err := os.ReadFile(c.Identity.Avatar)
	if err != nil {
		return "", "", fmt.Errorf("cannot read avatar: %w", err)
	}
	if len(raw) > MaxAvatarSize {
		return "", "", fmt.Errorf("%w: avatar is %d bytes, limit is %d", ErrInvalid, len(raw), MaxAvatarSize)
	}

	mt := mimetype.Detect(raw)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", "", fmt.Errorf("%w: avatar is %s, not an image", ErrInvalid, mt.String())
	}
	return mt.String(), base64.StdEncoding.EncodeToString(raw), nil
}

// PeerConfig converts the file configuration into the settings of a peer
func (c *Config) PeerConfig() (network.Config, error) {
	addr, err := c.ResolveAddress()
	if err != nil {
		return network.Config{}, err
	}
	if _, err := directory.NewIdentity(c.Identity.Username, addr); err != nil {
		return network.Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	avatarType, avatarData, err := c.Avatar()
	if err != nil {
		return network.Config{}, err
	}

	pc := network.DefaultConfig()
	pc.Username = c.Identity.Username
	pc.Address = addr
	pc.Port = c.Port()
	pc.DisplayName = c.Identity.DisplayName
	pc.Status = c.Identity.Status
	if avatarData != "" {
		pc.AvatarType = avatarType
		pc.AvatarEncoding = "base64"
		pc.AvatarData = avatarData
	}
	pc.TokenTTL = c.Network.TokenTTL
	pc.PresenceDelay = c.Presence.Delay
	pc.PresenceInterval = c.Presence.Interval
	pc.ChunkDelay = c.Files.ChunkDelay
	pc.StrictSource = c.Network.StrictSource
	pc.Verbose = c.Network.Verbose
	pc.Files = filetransfer.Config{
		ChunkSize:    c.Files.ChunkSize,
		ParityChunks: c.Files.ParityChunks,
		DownloadDir:  c.Files.DownloadDir,
	}
	return pc, nil
}

// ApplyLogLevel sets the level of every logger
func (c *Config) ApplyLogLevel() error {
	level, err := logging.LevelFromString(c.Log.Level)
	if err != nil {
		return err
	}
	logging.SetAllLoggers(level)
	return nil
}
