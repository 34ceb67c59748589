// Package transportconfig holds the QUIC transport parameter settings a
// session negotiates at handshake time: initial flow-control and stream
// limits, idle timeout, and connection-ID sizing. It mirrors the
// teacher's small config-struct pattern (see caddy's CustomLog/Logging
// structs): a value type with sane defaults, a validating Set, and a
// method that serializes the struct into the shape the transport layer
// actually wants (here, Settings rather than Caddy's JSON
// module config).
package transportconfig

import (
	"crypto/rand"
	"fmt"
)

// Protocol-mandated bounds (RFC 9000 §17.2, §18.2).
const (
	MinCIDLen = 0
	MaxCIDLen = 20

	// MaxPacketSizeCeiling is the largest UDP payload size the transport
	// will ever request from the network; actual packets are bounded by
	// path MTU discovery, out of scope here.
	MaxPacketSizeCeiling = 65527
)

// PreferredAddress carries a server's advertised preferred migration
// target, used only when Config.PreferredAddress is set.
type PreferredAddress struct {
	IPv4 string `yaml:"ipv4,omitempty"`
	IPv4Port uint16 `yaml:"ipv4_port,omitempty"`
	IPv6 string `yaml:"ipv6,omitempty"`
	IPv6Port uint16 `yaml:"ipv6_port,omitempty"`
}

// Config is a value object holding the transport parameters a session
// will offer its peer and the connection-ID sizing it will use locally.
type Config struct {
	MaxStreamDataBidiLocal  uint64 `yaml:"max_stream_data_bidi_local"`
	MaxStreamDataBidiRemote uint64 `yaml:"max_stream_data_bidi_remote"`
	MaxStreamDataUni        uint64 `yaml:"max_stream_data_uni"`
	MaxData                 uint64 `yaml:"max_data"`
	MaxStreamsBidi          uint64 `yaml:"max_streams_bidi"`
	MaxStreamsUni           uint64 `yaml:"max_streams_uni"`
	IdleTimeoutMS           uint64 `yaml:"idle_timeout_ms"`
	MaxPacketSize           uint64 `yaml:"max_packet_size"`
	MaxAckDelayMS           uint64 `yaml:"max_ack_delay_ms"`

	// PreferredAddress is only meaningful for a server-role session.
	PreferredAddress *PreferredAddress `yaml:"preferred_address,omitempty"`

	MinCIDLen int `yaml:"min_cid_len"`
	MaxCIDLen int `yaml:"max_cid_len"`
}

// Defaults match spec: the initial flow-control/stream limits a
// conservative QUIC stack offers before any application tuning.
func Defaults() Config {
	var c Config
	c.ResetToDefaults()
	return c
}

// ResetToDefaults restores every field to its documented default,
// discarding PreferredAddress.
func (c *Config) ResetToDefaults() {
	c.MaxStreamDataBidiLocal = 262144
	c.MaxStreamDataBidiRemote = 262144
	c.MaxStreamDataUni = 262144
	c.MaxData = 1048576
	c.MaxStreamsBidi = 100
	c.MaxStreamsUni = 3
	c.IdleTimeoutMS = 10000
	c.MaxPacketSize = MaxPacketSizeCeiling
	c.MaxAckDelayMS = 25
	c.PreferredAddress = nil
	c.MinCIDLen = 8
	c.MaxCIDLen = MaxCIDLen
}

// Set ingests caller-provided values from source, validating ranges, and
// optionally attaches a server preferred address.
func (c *Config) Set(source Config, preferred *PreferredAddress) error {
	if source.MaxCIDLen < MinCIDLen || source.MaxCIDLen > MaxCIDLen {
		return fmt.Errorf("transportconfig: max_cid_len %d out of range [%d,%d]", source.MaxCIDLen, MinCIDLen, MaxCIDLen)
	}
	if source.MinCIDLen < MinCIDLen || source.MinCIDLen > source.MaxCIDLen {
		return fmt.Errorf("transportconfig: min_cid_len %d out of range [%d,%d]", source.MinCIDLen, MinCIDLen, source.MaxCIDLen)
	}
	if source.MaxPacketSize == 0 || source.MaxPacketSize > MaxPacketSizeCeiling {
		return fmt.Errorf("transportconfig: max_packet_size %d out of range (0,%d]", source.MaxPacketSize, MaxPacketSizeCeiling)
	}
	if source.MaxStreamsBidi == 0 && source.MaxStreamsUni == 0 {
		return fmt.Errorf("transportconfig: at least one stream type must be allowed")
	}
	*c = source
	c.PreferredAddress = preferred
	return nil
}

// Settings is the shape the underlying transport's initialization
// structure wants: limits plus, optionally, a stateless reset token
// bound to a specific source connection ID.
type Settings struct {
	Config
	SCID                []byte
	StatelessResetToken [16]byte
	HasResetToken       bool
}

// ToSettings fills out and returns a Settings value for scid, minting a
// stateless-reset token when requested.
func (c *Config) ToSettings(scid []byte, withStatelessResetToken bool) (Settings, error) {
	s := Settings{Config: *c, SCID: append([]byte(nil), scid...)}
	if withStatelessResetToken {
		if _, err := rand.Read(s.StatelessResetToken[:]); err != nil {
			return Settings{}, fmt.Errorf("transportconfig: minting stateless reset token: %w", err)
		}
		s.HasResetToken = true
	}
	return s, nil
}
