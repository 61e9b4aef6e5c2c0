package engine

import (
	"math"
	"os"

	"github.com/soypat/cfdp"
)

// Config configures an [Engine]. Field tags match the cfdpd configuration file.
type Config struct {
	// LocalEID is the entity identifier of the local CFDP entity.
	LocalEID cfdp.EntityID `yaml:"local_eid"`
	// TicksPerSecond is the rate at which [Engine.Cycle] is called.
	// All timers are expressed in seconds and converted to ticks with it.
	TicksPerSecond uint32 `yaml:"ticks_per_second"`
	// RxCRCBytesPerWakeup bounds the amount of file bytes a receiver
	// reads per cycle while validating its checksum.
	RxCRCBytesPerWakeup int `yaml:"rx_crc_bytes_per_wakeup"`
	// FileChunkSize bounds the amount of file data per file data PDU.
	FileChunkSize int `yaml:"file_chunk_size"`
	// TmpDir holds class 2 receive files until they are complete.
	TmpDir   string          `yaml:"tmp_dir"`
	Channels []ChannelConfig `yaml:"channels"`
}

// ChannelConfig configures one engine channel.
type ChannelConfig struct {
	MaxTransactions int `yaml:"max_transactions"`
	MaxHistory      int `yaml:"max_history"`
	// ChunkListsRx and ChunkListsTx are the amount of chunk lists available to class 2
	// receivers and senders. MaxChunksRx and MaxChunksTx size each list.
	ChunkListsRx int `yaml:"chunk_lists_rx"`
	ChunkListsTx int `yaml:"chunk_lists_tx"`
	MaxChunksRx  int `yaml:"max_chunks_rx"`
	MaxChunksTx  int `yaml:"max_chunks_tx"`

	AckTimerSec        uint32 `yaml:"ack_timer_sec"`
	NakTimerSec        uint32 `yaml:"nak_timer_sec"`
	InactivityTimerSec uint32 `yaml:"inactivity_timer_sec"`
	// HoldTimerSec is how long finished transactions linger to absorb duplicate
	// PDUs. Zero frees transactions as soon as they finish.
	HoldTimerSec uint32 `yaml:"hold_timer_sec"`
	AckLimit     uint8  `yaml:"ack_limit"`
	NakLimit     uint8  `yaml:"nak_limit"`

	// NakResponsesPerCycle is the maximum amount of passes over the sending
	// transactions servicing NAK retransmissions each cycle.
	NakResponsesPerCycle int `yaml:"nak_responses_per_cycle"`
	// MaxOutgoingPerCycle is the file data PDU budget per cycle shared by
	// retransmissions and new data.
	MaxOutgoingPerCycle    int `yaml:"max_outgoing_per_cycle"`
	RxMaxMessagesPerWakeup int `yaml:"rx_max_messages_per_wakeup"`
	// EncapsulationSize is the size of the transport header preceding every PDU.
	EncapsulationSize int `yaml:"encapsulation_size"`
	// CRC enables the PDU CRC on outgoing PDUs.
	CRC bool `yaml:"crc"`

	// MoveDir receives source files of successful sends that are not kept.
	// When empty such files are deleted.
	MoveDir                 string    `yaml:"move_dir"`
	MaxPlaybacks            int       `yaml:"max_playbacks"`
	TransactionsPerPlayback int       `yaml:"transactions_per_playback"`
	PollDirs                []PollDir `yaml:"poll_dirs"`
}

// PollDir is a directory periodically played back while its channel is idle.
type PollDir struct {
	Enabled     bool          `yaml:"enabled"`
	SrcDir      string        `yaml:"src_dir"`
	DstDir      string        `yaml:"dst_dir"`
	Dest        cfdp.EntityID `yaml:"dest"`
	Class       cfdp.Class    `yaml:"class"`
	Priority    uint8         `yaml:"priority"`
	Keep        bool          `yaml:"keep"`
	IntervalSec uint32        `yaml:"interval_sec"`
}

// DefaultConfig returns a single channel configuration with conservative values.
func DefaultConfig() Config {
	return Config{
		LocalEID:            1,
		TicksPerSecond:      10,
		RxCRCBytesPerWakeup: 16 * 1024,
		FileChunkSize:       1024,
		TmpDir:              os.TempDir(),
		Channels:            []ChannelConfig{DefaultChannelConfig()},
	}
}

func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		MaxTransactions:         16,
		MaxHistory:              32,
		ChunkListsRx:            16,
		ChunkListsTx:            16,
		MaxChunksRx:             64,
		MaxChunksTx:             32,
		AckTimerSec:             3,
		NakTimerSec:             3,
		InactivityTimerSec:      30,
		HoldTimerSec:            5,
		AckLimit:                4,
		NakLimit:                4,
		NakResponsesPerCycle:    4,
		MaxOutgoingPerCycle:     8,
		RxMaxMessagesPerWakeup:  32,
		MaxPlaybacks:            2,
		TransactionsPerPlayback: 2,
	}
}

// Validate checks the configuration for values the engine cannot run with.
func (cfg *Config) Validate() error {
	if cfg.TicksPerSecond == 0 {
		return errZeroTicks
	} else if len(cfg.Channels) == 0 {
		return errNoChannels
	} else if len(cfg.Channels) > math.MaxUint8 {
		return errTooManyChannels
	} else if cfg.FileChunkSize <= 0 || cfg.RxCRCBytesPerWakeup <= 0 {
		return errChunkSize
	}
	for i := range cfg.Channels {
		if err := cfg.Channels[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (cc *ChannelConfig) Validate() error {
	switch {
	case cc.MaxTransactions <= 0:
		return errZeroTransactions
	case cc.MaxHistory <= 0:
		return errZeroHistory
	case cc.AckLimit == 0 || cc.NakLimit == 0:
		return errZeroLimit
	case cc.AckTimerSec == 0 || cc.NakTimerSec == 0 || cc.InactivityTimerSec == 0:
		return errZeroTimer
	case cc.NakResponsesPerCycle <= 0 || cc.MaxOutgoingPerCycle <= 0 || cc.RxMaxMessagesPerWakeup <= 0:
		return errZeroBudget
	case cc.EncapsulationSize < 0:
		return errBadEncapsulation
	}
	for _, pd := range cc.PollDirs {
		if pd.Enabled && pd.Class != cfdp.Class1 && pd.Class != cfdp.Class2 {
			return errBadClass
		}
	}
	return nil
}

func (cfg *Config) ticks(sec uint32) uint32 {
	return uint32(min(uint64(sec)*uint64(cfg.TicksPerSecond), math.MaxUint32))
}
