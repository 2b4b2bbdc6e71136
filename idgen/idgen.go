// Package idgen 提供了分布式唯一 ID 生成器，用作文件记录主键.
// 支持 Snowflake 和 Sonyflake 两种算法，可通过配置选择.
package idgen

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sony/sonyflake"

	"github.com/wyfcoding/filebroker/config"
)

var (
	// ErrUnsupportedType 不支持的 ID 生成器类型.
	ErrUnsupportedType = errors.New("unsupported id generator type")
	// ErrInvalidMachineID 错误的机器 ID.
	ErrInvalidMachineID = errors.New("machine_id out of range")
)

const maxRetries = 3

// Generator 定义 ID 生成器接口，返回值恒为正数.
type Generator interface {
	Generate() int64
}

// SnowflakeGenerator 使用雪花算法实现 Generator，支持 1024 个节点.
type SnowflakeGenerator struct {
	node *snowflake.Node
}

func parseStart(s string) (time.Time, error) {
	if s == "" {
		return time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse start time: %w", err)
	}
	return t, nil
}

// NewSnowflakeGenerator 创建一个新的 SnowflakeGenerator.
// snowflake.Epoch 为包级变量，进程内应只创建一个节点。
func NewSnowflakeGenerator(cfg config.SnowflakeConfig) (*SnowflakeGenerator, error) {
	if cfg.StartTime != "" {
		st, err := parseStart(cfg.StartTime)
		if err != nil {
			return nil, err
		}
		snowflake.Epoch = st.UnixMilli()
	}

	node, err := snowflake.NewNode(cfg.MachineID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %w", err)
	}

	slog.Info("snowflake generator initialized", "machine_id", cfg.MachineID, "epoch", snowflake.Epoch)
	return &SnowflakeGenerator{node: node}, nil
}

// Generate 生成一个新的 ID.
func (g *SnowflakeGenerator) Generate() int64 {
	return g.node.Generate().Int64()
}

// SonyflakeGenerator 使用 Sonyflake 算法实现 Generator，支持 65536 个节点.
type SonyflakeGenerator struct {
	sf *sonyflake.Sonyflake
}

// NewSonyflakeGenerator 创建一个新的 SonyflakeGenerator.
func NewSonyflakeGenerator(cfg config.SnowflakeConfig) (*SonyflakeGenerator, error) {
	startTime, err := parseStart(cfg.StartTime)
	if err != nil {
		return nil, err
	}
	if cfg.MachineID < 0 || cfg.MachineID > 0xFFFF {
		return nil, ErrInvalidMachineID
	}
	machineID := uint16(cfg.MachineID) //nolint:gosec // 已校验范围。

	sf, err := sonyflake.New(sonyflake.Settings{
		StartTime: startTime,
		MachineID: func() (uint16, error) { return machineID, nil },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sonyflake instance: %w", err)
	}

	slog.Info("sonyflake generator initialized", "machine_id", cfg.MachineID, "start_time", startTime)
	return &SonyflakeGenerator{sf: sf}, nil
}

// Generate 生成一个新的 ID，连续失败时返回 0.
func (g *SonyflakeGenerator) Generate() int64 {
	for i := range maxRetries {
		id, err := g.sf.NextID()
		if err == nil {
			return int64(id & 0x7FFFFFFFFFFFFFFF) //nolint:gosec // 最高位已清零。
		}
		slog.Warn("sonyflake generator failed, retrying", "retry", i+1, "error", err)
		time.Sleep(10 * time.Millisecond)
	}
	slog.Error("sonyflake generator failed after multiple retries")
	return 0
}

// NewGenerator 根据配置创建对应类型的 ID 生成器.
func NewGenerator(cfg config.SnowflakeConfig) (Generator, error) {
	switch cfg.Type {
	case "sonyflake":
		return NewSonyflakeGenerator(cfg)
	case "snowflake", "":
		return NewSnowflakeGenerator(cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, cfg.Type)
	}
}
