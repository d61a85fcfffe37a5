package kafkaconsumer

import (
	"strings"
	"time"

	"github.com/mohammed-shakir/wfs-server/internal/core/config"
)

type Config struct {
	Brokers          []string
	Topic            string
	GroupID          string
	SessionTimeout   time.Duration
	Heartbeat        time.Duration
	RebalanceTimeout time.Duration
	RetryBackoff     time.Duration
	// StartNewest skips events published before the group first joined.
	StartNewest bool
	// DedupePartitions bounds how many partitions keep a last applied offset.
	DedupePartitions int
}

// FromConfig builds the consumer settings from the server configuration.
func FromConfig(ic config.InvalidationCfg) Config {
	return Config{
		Brokers: splitCSV(ic.Brokers),
		Topic:   ic.Topic,
		GroupID: ic.GroupID,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	if len(c.Brokers) == 0 {
		c.Brokers = []string{"localhost:9092"}
	}
	if c.Topic == "" {
		c.Topic = "wfs-data-changes"
	}
	if c.GroupID == "" {
		c.GroupID = "wfs-count-invalidator"
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 30 * time.Second
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 3 * time.Second
	}
	if c.RebalanceTimeout <= 0 {
		c.RebalanceTimeout = 30 * time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 2 * time.Second
	}
	if c.DedupePartitions <= 0 {
		c.DedupePartitions = 4096
	}
	return c
}

func splitCSV(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
