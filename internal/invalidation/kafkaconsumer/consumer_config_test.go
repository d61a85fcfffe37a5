package kafkaconsumer

import (
	"reflect"
	"testing"
	"time"

	"github.com/mohammed-shakir/wfs-server/internal/core/config"
)

func TestFromConfig(t *testing.T) {
	c := FromConfig(config.InvalidationCfg{
		Enabled: true,
		Brokers: " k1:9092, ,k2:9092 ",
		Topic:   "edits",
	})
	if !reflect.DeepEqual(c.Brokers, []string{"k1:9092", "k2:9092"}) {
		t.Fatalf("brokers=%v", c.Brokers)
	}
	if c.Topic != "edits" {
		t.Fatalf("topic=%q", c.Topic)
	}
	if c.GroupID != "wfs-count-invalidator" {
		t.Fatalf("group=%q", c.GroupID)
	}
	if c.RetryBackoff != 2*time.Second || c.SessionTimeout != 30*time.Second {
		t.Fatalf("timeouts not defaulted: %+v", c)
	}
	if c.StartNewest {
		t.Fatalf("consumer should start from the oldest offset by default")
	}
}

func TestWithDefaults_KeepsExplicitValues(t *testing.T) {
	c := Config{Brokers: []string{"b"}, RetryBackoff: time.Second, DedupePartitions: 8}.withDefaults()
	if c.RetryBackoff != time.Second || c.DedupePartitions != 8 || c.Brokers[0] != "b" {
		t.Fatalf("explicit values overwritten: %+v", c)
	}
	if c.Topic != "wfs-data-changes" {
		t.Fatalf("topic=%q", c.Topic)
	}
}
