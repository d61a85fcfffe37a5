// Command wfs-smoke checks a running deployment end to end: Redis, a hits
// request on the WFS endpoint and one data change event on Kafka.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/redis/go-redis/v9"

	"github.com/mohammed-shakir/wfs-server/internal/invalidation"
)

func getenv(key, def string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return def
}

func testRedis(ctx context.Context, addr string) error {
	fmt.Println("Redis test")
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 2 * time.Second,
	})
	defer func() { _ = client.Close() }()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	fmt.Println("redis PING ok")
	return nil
}

// hits runs a resultType=hits GetFeature and returns numberMatched.
func hits(ctx context.Context, baseURL, typeName string) (int, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/wfs")
	if err != nil {
		return 0, fmt.Errorf("bad WFS URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return 0, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	u.RawQuery = url.Values{
		"SERVICE":    {"WFS"},
		"VERSION":    {"2.0.0"},
		"REQUEST":    {"GetFeature"},
		"TYPENAMES":  {typeName},
		"RESULTTYPE": {"hits"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http get WFS: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		// exception reports are short, read only the start anyway
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("WFS status %d: %s", resp.StatusCode, string(b))
	}
	var fc struct {
		NumberMatched int `json:"numberMatched"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		return 0, fmt.Errorf("decode WFS response: %w", err)
	}
	return fc.NumberMatched, nil
}

func publishChange(brokers []string, topic, model string) error {
	fmt.Println("Kafka test")

	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Version = sarama.V3_6_0_0
	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return fmt.Errorf("producer create: %w", err)
	}
	defer func() { _ = prod.Close() }()

	ev := invalidation.Event{
		Version: 1,
		Op:      "update",
		Model:   model,
		TS:      time.Now().UTC(),
		Source:  "wfs-smoke",
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("event: %w", err)
	}
	msg, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	partition, offset, err := prod.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(model),
		Value: sarama.ByteEncoder(msg),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	fmt.Printf("produced change event for %s (partition %d, offset %d)\n", model, partition, offset)
	return nil
}

func main() {
	typeName := flag.String("type", "", "feature type to count, e.g. app:restaurant")
	model := flag.String("model", "", "model named in the change event; skipped when empty")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	redisAddr := getenv("REDIS_ADDR", "localhost:6379")
	server := getenv("WFS_URL", "http://localhost:8090")
	brokers := strings.Split(getenv("KAFKA_BROKERS", "localhost:9092"), ",")
	topic := getenv("KAFKA_TOPIC", "wfs-data-changes")

	if err := testRedis(ctx, redisAddr); err != nil {
		fmt.Println("Redis error:", err)
		os.Exit(1)
	}
	if *typeName != "" {
		fmt.Println("WFS test")
		n, err := hits(ctx, server, *typeName)
		if err != nil {
			fmt.Println("WFS error:", err)
			os.Exit(1)
		}
		fmt.Printf("%s numberMatched=%d\n", *typeName, n)
	}
	if *model != "" {
		if err := publishChange(brokers, topic, *model); err != nil {
			fmt.Println("Kafka error:", err)
			os.Exit(1)
		}
	}
	fmt.Println("All checks completed")
}
