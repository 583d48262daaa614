package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
	envKafkaBrokers    = "STOREFRONT_KAFKA_BROKERS"

	headerReplayedFrom = "x-replayed-from"
)

type config struct {
	brokers      []string
	sourceTopics []string
	targetTopic  string
	eventType    string
	limit        int
	execute      bool
	fromNewest   bool
	idleTimeout  time.Duration
}

type replayMessage struct {
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

type saramaConsumerAdapter struct {
	consumer sarama.Consumer
}

func (a saramaConsumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	pc, err := a.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (a saramaConsumerAdapter) Close() error {
	return a.consumer.Close()
}

type replayProducer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

var newReplayDependencies = func(cfg config) (offsetClient, partitionConsumerSource, replayProducer, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}

	rawConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	consumer := saramaConsumerAdapter{consumer: rawConsumer}

	if !cfg.execute {
		return client, consumer, nil, nil
	}

	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Retry.Max = 5
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Idempotent = true
	producerConfig.Net.MaxOpenRequests = 1
	producerConfig.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(cfg.brokers, producerConfig)
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return client, consumer, producer, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig(flag.CommandLine, os.Args[1:], os.LookupEnv)
	if err != nil {
		fail("%v", err)
	}

	if err := run(context.Background(), cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readConfig(fs *flag.FlagSet, args []string, lookup func(string) (string, bool)) (config, error) {
	var (
		brokersRaw string
		sourcesRaw string
		cfg        config
	)

	fs.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: "+envKafkaBrokers+")")
	fs.StringVar(&sourcesRaw, "source-topics", kafka.TopicDeadLetterQueue+","+outbox.DLQTopic, "DLQ topics to scan, comma-separated")
	fs.StringVar(&cfg.targetTopic, "target-topic", "", "override target topic (default: original topic from the dead letter)")
	fs.StringVar(&cfg.eventType, "event-type", "", "replay only dead letters with this event type")
	fs.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan per topic")
	fs.BoolVar(&cfg.execute, "execute", false, "execute replay; default is dry-run")
	fs.BoolVar(&cfg.fromNewest, "from-newest", false, "scan latest messages first (bounded by limit)")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw, _ = lookup(envKafkaBrokers)
	}

	cfg.brokers = splitList(brokersRaw)
	cfg.sourceTopics = splitList(sourcesRaw)
	cfg.targetTopic = strings.TrimSpace(cfg.targetTopic)
	cfg.eventType = strings.TrimSpace(cfg.eventType)

	switch {
	case len(cfg.brokers) == 0:
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or %s)", envKafkaBrokers)
	case len(cfg.sourceTopics) == 0:
		return config{}, fmt.Errorf("source-topics is required")
	case cfg.limit <= 0:
		return config{}, fmt.Errorf("limit must be > 0")
	case cfg.idleTimeout <= 0:
		return config{}, fmt.Errorf("idle-timeout must be > 0")
	}

	return cfg, nil
}

func splitList(raw string) []string {
	chunks := strings.Split(raw, ",")
	items := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if item := strings.TrimSpace(chunk); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func run(ctx context.Context, cfg config) error {
	log.WithFields(log.Fields{
		"source_topics": cfg.sourceTopics,
		"target_topic":  cfg.targetTopic,
		"event_type":    cfg.eventType,
		"limit":         cfg.limit,
		"execute":       cfg.execute,
	}).Info("starting dlq replay")

	client, consumer, producer, err := newReplayDependencies(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if producer != nil {
			_ = producer.Close()
		}
		if consumer != nil {
			_ = consumer.Close()
		}
		if client != nil {
			_ = client.Close()
		}
	}()

	total, err := runReplay(ctx, cfg, client, consumer, producer)
	if err != nil {
		return err
	}

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	log.WithFields(log.Fields{
		"mode":      mode,
		"processed": total.processed,
		"replayed":  total.replayed,
		"skipped":   total.skipped,
	}).Info("dlq replay finished")
	return nil
}

type replayStats struct {
	processed int
	replayed  int
	skipped   int
}

func (s *replayStats) add(other replayStats) {
	s.processed += other.processed
	s.replayed += other.replayed
	s.skipped += other.skipped
}

func runReplay(ctx context.Context, cfg config, client offsetClient, consumer partitionConsumerSource, producer replayProducer) (replayStats, error) {
	var total replayStats
	if client == nil || consumer == nil {
		return total, fmt.Errorf("kafka client and consumer are required")
	}
	if cfg.execute && producer == nil {
		return total, fmt.Errorf("producer is required in execute mode")
	}

	for _, topic := range cfg.sourceTopics {
		partitions, err := client.Partitions(topic)
		if err != nil {
			return total, fmt.Errorf("get partitions for topic %s: %w", topic, err)
		}
		if len(partitions) == 0 {
			log.WithField("topic", topic).Warn("source topic has no partitions")
			continue
		}
		sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

		var topicStats replayStats
		for _, partition := range partitions {
			remaining := cfg.limit - topicStats.processed
			if remaining <= 0 {
				break
			}
			stats, err := processPartition(ctx, consumer, client, producer, cfg, topic, partition, remaining)
			topicStats.add(stats)
			if err != nil {
				total.add(topicStats)
				return total, err
			}
		}
		total.add(topicStats)
	}

	return total, nil
}

func processPartition(
	ctx context.Context,
	consumer partitionConsumerSource,
	client offsetClient,
	producer replayProducer,
	cfg config,
	topic string,
	partition int32,
	limit int,
) (replayStats, error) {
	var stats replayStats

	oldest, err := client.GetOffset(topic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for %s/%d: %w", topic, partition, err)
	}
	newest, err := client.GetOffset(topic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for %s/%d: %w", topic, partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	startOffset := oldest
	if cfg.fromNewest && newest-int64(limit) > oldest {
		startOffset = newest - int64(limit)
	}

	pc, err := consumer.ConsumePartition(topic, partition, startOffset)
	if err != nil {
		return stats, fmt.Errorf("consume %s/%d: %w", topic, partition, err)
	}
	defer func() { _ = pc.Close() }()

	idleTimer := time.NewTimer(cfg.idleTimeout)
	defer idleTimer.Stop()

	for stats.processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case consumerErr := <-pc.Errors():
			if consumerErr != nil {
				return stats, fmt.Errorf("%s/%d consumer error: %w", topic, partition, consumerErr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil {
				return stats, nil
			}
			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(cfg.idleTimeout)

			if msg.Offset >= newest {
				return stats, nil
			}
			stats.processed++

			replay, ok, err := extractReplayMessage(msg, cfg)
			switch {
			case err != nil:
				stats.skipped++
				log.WithError(err).WithFields(log.Fields{
					"topic":     msg.Topic,
					"partition": msg.Partition,
					"offset":    msg.Offset,
				}).Warn("skip unsupported dlq message")
			case !ok:
				stats.skipped++
			case cfg.execute:
				if err := publishReplay(producer, replay); err != nil {
					return stats, fmt.Errorf("publish replay message: %w", err)
				}
				stats.replayed++
			default:
				log.WithFields(log.Fields{
					"offset":       msg.Offset,
					"target_topic": replay.topic,
					"key":          replay.key,
				}).Info("dlq replay candidate")
				stats.replayed++
			}

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		case <-idleTimer.C:
			return stats, nil
		}
	}

	return stats, nil
}

// extractReplayMessage восстанавливает исходное сообщение из конверта DLQ.
// ok=false — сообщение отфильтровано по event-type.
func extractReplayMessage(msg *sarama.ConsumerMessage, cfg config) (replayMessage, bool, error) {
	letter, err := kafka.ParseDeadLetter(msg.Value)
	if err != nil {
		return replayMessage{}, false, err
	}
	if letter.OriginalValue == "" {
		return replayMessage{}, false, fmt.Errorf("dead letter has no original value")
	}
	if cfg.eventType != "" && letter.EventType != cfg.eventType {
		return replayMessage{}, false, nil
	}

	topic := letter.OriginalTopic
	if cfg.targetTopic != "" {
		topic = cfg.targetTopic
	}

	headers := map[string]string{headerReplayedFrom: msg.Topic}
	if letter.OutboxID != "" {
		headers[kafka.HeaderOutboxID] = letter.OutboxID
	}
	if letter.EventType != "" {
		headers[kafka.HeaderEventType] = letter.EventType
	}

	return replayMessage{
		topic:   topic,
		key:     letter.OriginalKey,
		value:   []byte(letter.OriginalValue),
		headers: headers,
	}, true, nil
}

func publishReplay(producer replayProducer, msg replayMessage) error {
	if producer == nil {
		return fmt.Errorf("producer is nil")
	}

	producerMessage := &sarama.ProducerMessage{
		Topic:     msg.topic,
		Value:     sarama.ByteEncoder(msg.value),
		Timestamp: time.Now().UTC(),
	}
	if msg.key != "" {
		producerMessage.Key = sarama.StringEncoder(msg.key)
	}
	for key, value := range msg.headers {
		producerMessage.Headers = append(producerMessage.Headers, sarama.RecordHeader{
			Key:   []byte(key),
			Value: []byte(value),
		})
	}

	_, _, err := producer.SendMessage(producerMessage)
	return err
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
