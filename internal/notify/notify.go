package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"insecurity-insight-pipeline/internal/config"
	"insecurity-insight-pipeline/internal/model"
)

// Notifier announces finished runs
type Notifier interface {
	Notify(ctx context.Context, report *model.RunReport) error
	Close() error
}

// RunEvent is the message published when a run finishes
type RunEvent struct {
	RunID         string                   `json:"run_id"`
	Status        string                   `json:"status"`
	Environment   string                   `json:"environment"`
	DryRun        bool                     `json:"dry_run"`
	TopicsUpdated int                      `json:"topics_updated"`
	Updates       []model.TopicUpdate      `json:"updates"`
	Published     []string                 `json:"published"`
	Missing       []model.MissingResources `json:"missing"`
	ErrorCount    int                      `json:"error_count"`
	FinishedAt    string                   `json:"finished_at"`
}

// NewRunEvent summarizes a report
func NewRunEvent(report *model.RunReport) RunEvent {
	return RunEvent{
		RunID:         report.RunID,
		Status:        report.Status,
		Environment:   report.Environment,
		DryRun:        report.DryRun,
		TopicsUpdated: report.TopicsUpdated,
		Updates:       report.Updates,
		Published:     report.Published,
		Missing:       report.Missing,
		ErrorCount:    len(report.Errors),
		FinishedAt:    report.EndTime.UTC().Format(time.RFC3339),
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes run events to a topic, keyed by run id
type Kafka struct {
	writer messageWriter
	logger *zap.Logger
}

// New returns a Kafka notifier, or a no-op one when no brokers are configured
func New(cfg config.NotifyConfig, logger *zap.Logger) Notifier {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return Nop{}
	}
	return &Kafka{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			RequiredAcks: kafka.RequireOne,
			Balancer:     &kafka.Hash{},
		},
		logger: logger,
	}
}

// Notify publishes one RunEvent
func (k *Kafka) Notify(ctx context.Context, report *model.RunReport) error {
	b, err := json.Marshal(NewRunEvent(report))
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(report.RunID), Value: b, Time: time.Now()}); err != nil {
		return err
	}
	k.logger.Info("run event published", zap.String("run_id", report.RunID))
	return nil
}

// Close flushes and closes the writer
func (k *Kafka) Close() error {
	return k.writer.Close()
}

// Nop discards events
type Nop struct{}

func (Nop) Notify(context.Context, *model.RunReport) error { return nil }
func (Nop) Close() error                                    { return nil }
