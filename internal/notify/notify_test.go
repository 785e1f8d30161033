package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"insecurity-insight-pipeline/internal/config"
	"insecurity-insight-pipeline/internal/model"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestNew_NoBrokersIsNop(t *testing.T) {
	n := New(config.NotifyConfig{Topic: "runs"}, zap.NewNop())
	assert.IsType(t, Nop{}, n)
	assert.NoError(t, n.Notify(context.Background(), &model.RunReport{}))
	assert.NoError(t, n.Close())

	n = New(config.NotifyConfig{Brokers: []string{"localhost:9092"}, Topic: "runs"}, zap.NewNop())
	assert.IsType(t, &Kafka{}, n)
}

func TestKafka_Notify(t *testing.T) {
	w := &fakeWriter{}
	k := &Kafka{writer: w, logger: zap.NewNop()}
	report := &model.RunReport{
		RunID:         "run-1",
		Status:        "completed",
		Environment:   "stage",
		TopicsUpdated: 1,
		EndTime:       time.Date(2024, 3, 6, 5, 1, 0, 0, time.UTC),
		Missing:       []model.MissingResources{{Dataset: "insecurity-insight-irn-dataset", Count: 1}},
		Errors:        []model.ErrorDetail{{Stage: "fetch"}},
	}

	require.NoError(t, k.Notify(context.Background(), report))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "run-1", string(w.msgs[0].Key))

	var event RunEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &event))
	assert.Equal(t, "completed", event.Status)
	assert.Equal(t, 1, event.ErrorCount)
	assert.Equal(t, "2024-03-06T05:01:00Z", event.FinishedAt)
	assert.Equal(t, report.Missing, event.Missing)

	w.err = errors.New("broker down")
	assert.Error(t, k.Notify(context.Background(), report))

	require.NoError(t, k.Close())
	assert.True(t, w.closed)
}
