package pipeline

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"insecurity-insight-pipeline/internal/model"
	"insecurity-insight-pipeline/pkg/utils"
)

// ErrNoDateInfo means a response carried no usable dates
var ErrNoDateInfo = errors.New("no date information available")

// Reasons recorded on a TopicUpdate
const (
	ReasonNewer       = "newer"
	ReasonBackfill    = "backfill"
	ReasonForced      = "forced"
	ReasonUnpublished = "unpublished"
)

// ForceAll in a forced set refreshes every topic
const ForceAll = "all"

// DateRange returns the earliest and latest dates of a response's date column.
// Rows with a blank date are skipped; a value that does not parse as an ISO-8601
// date or a year is an error rather than being compared as text.
func DateRange(resp *model.EndpointResponse) (model.Interval, error) {
	if resp.Len() == 0 {
		return model.Interval{}, ErrNoDateInfo
	}
	field := resp.DateField
	if field == "" {
		field, _ = DetectFields(resp.Rows[0])
	}
	if field == "" {
		return model.Interval{}, fmt.Errorf("%s: %w: no date column", resp.Key, ErrNoDateInfo)
	}

	var span model.Interval
	for i, row := range resp.Rows {
		if utils.IsBlank(row[field]) {
			continue
		}
		d, err := model.DateValue(row[field])
		if err != nil {
			return model.Interval{}, fmt.Errorf("%s row %d %q: %w", resp.Key, i, field, err)
		}
		span = span.Union(model.NewInterval(d, d))
	}
	if span.IsEmpty() {
		return model.Interval{}, fmt.Errorf("%s: %w", resp.Key, ErrNoDateInfo)
	}
	return span, nil
}

// FreshnessInput is everything the decider compares
type FreshnessInput struct {
	Topics       []string
	DatasetNames map[string]string // topic -> catalog dataset name
	Datasets     *model.DatasetCache
	Responses    *model.ResponseCache
	Force        []string // topics refreshed regardless of dates; ForceAll forces every topic
}

// TopicSkip is a topic the decider could not evaluate
type TopicSkip struct {
	Topic string
	Err   error
}

func (in FreshnessInput) forced(topic string) bool {
	for _, f := range in.Force {
		if f == topic || f == ForceAll {
			return true
		}
	}
	return false
}

// DecideFreshness returns the topics whose published dataset is stale, in input order.
//
// The rules are evaluated in order: the API ends later than the dataset, the API starts
// earlier than the dataset, the topic is forced. Open dataset bounds never trigger the
// date rules. A topic whose dataset was never published is always included. A topic
// without usable incident dates is skipped, even when forced.
func DecideFreshness(in FreshnessInput, logger *zap.Logger) ([]model.TopicUpdate, []TopicSkip) {
	logger = orNop(logger)
	var updates []model.TopicUpdate
	var skipped []TopicSkip

	for _, topic := range in.Topics {
		api, err := DateRange(in.Responses.Get(topic, model.KindIncidents))
		if err != nil {
			logger.Warn("no usable incident dates, topic not compared", zap.String("topic", topic), zap.Error(err))
			skipped = append(skipped, TopicSkip{Topic: topic, Err: err})
			continue
		}
		update := model.TopicUpdate{Topic: topic, Start: api.Start, End: api.End}

		ds, ok := in.Datasets.Get(in.DatasetNames[topic])
		if !ok {
			update.Reason = ReasonUnpublished
			updates = append(updates, update)
			continue
		}
		published, err := ds.Interval()
		if err != nil {
			logger.Error("dataset date is unreadable, treating as unpublished",
				zap.String("topic", topic), zap.String("dataset", ds.Name), zap.Error(err))
			update.Reason = ReasonUnpublished
			updates = append(updates, update)
			continue
		}

		switch {
		case !published.OpenEnd() && api.End.After(published.End):
			update.Reason = ReasonNewer
		case !published.OpenStart() && api.Start.Before(published.Start):
			update.Reason = ReasonBackfill
		case in.forced(topic):
			update.Reason = ReasonForced
		default:
			logger.Debug("topic is up to date",
				zap.String("topic", topic),
				zap.String("api", api.String()),
				zap.String("dataset", published.String()))
			continue
		}
		logger.Info("topic has fresh data",
			zap.String("topic", topic),
			zap.String("reason", update.Reason),
			zap.String("api_start", api.StartString()),
			zap.String("api_end", api.EndString()),
			zap.String("dataset_date", ds.DatasetDate))
		updates = append(updates, update)
	}
	return updates, skipped
}
