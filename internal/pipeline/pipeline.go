package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"insecurity-insight-pipeline/internal/catalog"
	"insecurity-insight-pipeline/internal/config"
	"insecurity-insight-pipeline/internal/metadata"
	"insecurity-insight-pipeline/internal/model"
	"insecurity-insight-pipeline/pkg/utils"
)

// Stage names used in the run report
const (
	StageFetch    = "fetch"
	StageValidate = "validate"
	StageCatalog  = "catalog"
	StageDecide   = "decide"
	StageBuild    = "build"
	StagePublish  = "publish"
)

func orNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// RunRecorder persists finished runs
type RunRecorder interface {
	SaveRun(report *model.RunReport) error
}

// Notifier announces finished runs
type Notifier interface {
	Notify(ctx context.Context, report *model.RunReport) error
}

// Options select what one run does
type Options struct {
	Topics      []string // empty runs every configured topic
	Countries   []string // ISO3 codes; empty runs every country dataset
	Force       []string // topics refreshed regardless of dates, or ForceAll
	DryRun      bool     // build everything but publish nothing
	Environment string   // catalog site name, recorded in the report
	CurrentYear int      // zero uses the current date
}

// Orchestrator runs the fetch, decide, build and publish stages once per call.
// Everything it reads is passed in; it holds no state between runs.
type Orchestrator struct {
	Config   *config.Config
	Metadata *metadata.Catalog
	Source   Source
	Catalog  catalog.Client
	Expected KeySource // nil uses the metadata schemas
	Store    RunRecorder
	Notifier Notifier
	Output   *utils.OutputManager
	Logger   *zap.Logger
	Now      func() time.Time
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// pendingDataset is an assembled descriptor waiting to be published
type pendingDataset struct {
	dataset   *model.Dataset
	generated []string // resource names produced by this run, in slot order
	missing   int
}

// Run executes one full pipeline run and returns its report. The report is returned
// for failed runs too, together with the error that stopped them.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*model.RunReport, error) {
	runID := uuid.NewString()
	logger := orNop(o.Logger).With(zap.String("run_id", runID))
	tracker := NewRunTracker(runID, opts.Environment, opts.DryRun, logger)
	if opts.CurrentYear == 0 {
		opts.CurrentYear = o.now().Year()
	}

	err := o.run(ctx, runID, opts, tracker, logger)
	return o.finish(ctx, tracker, err, logger)
}

func (o *Orchestrator) run(ctx context.Context, runID string, opts Options, tracker *RunTracker, logger *zap.Logger) error {
	topics, err := o.selectTopics(opts.Topics)
	if err != nil {
		return err
	}
	outDir, err := o.Output.CreateRunOutputDir(runID)
	if err != nil {
		return err
	}
	logger.Info("starting run",
		zap.Strings("topics", topics),
		zap.Strings("countries", opts.Countries),
		zap.Strings("force", opts.Force),
		zap.Bool("dry_run", opts.DryRun),
		zap.String("output_dir", outDir))

	responses, err := o.fetch(ctx, topics, tracker, logger)
	if err != nil {
		return err
	}

	tracker.StartStage(StageValidate)
	err = CheckSchemas(responses, topics, o.Config.TopicKinds, o.expected(), logger)
	tracker.EndStage(StageValidate, responses.Len())
	if err != nil {
		return err
	}

	countries := o.selectCountries(topics, opts.Countries)
	tracker.StartStage(StageCatalog)
	names := make([]string, 0, len(topics)+len(countries))
	for _, topic := range topics {
		names = append(names, o.Config.Datasets[topic].Name)
	}
	countryTemplates := make(map[string]config.DatasetTemplate, len(countries))
	legacy := make(map[string][]string)
	for _, cd := range countries {
		tmpl := RenderCountryTemplate(o.Config.CountryDatasets.Template, cd.ISO3, o.Metadata.CountryName(cd.ISO3))
		countryTemplates[cd.ISO3] = tmpl
		names = append(names, tmpl.Name)
		if old := o.Metadata.LegacyNames(cd.ISO3); len(old) > 0 {
			legacy[tmpl.Name] = old
		}
	}
	datasets, unpublished, err := catalog.FetchDatasets(ctx, o.Catalog, names, legacy)
	tracker.EndStage(StageCatalog, datasets.Len())
	if err != nil {
		return err
	}
	if len(unpublished) > 0 {
		logger.Info("datasets not yet published", zap.Strings("datasets", unpublished))
	}

	tracker.StartStage(StageDecide)
	updates, skipped := DecideFreshness(FreshnessInput{
		Topics:       topics,
		DatasetNames: o.topicDatasetNames(topics),
		Datasets:     datasets,
		Responses:    responses,
		Force:        opts.Force,
	}, logger)
	for _, s := range skipped {
		tracker.RecordError(StageDecide, s.Topic, s.Err)
	}
	tracker.RecordUpdates(updates)
	tracker.EndStage(StageDecide, len(updates))
	if len(updates) == 0 {
		logger.Info("no topics have fresh data, nothing to publish")
		return nil
	}

	tracker.StartStage(StageBuild)
	builder := &Builder{
		Schemas:     o.Metadata,
		TextColumns: o.Config.TextColumns,
		OutputDir:   outDir,
		Logger:      logger,
	}
	assembler := &Assembler{
		Maintainer:   o.Config.HDX.Maintainer,
		Organization: o.Config.HDX.Organization,
		License:      o.Config.HDX.License,
		Now:          o.Now,
		Logger:       logger,
	}
	var pending []pendingDataset
	for _, update := range updates {
		pending = append(pending, o.buildTopic(update, responses, datasets, builder, assembler, opts, tracker))
	}
	updated := make(map[string]bool, len(updates))
	for _, u := range updates {
		updated[u.Topic] = true
	}
	for _, cd := range countries {
		if !containsAny(cd.Topics, updated) {
			continue
		}
		pending = append(pending, o.buildCountry(cd, countryTemplates[cd.ISO3], topics, responses, datasets, builder, assembler, opts, tracker))
	}
	tracker.EndStage(StageBuild, len(pending))

	tracker.StartStage(StagePublish)
	published := 0
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		tracker.RecordMissing(p.dataset.Name, p.missing)
		if opts.DryRun {
			logger.Info("dry run, dataset not published",
				zap.String("dataset", p.dataset.Name),
				zap.String("dataset_date", p.dataset.DatasetDate),
				zap.Strings("resources", p.dataset.ResourceNames()))
			continue
		}
		if err := o.publish(ctx, p, logger); err != nil {
			tracker.RecordError(StagePublish, p.dataset.Name, err)
			continue
		}
		tracker.RecordPublished(p.dataset.Name)
		published++
	}
	tracker.EndStage(StagePublish, published)
	return nil
}

// Check fetches the selected topics and runs only the schema drift check
func (o *Orchestrator) Check(ctx context.Context, topics []string) error {
	logger := orNop(o.Logger)
	topics, err := o.selectTopics(topics)
	if err != nil {
		return err
	}
	tracker := NewRunTracker("check", "", true, logger)
	responses, err := o.fetch(ctx, topics, tracker, logger)
	if err != nil {
		return err
	}
	return CheckSchemas(responses, topics, o.Config.TopicKinds, o.expected(), logger)
}

func (o *Orchestrator) finish(ctx context.Context, tracker *RunTracker, runErr error, logger *zap.Logger) (*model.RunReport, error) {
	var report *model.RunReport
	if runErr != nil {
		tracker.RecordError("run", "", runErr)
		report = tracker.Fail()
	} else {
		report = tracker.Complete()
	}

	if o.Store != nil {
		if err := o.Store.SaveRun(report); err != nil {
			logger.Error("failed to save run", zap.Error(err))
		}
	}
	if o.Notifier != nil {
		// the run event goes out even when the run was interrupted
		if err := o.Notifier.Notify(context.WithoutCancel(ctx), report); err != nil {
			logger.Error("failed to publish run event", zap.Error(err))
		}
	}
	return report, runErr
}

// fetch requests every topic and kind that has an API path, then normalizes the results
func (o *Orchestrator) fetch(ctx context.Context, topics []string, tracker *RunTracker, logger *zap.Logger) (*model.ResponseCache, error) {
	var targets []FetchTarget
	for _, topic := range topics {
		for _, kind := range o.Config.TopicKinds {
			slot, ok := o.Metadata.Resource(metadata.ScopeTopic, topic, kind)
			if !ok || slot.APIPath == "" {
				logger.Debug("no endpoint configured", zap.String("topic", topic), zap.String("kind", string(kind)))
				continue
			}
			targets = append(targets, FetchTarget{Key: model.EndpointKey{Topic: topic, Kind: kind}, APIPath: slot.APIPath})
		}
	}

	tracker.StartStage(StageFetch)
	outcomes, err := FetchAll(ctx, o.Source, targets, logger)
	normalizer := &Normalizer{Restricted: o.Config.RestrictedCountries, Logger: logger}
	var responses []*model.EndpointResponse
	for _, outcome := range outcomes {
		tracker.RecordFetch(outcome)
		if outcome.Err != nil {
			tracker.RecordError(StageFetch, outcome.Target.Key.String(), outcome.Err)
			continue
		}
		tracker.RecordNormalize(outcome.Target.Key, normalizer.Normalize(outcome.Response))
		responses = append(responses, outcome.Response)
	}
	tracker.EndStage(StageFetch, len(responses))
	if err != nil {
		return nil, fmt.Errorf("fetch interrupted: %w", err)
	}
	return model.NewResponseCache(responses...), nil
}

func (o *Orchestrator) buildTopic(update model.TopicUpdate, responses *model.ResponseCache, datasets *model.DatasetCache,
	builder *Builder, assembler *Assembler, opts Options, tracker *RunTracker) pendingDataset {
	topic, _ := o.Config.Topic(update.Topic)
	tmpl := o.Config.Datasets[topic.Key]

	var slots []SlotResult
	for _, slot := range o.Metadata.Resources(metadata.ScopeTopic, topic.Key) {
		slots = append(slots, SlotResult{Slot: slot, Export: o.buildSlot(builder, responses.Get(topic.Key, slot.Kind), topic, "", opts, tracker)})
	}

	date := update.Interval()
	for _, kind := range []model.ResponseKind{model.KindIncidents, model.KindIncidentsCurrentYear} {
		if span, err := DateRange(responses.Get(topic.Key, kind)); err == nil {
			date = date.Union(span)
		}
	}
	groups, other := CountryGroups(responses.Get(topic.Key, model.KindIncidents), o.Config.OtherLocationCodes)
	existing, _ := datasets.Get(tmpl.Name)

	ds, missing := assembler.Assemble(AssembleRequest{
		Template:       tmpl,
		Existing:       existing,
		Date:           date,
		Groups:         groups,
		OtherLocations: other,
		Slots:          slots,
	})
	return pendingDataset{dataset: ds, generated: generatedNames(slots), missing: missing}
}

func (o *Orchestrator) buildCountry(cd config.CountryDataset, tmpl config.DatasetTemplate, topics []string, responses *model.ResponseCache,
	datasets *model.DatasetCache, builder *Builder, assembler *Assembler, opts Options, tracker *RunTracker) pendingDataset {
	name := o.Metadata.CountryName(cd.ISO3)
	selected := make(map[string]bool, len(topics))
	for _, t := range topics {
		selected[t] = true
	}

	var slots []SlotResult
	var date model.Interval
	var tags [][]string
	for _, key := range cd.Topics {
		// topics outside this run keep their existing resources untouched
		if !selected[key] {
			continue
		}
		topic, _ := o.Config.Topic(key)
		tags = append(tags, o.Config.CountryDatasets.TopicTags[key])
		if span, err := DateRange(responses.Get(key, model.KindIncidents)); err == nil {
			date = date.Union(span)
		}
		for _, slot := range o.Metadata.Resources(metadata.ScopeCountry, key) {
			slots = append(slots, SlotResult{Slot: slot, Export: o.buildSlot(builder, responses.Get(key, slot.Kind), topic, cd.ISO3, opts, tracker)})
		}
	}

	groups, other := SplitLocations([]string{cd.ISO3}, o.Config.OtherLocationCodes)
	existing, _ := datasets.Get(tmpl.Name)
	ds, missing := assembler.Assemble(AssembleRequest{
		Template:       tmpl,
		Existing:       existing,
		Date:           date,
		Groups:         groups,
		OtherLocations: other,
		Tags:           MergeTags(tags...),
		CountryName:    name,
		Slots:          slots,
	})
	return pendingDataset{dataset: ds, generated: generatedNames(slots), missing: missing}
}

// buildSlot writes one spreadsheet. Failures are recorded and leave the slot empty.
func (o *Orchestrator) buildSlot(builder *Builder, resp *model.EndpointResponse, topic config.Topic, country string, opts Options, tracker *RunTracker) *ExportResult {
	if resp.Len() == 0 {
		return nil
	}
	export, err := builder.Build(resp, SpreadsheetRequest{
		ProperName:  topic.ProperName,
		Country:     country,
		CurrentYear: opts.CurrentYear,
	})
	if err != nil {
		subject := resp.Key.String()
		if country != "" {
			subject += "-" + strings.ToLower(country)
		}
		tracker.RecordError(StageBuild, subject, err)
		return nil
	}
	return export
}

func (o *Orchestrator) publish(ctx context.Context, p pendingDataset, logger *zap.Logger) error {
	stored, err := o.Catalog.Publish(ctx, p.dataset)
	if err != nil {
		return err
	}
	order := catalog.GeneratedFirst(stored, p.generated)
	if err := o.Catalog.ReorderResources(ctx, stored.ID, order); err != nil {
		return fmt.Errorf("failed to reorder resources: %w", err)
	}
	logger.Info("published dataset",
		zap.String("dataset", stored.Name),
		zap.String("dataset_date", stored.DatasetDate),
		zap.Int("resources", len(stored.Resources)),
		zap.Int("missing", p.missing))
	return nil
}

func (o *Orchestrator) expected() KeySource {
	if o.Expected != nil {
		return o.Expected
	}
	return o.Metadata
}

// selectTopics returns the configured topics in config order, restricted to filter
func (o *Orchestrator) selectTopics(filter []string) ([]string, error) {
	all := o.Config.TopicKeys()
	if len(filter) == 0 {
		return all, nil
	}
	want := make(map[string]bool, len(filter))
	for _, t := range filter {
		if _, ok := o.Config.Topic(t); !ok {
			return nil, fmt.Errorf("unknown topic %q", t)
		}
		want[t] = true
	}
	var topics []string
	for _, t := range all {
		if want[t] {
			topics = append(topics, t)
		}
	}
	return topics, nil
}

// selectCountries returns the country datasets matching filter that contain a selected topic
func (o *Orchestrator) selectCountries(topics, filter []string) []config.CountryDataset {
	var out []config.CountryDataset
	seen := make(map[string]bool)
	for _, topic := range topics {
		for _, cd := range o.Config.CountriesWithTopic(topic) {
			if seen[cd.ISO3] || (len(filter) > 0 && !containsFold(filter, cd.ISO3)) {
				continue
			}
			seen[cd.ISO3] = true
			out = append(out, cd)
		}
	}
	return out
}

func (o *Orchestrator) topicDatasetNames(topics []string) map[string]string {
	names := make(map[string]string, len(topics))
	for _, t := range topics {
		names[t] = o.Config.Datasets[t].Name
	}
	return names
}

func generatedNames(slots []SlotResult) []string {
	var names []string
	for _, s := range slots {
		if s.Export != nil {
			names = append(names, filepath.Base(s.Export.Path))
		}
	}
	return names
}

func containsAny(list []string, set map[string]bool) bool {
	for _, s := range list {
		if set[s] {
			return true
		}
	}
	return false
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// IsSchemaChange reports whether err stopped a run because upstream columns drifted
func IsSchemaChange(err error) bool {
	return errors.Is(err, ErrSchemaChanged)
}
