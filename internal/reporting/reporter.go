package reporting

import (
	"context"

	"github.com/bugsnag/bugsnag-go/v2"
	"go.uber.org/zap"
)

// Metadata groups diagnostic values by tab name
type Metadata map[string]map[string]interface{}

// Reporter forwards unexpected failures to an error tracker
type Reporter interface {
	Report(ctx context.Context, err error, meta Metadata)
}

// New returns a Bugsnag reporter when apiKey is set, otherwise a reporter that only logs
func New(apiKey, releaseStage string, logger *zap.Logger) Reporter {
	if apiKey == "" {
		return &logReporter{logger: logger}
	}

	notifier := bugsnag.New(bugsnag.Configuration{
		APIKey:          apiKey,
		ReleaseStage:    releaseStage,
		ProjectPackages: []string{"main", "search-market-agent/*"},
	})
	return &bugsnagReporter{notifier: notifier, logger: logger}
}

type bugsnagReporter struct {
	notifier *bugsnag.Notifier
	logger   *zap.Logger
}

func (r *bugsnagReporter) Report(ctx context.Context, err error, meta Metadata) {
	data := bugsnag.MetaData{}
	for tab, values := range meta {
		for k, v := range values {
			data.Add(tab, k, v)
		}
	}
	if notifyErr := r.notifier.Notify(err, ctx, data); notifyErr != nil {
		r.logger.Warn("failed to report error", zap.Error(notifyErr), zap.NamedError("reported", err))
	}
}

type logReporter struct {
	logger *zap.Logger
}

func (r *logReporter) Report(_ context.Context, err error, meta Metadata) {
	r.logger.Debug("error not reported, tracker disabled", zap.Error(err), zap.Any("metadata", meta))
}
