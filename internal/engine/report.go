package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/scrypster/pluginstats/pkg/types"
)

// ErrInvalidReport is returned for reports that fail validation.
var ErrInvalidReport = errors.New("invalid report")

// maxPluginNameLength bounds plugin names accepted from reports.
const maxPluginNameLength = 100

// ReportProcessor applies incoming reports to the registry.
type ReportProcessor struct {
	registry *Registry
	now      func() time.Time
}

// NewReportProcessor creates a processor that records reports in registry.
func NewReportProcessor(registry *Registry) *ReportProcessor {
	return &ReportProcessor{registry: registry, now: time.Now}
}

// Validate checks a report before it is applied.
func (r *Report) Validate() error {
	name := strings.TrimSpace(r.PluginName)
	if name == "" {
		return fmt.Errorf("%w: plugin name is required", ErrInvalidReport)
	}
	if utf8.RuneCountInString(name) > maxPluginNameLength {
		return fmt.Errorf("%w: plugin name exceeds %d characters", ErrInvalidReport, maxPluginNameLength)
	}
	if _, err := uuid.Parse(r.GUID); err != nil {
		return fmt.Errorf("%w: guid %q is not a UUID", ErrInvalidReport, r.GUID)
	}
	return nil
}

// Process records one report. The plugin is created on first sight; data
// rolls up to its parent when it has one. Hits are counted unless the
// report is a ping. The affected plugins are scheduled with Save, never
// written inline.
func (rp *ReportProcessor) Process(ctx context.Context, report Report) (*ReportResult, error) {
	if err := report.Validate(); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(report.PluginName)

	plugin, created, err := rp.registry.GetOrCreate(ctx, name, report.Authors)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to resolve plugin %q: %w", name, err)
	}

	if report.Authors != "" && plugin.Authors() != report.Authors {
		plugin.SetAuthors(report.Authors)
	}

	target := rp.registry.Resolve(plugin)

	result := &ReportResult{
		PluginID: plugin.ID(),
		TargetID: target.ID(),
		Created:  created,
	}

	if report.Version != "" {
		v, err := rp.registry.VersionFor(ctx, target, report.Version)
		if err != nil {
			return nil, fmt.Errorf("engine: failed to resolve version %q: %w", report.Version, err)
		}
		result.VersionID = v.ID
	}

	if _, err := rp.registry.GraphFor(ctx, target, types.GlobalStatisticsGraph); err != nil {
		return nil, fmt.Errorf("engine: failed to resolve graph: %w", err)
	}

	if report.Ping {
		result.GlobalHits = target.GlobalHits()
	} else {
		result.GlobalHits = target.IncrementGlobalHits(1)
	}
	target.SetLastUpdated(rp.now().Unix())

	target.Save()
	if plugin != target {
		plugin.Save()
	}

	result.State = target.State()
	result.StateName = result.State.String()
	return result, nil
}
