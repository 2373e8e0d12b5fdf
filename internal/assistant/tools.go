package assistant

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/D1992S/bieznia-sub002/internal/db"
	"github.com/D1992S/bieznia-sub002/internal/metrics"
	"github.com/D1992S/bieznia-sub002/internal/models"
)

// ToolContext is the resolved input every executor receives.
type ToolContext struct {
	ChannelID    string
	DateFrom     string
	DateTo       string
	TargetMetric string
}

type ToolOutput struct {
	SummaryLines []string
	Evidence     []models.EvidenceItem
}

// Tool is one read-only data-retrieval capability with a fixed query shape.
// The set of implementations is closed; dispatch goes through the engine's
// tool table, never reflection.
type Tool interface {
	Name() ToolName
	Execute(tc ToolContext) (*ToolOutput, error)
}

// numberPrinter uses a fixed locale so formatted values are byte-identical
// across runs and machines.
var numberPrinter = message.NewPrinter(language.English)

func formatCount(n int64) string {
	return numberPrinter.Sprintf("%d", n)
}

func formatDelta(n int64) string {
	if n >= 0 {
		return "+" + formatCount(n)
	}
	return formatCount(n)
}

func formatRate(r float64) string {
	return strconv.FormatFloat(r, 'f', 1, 64) + "%"
}

func evidenceID(tool ToolName, key string) string {
	return string(tool) + ":" + key
}

type channelInfoTool struct {
	db *db.Database
}

func (t *channelInfoTool) Name() ToolName { return ToolChannelInfo }

func (t *channelInfoTool) Execute(tc ToolContext) (*ToolOutput, error) {
	ch, err := t.db.GetChannel(tc.ChannelID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, newError(CodeChannelNotFound, "channel not found", nil,
			map[string]any{"channelId": tc.ChannelID})
	}
	if err != nil {
		return nil, newError(CodeDependencyFailure, "failed to read channel", err,
			map[string]any{"channelId": tc.ChannelID})
	}

	return &ToolOutput{
		SummaryLines: []string{
			fmt.Sprintf("Channel %q has %s subscribers and %s total views.",
				ch.Name, formatCount(ch.SubscriberCount), formatCount(ch.TotalViews)),
		},
		Evidence: []models.EvidenceItem{{
			EvidenceID:     evidenceID(ToolChannelInfo, ch.ID),
			Tool:           string(ToolChannelInfo),
			Label:          "Channel",
			Value:          fmt.Sprintf("%s (%s subscribers)", ch.Name, formatCount(ch.SubscriberCount)),
			SourceTable:    "channels",
			SourceRecordID: ch.ID,
		}},
	}, nil
}

type kpisTool struct {
	metrics metrics.Provider
}

func (t *kpisTool) Name() ToolName { return ToolKpis }

func (t *kpisTool) Execute(tc ToolContext) (*ToolOutput, error) {
	kpis, err := t.metrics.GetKpis(tc.ChannelID, tc.DateFrom, tc.DateTo)
	if err != nil {
		ctx := map[string]any{"channelId": tc.ChannelID, "dateFrom": tc.DateFrom, "dateTo": tc.DateTo}
		var typed *Error
		if errors.As(err, &typed) {
			ctx["upstreamCode"] = string(typed.Code)
		} else {
			ctx["upstreamError"] = err.Error()
		}
		return nil, newError(CodeDependencyFailure, "metrics facade failed", err, ctx)
	}

	// All KPI items cite the same aggregate, so they share one composite
	// record id spanning the channel and the date range.
	recordID := tc.ChannelID + "|" + tc.DateFrom + "|" + tc.DateTo

	return &ToolOutput{
		SummaryLines: []string{
			fmt.Sprintf("Views in range: %s (%s vs the previous period).",
				formatCount(kpis.Views), formatDelta(kpis.ViewsDelta)),
			fmt.Sprintf("Subscribers: %s (%s).",
				formatCount(kpis.Subscribers), formatDelta(kpis.SubscribersDelta)),
			fmt.Sprintf("Average engagement rate: %s.", formatRate(kpis.EngagementRate)),
		},
		Evidence: []models.EvidenceItem{
			{
				EvidenceID:     evidenceID(ToolKpis, "views:"+recordID),
				Tool:           string(ToolKpis),
				Label:          "Views",
				Value:          formatCount(kpis.Views),
				SourceTable:    "channel_metrics",
				SourceRecordID: recordID,
			},
			{
				EvidenceID:     evidenceID(ToolKpis, "subscribers:"+recordID),
				Tool:           string(ToolKpis),
				Label:          "Subscribers",
				Value:          formatCount(kpis.Subscribers),
				SourceTable:    "channel_metrics",
				SourceRecordID: recordID,
			},
			{
				EvidenceID:     evidenceID(ToolKpis, "engagement:"+recordID),
				Tool:           string(ToolKpis),
				Label:          "Engagement rate",
				Value:          formatRate(kpis.EngagementRate),
				SourceTable:    "channel_metrics",
				SourceRecordID: recordID,
			},
		},
	}, nil
}

type topVideosTool struct {
	db    *db.Database
	limit int
}

func (t *topVideosTool) Name() ToolName { return ToolTopVideos }

func (t *topVideosTool) Execute(tc ToolContext) (*ToolOutput, error) {
	videos, err := t.db.GetTopVideos(tc.ChannelID, t.limit)
	if err != nil {
		return nil, newError(CodeDependencyFailure, "failed to read top videos", err,
			map[string]any{"channelId": tc.ChannelID})
	}

	// An empty catalogue is an answerable state, not a failure.
	if len(videos) == 0 {
		return &ToolOutput{
			SummaryLines: []string{"No videos are stored for this channel yet."},
			Evidence:     []models.EvidenceItem{},
		}, nil
	}

	out := &ToolOutput{}
	for i, v := range videos {
		out.SummaryLines = append(out.SummaryLines,
			fmt.Sprintf("Top video #%d: %q with %s views and %s likes.",
				i+1, v.Title, formatCount(v.ViewCount), formatCount(v.LikeCount)))
		out.Evidence = append(out.Evidence, models.EvidenceItem{
			EvidenceID:     evidenceID(ToolTopVideos, v.ID),
			Tool:           string(ToolTopVideos),
			Label:          v.Title,
			Value:          formatCount(v.ViewCount) + " views",
			SourceTable:    "videos",
			SourceRecordID: v.ID,
		})
	}
	return out, nil
}

type anomaliesTool struct {
	db    *db.Database
	limit int
}

func (t *anomaliesTool) Name() ToolName { return ToolAnomalies }

func (t *anomaliesTool) Execute(tc ToolContext) (*ToolOutput, error) {
	anomalies, err := t.db.GetAnomalies(tc.ChannelID, tc.TargetMetric, tc.DateFrom, tc.DateTo, t.limit)
	if err != nil {
		return nil, newError(CodeDependencyFailure, "failed to read anomalies", err,
			map[string]any{"channelId": tc.ChannelID, "metric": tc.TargetMetric})
	}

	if len(anomalies) == 0 {
		return &ToolOutput{
			SummaryLines: []string{fmt.Sprintf("No %s anomalies were detected in the selected range.", tc.TargetMetric)},
			Evidence:     []models.EvidenceItem{},
		}, nil
	}

	out := &ToolOutput{}
	for _, a := range anomalies {
		out.SummaryLines = append(out.SummaryLines,
			fmt.Sprintf("Anomaly on %s: %s (severity %s).", a.Date, a.Description, a.Severity))
		recordID := strconv.FormatInt(a.ID, 10)
		out.Evidence = append(out.Evidence, models.EvidenceItem{
			EvidenceID:     evidenceID(ToolAnomalies, recordID),
			Tool:           string(ToolAnomalies),
			Label:          "Anomaly " + a.Date,
			Value:          fmt.Sprintf("%s %s (%s)", a.Metric, a.Description, a.Severity),
			SourceTable:    "ml_anomalies",
			SourceRecordID: recordID,
		})
	}
	return out, nil
}
