// Package assistant implements the deterministic question-answering engine:
// a keyword classifier selects read-only data tools, the tools run in a
// fixed order against the local store, and the merged result is persisted as
// one conversation exchange. There is no language model behind it; the same
// question against the same data always produces the same answer.
package assistant

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/D1992S/bieznia-sub002/internal/config"
	"github.com/D1992S/bieznia-sub002/internal/db"
	"github.com/D1992S/bieznia-sub002/internal/metrics"
	"github.com/D1992S/bieznia-sub002/internal/models"
)

const (
	dateLayout         = "2006-01-02"
	defaultMetric      = "views"
	maxTitleRunes      = 96
	defaultThreadLimit = 50
)

var generalFollowUps = []string{
	"How does this period compare to the previous one?",
	"Which metric should I focus on improving next?",
}

const (
	followUpTopVideos = "What do the top videos have in common?"
	followUpAnomalies = "Should any of the detected anomalies worry me?"
)

const noDataSentence = "No stored data matched this question."

type Engine struct {
	db         *db.Database
	classifier *Classifier
	tools      map[ToolName]Tool
	clock      Clock
	logger     *zap.Logger
	cfg        config.AssistantConfig
}

func NewEngine(database *db.Database, provider metrics.Provider, cfg config.AssistantConfig, clock Clock, logger *zap.Logger) (*Engine, error) {
	classifier, err := NewClassifier(cfg.VideoKeywords, cfg.AnomalyKeywords)
	if err != nil {
		return nil, err
	}

	tools := map[ToolName]Tool{
		ToolChannelInfo: &channelInfoTool{db: database},
		ToolKpis:        &kpisTool{metrics: provider},
		ToolTopVideos:   &topVideosTool{db: database, limit: cfg.TopVideoLimit},
		ToolAnomalies:   &anomaliesTool{db: database, limit: cfg.AnomalyLimit},
	}

	return &Engine{
		db:         database,
		classifier: classifier,
		tools:      tools,
		clock:      clock,
		logger:     logger,
		cfg:        cfg,
	}, nil
}

// Ask runs the full pipeline: select tools, execute them in the fixed order,
// synthesize the answer, and persist the exchange atomically. Callers get
// either a complete AskResult or a typed error; partial answers and partial
// writes do not happen.
func (e *Engine) Ask(input models.AskInput) (*models.AskResult, error) {
	metric := strings.TrimSpace(input.TargetMetric)
	if metric == "" {
		metric = defaultMetric
	}
	dateFrom, dateTo := e.resolveDateRange(input.DateFrom, input.DateTo)

	tc := ToolContext{
		ChannelID:    input.ChannelID,
		DateFrom:     dateFrom,
		DateTo:       dateTo,
		TargetMetric: metric,
	}

	selected := e.classifier.SelectTools(input.Question)

	var summaries []string
	var evidence []models.EvidenceItem
	for _, name := range selected {
		out, err := e.tools[name].Execute(tc)
		if err != nil {
			e.logger.Error("tool execution failed",
				zap.String("tool", string(name)),
				zap.String("channelId", input.ChannelID),
				zap.Error(err))
			return nil, err
		}
		summaries = append(summaries, out.SummaryLines...)
		evidence = append(evidence, out.Evidence...)
	}
	if evidence == nil {
		evidence = []models.EvidenceItem{}
	}

	confidence := confidenceLabel(len(evidence), e.cfg.MediumConfidenceMin, e.cfg.HighConfidenceMin)
	followUps := e.followUps(selected)
	answer := composeAnswer(dateFrom, dateTo, summaries)

	if err := validateAnswer(answer, confidence, followUps, evidence, e.cfg.MaxFollowUps); err != nil {
		return nil, err
	}

	threadID := strings.TrimSpace(input.ThreadID)
	if threadID == "" {
		threadID = uuid.NewString()
	}

	now := e.clock.Now().UTC()
	messageID, err := e.db.CommitAsk(db.AskCommit{
		ThreadID:   threadID,
		ChannelID:  input.ChannelID,
		Title:      threadTitle(input.Question),
		Question:   input.Question,
		Answer:     answer,
		Confidence: confidence,
		FollowUps:  followUps,
		Evidence:   evidence,
		Now:        now,
	})
	if err != nil {
		if errors.Is(err, db.ErrThreadChannelMismatch) {
			return nil, newError(CodeThreadChannelMismatch, "thread belongs to a different channel", err,
				map[string]any{"threadId": threadID, "channelId": input.ChannelID})
		}
		e.logger.Error("failed to persist exchange",
			zap.String("threadId", threadID),
			zap.Error(err))
		return nil, newError(CodePersistenceFailure, "failed to persist exchange", err,
			map[string]any{"threadId": threadID, "channelId": input.ChannelID})
	}

	return &models.AskResult{
		ThreadID:          threadID,
		MessageID:         messageID,
		Answer:            answer,
		Confidence:        confidence,
		FollowUpQuestions: followUps,
		Evidence:          evidence,
		UsedStub:          true,
		CreatedAt:         now,
	}, nil
}

func (e *Engine) ListThreads(input models.ThreadListInput) (*models.ThreadListResult, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = defaultThreadLimit
	}
	items, err := e.db.ListThreads(input.ChannelID, limit)
	if err != nil {
		return nil, newError(CodePersistenceFailure, "failed to list threads", err,
			map[string]any{"channelId": input.ChannelID})
	}
	return &models.ThreadListResult{Items: items}, nil
}

func (e *Engine) GetThreadMessages(input models.ThreadMessagesInput) (*models.ThreadMessagesResult, error) {
	thread, messages, err := e.db.GetThreadMessages(input.ThreadID)
	if err != nil {
		if errors.Is(err, db.ErrThreadNotFound) {
			return nil, newError(CodeThreadNotFound, "thread not found", err,
				map[string]any{"threadId": input.ThreadID})
		}
		return nil, newError(CodePersistenceFailure, "failed to read thread", err,
			map[string]any{"threadId": input.ThreadID})
	}
	return &models.ThreadMessagesResult{
		ThreadID:  thread.ID,
		ChannelID: thread.ChannelID,
		Title:     thread.Title,
		Messages:  messages,
	}, nil
}

// resolveDateRange uses the caller's range verbatim when both ends are set,
// otherwise the trailing configured window ending at the start of the
// current UTC day.
func (e *Engine) resolveDateRange(dateFrom, dateTo string) (string, string) {
	if dateFrom != "" && dateTo != "" {
		return dateFrom, dateTo
	}
	today := e.clock.Now().UTC().Truncate(24 * time.Hour)
	from := today.AddDate(0, 0, -e.cfg.DefaultRangeDays)
	return from.Format(dateLayout), today.Format(dateLayout)
}

func confidenceLabel(evidenceCount, mediumMin, highMin int) string {
	switch {
	case evidenceCount >= highMin:
		return models.ConfidenceHigh
	case evidenceCount >= mediumMin:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

// followUps starts from the two general suggestions and appends one per
// optional tool actually selected, capped to the configured maximum.
func (e *Engine) followUps(selected []ToolName) []string {
	suggestions := append([]string{}, generalFollowUps...)
	for _, tool := range selected {
		switch tool {
		case ToolTopVideos:
			suggestions = append(suggestions, followUpTopVideos)
		case ToolAnomalies:
			suggestions = append(suggestions, followUpAnomalies)
		}
	}
	if len(suggestions) > e.cfg.MaxFollowUps {
		suggestions = suggestions[:e.cfg.MaxFollowUps]
	}
	return suggestions
}

func composeAnswer(dateFrom, dateTo string, summaries []string) string {
	body := noDataSentence
	if len(summaries) > 0 {
		body = strings.Join(summaries, " ")
	}
	return fmt.Sprintf("Based on the stored data (range %s - %s): %s", dateFrom, dateTo, body)
}

// validateAnswer shape-checks the synthesized payload before anything is
// persisted or returned.
func validateAnswer(answer, confidence string, followUps []string, evidence []models.EvidenceItem, maxFollowUps int) error {
	if strings.TrimSpace(answer) == "" {
		return newError(CodeOutputValidation, "synthesized answer is empty", nil, nil)
	}
	switch confidence {
	case models.ConfidenceLow, models.ConfidenceMedium, models.ConfidenceHigh:
	default:
		return newError(CodeOutputValidation, "invalid confidence label", nil,
			map[string]any{"confidence": confidence})
	}
	if len(followUps) > maxFollowUps {
		return newError(CodeOutputValidation, "too many follow-up questions", nil,
			map[string]any{"count": len(followUps)})
	}
	for _, ev := range evidence {
		if ev.EvidenceID == "" || ev.Tool == "" || ev.SourceTable == "" || ev.SourceRecordID == "" {
			return newError(CodeOutputValidation, "incomplete evidence item", nil,
				map[string]any{"evidenceId": ev.EvidenceID, "tool": ev.Tool})
		}
	}
	return nil
}

// threadTitle derives the thread title from the first question, rune-safe
// truncated to 96 characters with a trailing ellipsis.
func threadTitle(question string) string {
	title := strings.TrimSpace(question)
	runes := []rune(title)
	if len(runes) <= maxTitleRunes {
		return title
	}
	return string(runes[:maxTitleRunes-1]) + "…"
}
