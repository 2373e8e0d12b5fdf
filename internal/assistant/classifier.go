package assistant

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/dlclark/regexp2"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type ToolName string

const (
	ToolChannelInfo ToolName = "read_channel_info"
	ToolKpis        ToolName = "read_kpis"
	ToolTopVideos   ToolName = "read_top_videos"
	ToolAnomalies   ToolName = "read_anomalies"
)

// toolOrder fixes the execution and evidence accumulation order; selection
// never reorders it.
var toolOrder = []ToolName{ToolChannelInfo, ToolKpis, ToolTopVideos, ToolAnomalies}

// Classifier maps free-text questions to the set of tools worth running. It
// is a keyword heuristic, not language understanding: the two baseline tools
// are always selected and the optional ones join on vocabulary matches.
type Classifier struct {
	videoPattern   *regexp2.Regexp
	anomalyPattern *regexp2.Regexp
}

func NewClassifier(videoKeywords, anomalyKeywords []string) (*Classifier, error) {
	videoPattern, err := compileVocabulary(videoKeywords)
	if err != nil {
		return nil, fmt.Errorf("invalid video vocabulary: %w", err)
	}
	anomalyPattern, err := compileVocabulary(anomalyKeywords)
	if err != nil {
		return nil, fmt.Errorf("invalid anomaly vocabulary: %w", err)
	}
	return &Classifier{videoPattern: videoPattern, anomalyPattern: anomalyPattern}, nil
}

func compileVocabulary(keywords []string) (*regexp2.Regexp, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	return regexp2.Compile(strings.Join(keywords, "|"), regexp2.None)
}

// SelectTools returns the deduplicated tool set for a question, always in
// the fixed execution order. It has no failure mode: unmatched text still
// yields the two baseline tools.
func (c *Classifier) SelectTools(question string) []ToolName {
	text := normalize(question)

	selected := map[ToolName]bool{
		ToolChannelInfo: true,
		ToolKpis:        true,
	}
	if matches(c.videoPattern, text) {
		selected[ToolTopVideos] = true
	}
	if matches(c.anomalyPattern, text) {
		selected[ToolAnomalies] = true
	}

	tools := make([]ToolName, 0, len(selected))
	for _, tool := range toolOrder {
		if selected[tool] {
			tools = append(tools, tool)
		}
	}
	return tools
}

func matches(pattern *regexp2.Regexp, text string) bool {
	if pattern == nil {
		return false
	}
	ok, err := pattern.MatchString(text)
	return err == nil && ok
}

// normalize decomposes the text, strips diacritics and lowercases it, so
// "Anomalię" and "anomalie" hit the same vocabulary entry.
func normalize(s string) string {
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	stripped, _, err := transform.String(stripMarks, s)
	if err != nil {
		stripped = s
	}
	return strings.ToLower(stripped)
}
