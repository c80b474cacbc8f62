package study

import "strings"

type QuestionType string

const (
	QuestionSingleChoice   QuestionType = "SINGLE_CHOICE"
	QuestionMultipleChoice QuestionType = "MULTIPLE_CHOICE"
)

func ParseQuestionType(value string) (QuestionType, bool) {
	switch qt := QuestionType(strings.ToUpper(strings.TrimSpace(value))); qt {
	case QuestionSingleChoice, QuestionMultipleChoice:
		return qt, true
	default:
		return "", false
	}
}

type FunnelStage string

const (
	FunnelTop    FunnelStage = "TOP_FUNNEL"
	FunnelMid    FunnelStage = "MID_FUNNEL"
	FunnelBottom FunnelStage = "BOTTOM_FUNNEL"
)

func ParseFunnelStage(value string) (FunnelStage, bool) {
	switch fs := FunnelStage(strings.ToUpper(strings.TrimSpace(value))); fs {
	case FunnelTop, FunnelMid, FunnelBottom:
		return fs, true
	default:
		return "", false
	}
}
