package models

import (
	"strings"
	"time"
)

// Reference is one retrieved document an agent answered from.
type Reference struct {
	ID         string  `json:"id,omitempty"`
	Name       string  `json:"name"`
	Similarity float64 `json:"similarity" validate:"gte=0,lte=1"`
	Content    string  `json:"content,omitempty"`
}

// AgentAnswer is what the agent-invocation collaborator returns for a prompt.
type AgentAnswer struct {
	Response   string      `json:"response"`
	References []Reference `json:"references"`
	Model      string      `json:"model,omitempty"`
}

// AgentRun is the raw, immutable output of executing one question against an agent.
type AgentRun struct {
	ID             string        `gorm:"primary_key;size:64" json:"id"`
	EvaluationID   string        `gorm:"index;size:128" json:"evaluationId"`
	QuestionID     string        `gorm:"size:64" json:"questionId"`
	AgentID        string        `gorm:"size:128" json:"agentId"`
	Prompt         string        `gorm:"type:text" json:"prompt"`
	Response       string        `gorm:"type:text" json:"response"`
	References     ReferenceList `gorm:"type:text" json:"references"`
	PhantomRefs    bool          `json:"phantomRefs"`
	Model          string        `json:"model,omitempty"`
	ResponseTimeMs int64         `json:"responseTimeMs"`
	RanBy          string        `json:"ranBy"`
	RanAt          time.Time     `json:"ranAt"`
}

func (AgentRun) TableName() string {
	return "agent_runs"
}

// TestResult is one reviewer-finalized question execution. Rows are never updated.
type TestResult struct {
	ID                    string        `gorm:"primary_key;size:64" json:"id"`
	EvaluationID          string        `gorm:"index;size:128" json:"evaluationId"`
	QuestionID            string        `gorm:"size:64" json:"questionId"`
	AgentID               string        `gorm:"size:128" json:"agentId"`
	RunID                 string        `gorm:"size:64" json:"runId,omitempty"`
	TestedBy              string        `json:"testedBy"`
	TestedByEmail         string        `json:"testedByEmail"`
	TestedAt              time.Time     `json:"testedAt"`
	Prompt                string        `gorm:"type:text" json:"prompt"`
	Response              string        `gorm:"type:text" json:"response"`
	Model                 string        `json:"model,omitempty"`
	ResponseTimeMs        int64         `json:"responseTimeMs"`
	References            ReferenceList `gorm:"type:text" json:"references"`
	Quality               int           `json:"quality"`
	PhantomRefs           bool          `json:"phantomRefs"`
	ExpectedTopicsFound   StringSlice   `gorm:"type:text" json:"expectedTopicsFound"`
	ExpectedTopicsMissing StringSlice   `gorm:"type:text" json:"expectedTopicsMissing"`
	Notes                 string        `gorm:"type:text" json:"notes,omitempty"`
	PassedCriteria        bool          `json:"passedCriteria"`
}

func (TestResult) TableName() string {
	return "test_results"
}

// TestResultInput is what a reviewer submits to finalize a question execution.
// Without a RunID the response text must be supplied directly.
type TestResultInput struct {
	QuestionID            string      `json:"questionId" validate:"required"`
	RunID                 string      `json:"runId,omitempty"`
	Prompt                string      `json:"prompt,omitempty"`
	Response              string      `json:"response,omitempty" validate:"required_without=RunID"`
	References            []Reference `json:"references,omitempty" validate:"dive"`
	Model                 string      `json:"model,omitempty"`
	ResponseTimeMs        int64       `json:"responseTimeMs,omitempty" validate:"gte=0"`
	Quality               int         `json:"quality" validate:"gte=1,lte=10"`
	PhantomRefs           bool        `json:"phantomRefs"`
	ExpectedTopicsFound   []string    `json:"expectedTopicsFound,omitempty"`
	ExpectedTopicsMissing []string    `json:"expectedTopicsMissing,omitempty"`
	Notes                 string      `json:"notes,omitempty"`
}

// MatchTopics splits expected topics into those mentioned in the response and those missing.
// Matching is a case-insensitive substring test.
func MatchTopics(expected []string, response string) (found, missing []string) {
	text := strings.ToLower(response)
	found, missing = []string{}, []string{}
	for _, topic := range expected {
		t := strings.TrimSpace(topic)
		if t == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(t)) {
			found = append(found, topic)
		} else {
			missing = append(missing, topic)
		}
	}
	return found, missing
}
