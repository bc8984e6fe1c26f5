package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringSlice represents a slice of strings that can be stored in the database
type StringSlice []string

// Value converts the slice to a JSON string for storage
func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	return jsonValue(s)
}

// Scan converts the database value back to a slice
func (s *StringSlice) Scan(value interface{}) error {
	*s = StringSlice{}
	return jsonScan(value, s, "StringSlice")
}

// QuestionList stores an evaluation's planned questions as one JSON column.
type QuestionList []EvaluationQuestion

func (l QuestionList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return jsonValue(l)
}

func (l *QuestionList) Scan(value interface{}) error {
	*l = QuestionList{}
	return jsonScan(value, l, "QuestionList")
}

// CategoryList stores the category plan of an evaluation.
type CategoryList []QuestionCategory

func (l CategoryList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return jsonValue(l)
}

func (l *CategoryList) Scan(value interface{}) error {
	*l = CategoryList{}
	return jsonScan(value, l, "CategoryList")
}

// ReferenceList stores the references an agent returned with its answer.
type ReferenceList []Reference

func (l ReferenceList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return jsonValue(l)
}

func (l *ReferenceList) Scan(value interface{}) error {
	*l = ReferenceList{}
	return jsonScan(value, l, "ReferenceList")
}

// SampleList stores the three sample answers of a sharing approval request.
type SampleList []SampleAnswer

func (l SampleList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return jsonValue(l)
}

func (l *SampleList) Scan(value interface{}) error {
	*l = SampleList{}
	return jsonScan(value, l, "SampleList")
}

// TargetList stores the recipients of a share.
type TargetList []ShareTarget

func (l TargetList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return jsonValue(l)
}

func (l *TargetList) Scan(value interface{}) error {
	*l = TargetList{}
	return jsonScan(value, l, "TargetList")
}

// Value stores the criteria as a JSON object column.
func (c SuccessCriteria) Value() (driver.Value, error) {
	return jsonValue(c)
}

// Scan reads the criteria back from its JSON column.
func (c *SuccessCriteria) Scan(value interface{}) error {
	*c = SuccessCriteria{}
	return jsonScan(value, c, "SuccessCriteria")
}

func jsonValue(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func jsonScan(value interface{}, dst interface{}, name string) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported type %T for %s", value, name)
	}
}
