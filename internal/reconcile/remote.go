package reconcile

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// apiTime accepts the upstream's two timestamp renderings: RFC 3339 and a
// bare date.
type apiTime struct {
	time.Time
}

func (t *apiTime) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", raw)
}

type remoteJudge struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	DateModified apiTime          `json:"date_modified"`
	Positions    []remotePosition `json:"positions"`
}

type remotePosition struct {
	Court           string   `json:"court"`
	CourtName       string   `json:"court_name"`
	DateStart       *apiTime `json:"date_start"`
	DateTermination *apiTime `json:"date_termination"`
}

type remoteCourt struct {
	ID           string  `json:"id"`
	FullName     string  `json:"full_name"`
	Type         string  `json:"type"`
	Jurisdiction string  `json:"jurisdiction"`
	DateModified apiTime `json:"date_modified"`
}

type remoteDecision struct {
	ID           string   `json:"id"`
	CaseName     string   `json:"case_name"`
	Disposition  string   `json:"disposition"`
	Precedential bool     `json:"precedential"`
	DateFiled    *apiTime `json:"date_filed"`
	DateModified apiTime  `json:"date_modified"`
}

type remoteDecisionText struct {
	PlainText string `json:"plain_text"`
}

func optionalTime(t *apiTime) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	value := t.Time
	return &value
}
