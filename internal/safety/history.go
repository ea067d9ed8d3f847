package safety

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/tidwall/gjson"
)

// HistoryRecord is one parsed line of the alert history log.
type HistoryRecord struct {
	Severity  Severity
	Title     string
	Message   string
	Timestamp time.Time
}

// TailHistory returns up to n most recent alerts from the history file,
// oldest first. Malformed lines are skipped.
func TailHistory(path string, n int) ([]HistoryRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("safety: open alert history: %w", err)
	}
	defer f.Close()

	var records []HistoryRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if !gjson.ValidBytes(line) {
			continue
		}
		parsed := gjson.ParseBytes(line)
		ts, err := time.Parse(time.RFC3339Nano, parsed.Get("timestamp").String())
		if err != nil {
			continue
		}
		records = append(records, HistoryRecord{
			Severity:  Severity(parsed.Get("severity").String()),
			Title:     parsed.Get("title").String(),
			Message:   parsed.Get("message").String(),
			Timestamp: ts,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("safety: read alert history: %w", err)
	}
	if len(records) > n {
		records = records[len(records)-n:]
	}
	return records, nil
}
