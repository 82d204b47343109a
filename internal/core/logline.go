package core

import "time"

// LogLine is a single line read from a monitored log, tagged with the host
// it came from. It is never modified after a source hands it out.
type LogLine struct {
	Host      string    `json:"host"`
	Source    string    `json:"source"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NewLogLine stamps a line with the current UTC time.
func NewLogLine(host, source, text string) LogLine {
	return LogLine{
		Host:      host,
		Source:    source,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
}

func (l LogLine) String() string {
	if l.Host == "" {
		return l.Text
	}
	return l.Host + ": " + l.Text
}
