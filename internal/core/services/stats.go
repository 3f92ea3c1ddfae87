package services

import (
	"encoding/json"
	"strings"
	"time"

	"hostdeck.app/internal/core/domain"
)

// statLine matches the json template output of a streaming `docker stats`
// command.
type statLine struct {
	CPUPerc  string `json:"CPUPerc"`
	MemUsage string `json:"MemUsage"`
	NetIO    string `json:"NetIO"`
	BlockIO  string `json:"BlockIO"`
}

// ParseStatLine converts one line of streaming stats output into a sample.
// The stream interleaves terminal control sequences (cursor home, clear)
// before each sample, so everything up to the first brace is discarded.
// Returns false for lines that carry no sample.
func ParseStatLine(line string) (domain.StatSample, bool) {
	idx := strings.IndexByte(line, '{')
	if idx < 0 {
		return domain.StatSample{}, false
	}

	var raw statLine
	if err := json.Unmarshal([]byte(line[idx:]), &raw); err != nil {
		return domain.StatSample{}, false
	}
	if raw.CPUPerc == "" && raw.MemUsage == "" {
		return domain.StatSample{}, false
	}

	return domain.StatSample{
		CPU:       raw.CPUPerc,
		Memory:    raw.MemUsage,
		NetIO:     raw.NetIO,
		BlockIO:   raw.BlockIO,
		Timestamp: time.Now().UTC(),
	}, true
}
