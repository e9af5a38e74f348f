package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"pm-assistant/internal/protocol"
)

// Reply types produced by the stub assistant.
const (
	replyPlain         = "plain"
	replyCreateTask    = "create_task"
	replyUpdateTask    = "update_task"
	replyCreateProject = "create_project"
	replyTimesheet     = "time_sheet"
)

// failPrefix makes the stub abort a reply halfway with an error frame.
const failPrefix = "/fail"

type taskDoc struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

type projectDoc struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type timesheetDoc struct {
	Date  string  `json:"date"`
	Hours float64 `json:"hours"`
	Task  string  `json:"task"`
}

// buildReply produces a canned structured answer for query. turn is the
// 1-based position of the query in its conversation.
func buildReply(query string, turn int) protocol.Response {
	lower := strings.ToLower(query)
	subject := subjectOf(query)

	switch {
	case strings.Contains(lower, "create project") || strings.Contains(lower, "new project"):
		return protocol.Response{
			Type:    replyCreateProject,
			Message: fmt.Sprintf("Created project %q.", subject),
			Project: mustRaw(projectDoc{ID: fmt.Sprintf("p-%d", 100+turn), Name: subject}),
		}

	case strings.Contains(lower, "create task") || strings.Contains(lower, "add task"):
		return protocol.Response{
			Type:    replyCreateTask,
			Message: fmt.Sprintf("Created 1 task: %s.", subject),
			Tasks:   mustRaw([]taskDoc{{ID: 1000 + turn, Name: subject, Status: "open"}}),
		}

	case strings.Contains(lower, "update") || strings.Contains(lower, "mark"):
		return protocol.Response{
			Type:        replyUpdateTask,
			Message:     fmt.Sprintf("Updated %s.", subject),
			Task:        mustRaw(taskDoc{ID: 1000 + turn, Name: subject, Status: "done"}),
			ChangesMade: mustRaw([]string{"status"}),
		}

	case strings.Contains(lower, "timesheet") || strings.Contains(lower, "time sheet"):
		return protocol.Response{
			Type:    replyTimesheet,
			Message: "Here is your time sheet for this week.",
			TimeSheetList: mustRaw([]timesheetDoc{
				{Date: "2026-10-12", Hours: 7.5, Task: "Write release notes"},
				{Date: "2026-10-13", Hours: 6, Task: "Fix login timeout"},
			}),
		}
	}

	return protocol.Response{
		Type:    replyPlain,
		Message: fmt.Sprintf("You said %q. That is message %d in this conversation.", query, turn),
	}
}

// subjectOf returns the text after the first colon, or the whole query.
func subjectOf(query string) string {
	if i := strings.Index(query, ":"); i >= 0 && strings.TrimSpace(query[i+1:]) != "" {
		return strings.TrimSpace(query[i+1:])
	}
	return strings.TrimSpace(query)
}

// splitChunks cuts s into pieces of at most size bytes without splitting
// a UTF-8 sequence.
func splitChunks(s string, size int) []string {
	if size <= 0 || len(s) <= size {
		return []string{s}
	}
	var out []string
	for len(s) > 0 {
		n := size
		if n >= len(s) {
			out = append(out, s)
			break
		}
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		if n == 0 {
			// A single rune longer than size.
			_, n = utf8.DecodeRuneInString(s)
		}
		out = append(out, s[:n])
		s = s[n:]
	}
	return out
}

func mustRaw(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
