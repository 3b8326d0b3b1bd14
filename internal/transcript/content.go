package transcript

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

const toolInputSummaryLen = 120

// FlattenContent extracts indexable text from message content.
// content is either a JSON string or an array of typed blocks
// (text, thinking, tool_use, tool_result).
func FlattenContent(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.Str
	}
	if !content.IsArray() {
		return ""
	}

	var parts []string
	content.ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").Str {
		case "text":
			if t := block.Get("text").Str; t != "" {
				parts = append(parts, t)
			}
		case "thinking":
			if t := block.Get("thinking").Str; t != "" {
				parts = append(parts, t)
			}
		case "tool_use":
			parts = append(parts, formatToolUse(block))
		case "tool_result":
			if t := toolResultText(block.Get("content")); t != "" {
				parts = append(parts, t)
			}
		}
		return true
	})
	return strings.Join(parts, "\n")
}

// formatToolUse renders a tool_use block as the tool name plus a
// short summary of its input, so tool invocations stay findable
// through full-text search.
func formatToolUse(block gjson.Result) string {
	name := block.Get("name").Str
	if name == "" {
		return "[Tool]"
	}

	input := block.Get("input")
	summary := toolInputSummary(name, input)
	if summary == "" {
		return fmt.Sprintf("[Tool: %s]", name)
	}
	return fmt.Sprintf("[Tool: %s] %s", name, summary)
}

// toolInputSummary picks the most identifying input field for the
// common tools and falls back to the raw input JSON, clipped.
func toolInputSummary(name string, input gjson.Result) string {
	var s string
	switch name {
	case "Read", "Edit", "Write":
		s = input.Get("file_path").Str
	case "Bash":
		s = input.Get("command").Str
	case "Glob", "Grep":
		s = input.Get("pattern").Str
	case "Task":
		s = input.Get("description").Str
	case "WebFetch":
		s = input.Get("url").Str
	default:
		s = input.Raw
		if s == "{}" || s == "null" {
			s = ""
		}
	}
	return clip(s, toolInputSummaryLen)
}

// toolResultText flattens tool_result content, which can be a
// plain string or an array of text blocks.
func toolResultText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.Str
	}
	if !content.IsArray() {
		return ""
	}
	var parts []string
	content.ForEach(func(_, block gjson.Result) bool {
		if t := block.Get("text").Str; t != "" {
			parts = append(parts, t)
		}
		return true
	})
	return strings.Join(parts, "\n")
}

func clip(s string, maxLen int) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
