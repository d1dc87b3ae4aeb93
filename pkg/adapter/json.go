package adapter

import "strings"

// ExtractJSON removes markdown code fences from a model response and
// extracts the first balanced JSON object or array. The model is asked for
// pure JSON but occasionally wraps it in prose or ```json fences; this is
// the best-effort recovery path before a caller declares a parse failure.
func ExtractJSON(response string) string {
	response = removeMarkdownCodeBlocks(response)

	if jsonStart := findJSONStart(response); jsonStart >= 0 {
		response = response[jsonStart:]
		if jsonEnd := findJSONEnd(response); jsonEnd >= 0 {
			response = response[:jsonEnd+1]
		}
	}

	return response
}

func removeMarkdownCodeBlocks(s string) string {
	start := 0
	for {
		idx := strings.Index(s[start:], "```")
		if idx < 0 {
			break
		}
		idx += start
		endIdx := strings.Index(s[idx+3:], "```")
		if endIdx < 0 {
			break
		}
		endIdx += idx + 3

		// Drop the language identifier line (e.g. "json")
		content := s[idx+3 : endIdx]
		if newlineIdx := strings.Index(content, "\n"); newlineIdx >= 0 {
			content = content[newlineIdx+1:]
		}

		s = s[:idx] + content + s[endIdx+3:]
		start = idx + len(content)
	}
	return s
}

func findJSONStart(s string) int {
	for i, c := range s {
		if c == '{' || c == '[' {
			return i
		}
	}
	return -1
}

func findJSONEnd(s string) int {
	depth := 0
	inString := false
	escape := false

	for i, c := range s {
		if escape {
			escape = false
			continue
		}

		if c == '\\' {
			escape = true
			continue
		}

		if c == '"' {
			inString = !inString
			continue
		}

		if inString {
			continue
		}

		if c == '{' || c == '[' {
			depth++
		} else if c == '}' || c == ']' {
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
