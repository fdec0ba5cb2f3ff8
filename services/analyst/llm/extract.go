// Copyright (C) 2026 Driftwood AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"regexp"
	"strings"
)

// codeBlockPattern matches the first fenced code block in model output.
// The language tag is optional; models label Starlark variously.
var codeBlockPattern = regexp.MustCompile("(?s)```(?:starlark|python|star)?[ \t]*\n?(.*?)```")

// ExtractCodeBlock pulls executable source out of model output.
//
// Description:
//
//	Returns the contents of the first fenced code block. When the output
//	contains no fence, the trimmed raw text is returned with ok=false:
//	callers treat that text as the artifact source anyway, so an
//	unparsable response fails at execution rather than vanishing.
//
// Inputs:
//
//	output - The raw model output.
//
// Outputs:
//
//	string - The extracted source, trimmed.
//	bool - True if a fenced block was found.
func ExtractCodeBlock(output string) (string, bool) {
	match := codeBlockPattern.FindStringSubmatch(output)
	if match == nil {
		return strings.TrimSpace(output), false
	}
	return strings.TrimSpace(match[1]), true
}
