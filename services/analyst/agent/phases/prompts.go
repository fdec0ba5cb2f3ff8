// Copyright (C) 2026 Driftwood AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package phases

import (
	"fmt"
	"strings"

	"github.com/driftwood-ai/analyst/services/analyst/agent"
	"github.com/driftwood-ai/analyst/services/analyst/llm"
)

const planSystemPrompt = `You are a senior data analyst planning an analysis.

Given a question and the schemas of the available datasets, produce a short
numbered plan of concrete analysis steps. Each step must be computable from
the datasets as described. Do not write code. Do not invent columns that are
not in the schemas. Keep the plan to at most six steps.`

const synthesisSystemPrompt = `You are an expert writing Starlark analysis code.

Rules:
- The datasets are predeclared variables. Each dataset is a list of dicts,
  one dict per row, keyed by column name.
- You may only use the listed capability modules. There are no imports; the
  modules are predeclared under their listed names. Anything else is
  unavailable: no filesystem, no network, no external packages.
- Put your findings in a variable named analysis_report: a list where each
  entry is a string or a dict with a "text" key plus any structured fields.
- If a chart helps, set a variable named visualization to a dict with
  "format" and "data" string entries. Otherwise do not set it.
- Plain Starlark only: no type annotations, no f-strings, no comprehensions
  over undefined names.

Respond with a single fenced code block and nothing else.`

const repairInstruction = `Your previous code failed. Study the error, fix the
cause, and return the complete corrected program. Do not repeat the failing
approach if the error indicates it cannot work.`

const narrativeSystemPrompt = `You are a data analyst explaining results to a
non-technical reader. Using only the findings provided, answer the user's
question in plain language. Lead with the answer, then the supporting
numbers. Do not mention code, execution, or tooling. Do not invent figures
that are not in the findings.`

const fallbackSystemPrompt = `You are a data analyst who could not complete an
analysis. Write a short, courteous message that:
1. Acknowledges you could not answer the question this time.
2. Restates the question as you understood it.
3. Suggests two or three rewordings or narrower questions likely to work.
Never mention errors, code, retries, or any internal detail.`

// describeDatasets renders the dataset schemas for prompt context.
func describeDatasets(task *agent.Task) string {
	if len(task.Datasets) == 0 {
		return "No datasets are loaded. Answer from computation alone."
	}
	var b strings.Builder
	b.WriteString("Available datasets:\n")
	for _, d := range task.Datasets {
		fmt.Fprintf(&b, "- %s\n", d.Summary)
	}
	return b.String()
}

// buildPlanMessages assembles the planner exchange.
func buildPlanMessages(task *agent.Task) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: planSystemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf("%s\nQuestion: %s", describeDatasets(task), task.Question)},
	}
}

// buildSynthesisMessages assembles the synthesizer exchange. When a
// prior failure exists the exchange becomes a repair call carrying the
// failing code and its error.
func buildSynthesisMessages(task *agent.Task, plan string, envNames []string, failure *agent.FailureContext) []llm.Message {
	var b strings.Builder
	b.WriteString(describeDatasets(task))
	fmt.Fprintf(&b, "\nCapability modules: %s\n", strings.Join(task.Capabilities, ", "))
	if len(envNames) > 0 {
		fmt.Fprintf(&b, "Predeclared variables: %s\n", strings.Join(envNames, ", "))
	}
	fmt.Fprintf(&b, "\nPlan:\n%s\n", plan)
	fmt.Fprintf(&b, "\nQuestion: %s\n", task.Question)

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: synthesisSystemPrompt},
		{Role: llm.RoleUser, Content: b.String()},
	}

	if failure != nil {
		repair := fmt.Sprintf("%s\n\nFailing code:\n```\n%s\n```\n\nError:\n%s",
			repairInstruction, failure.FailingCode, failure.Error)
		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: "```\n" + failure.FailingCode + "\n```"},
			llm.Message{Role: llm.RoleUser, Content: repair},
		)
	}
	return messages
}

// buildNarrativeMessages assembles the narration exchange from the
// structured report.
func buildNarrativeMessages(task *agent.Task, plan string, findings string) []llm.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", task.Question)
	if plan != "" {
		fmt.Fprintf(&b, "\nAnalysis plan:\n%s\n", plan)
	}
	fmt.Fprintf(&b, "\nFindings:\n%s", findings)

	return []llm.Message{
		{Role: llm.RoleSystem, Content: narrativeSystemPrompt},
		{Role: llm.RoleUser, Content: b.String()},
	}
}

// buildFallbackMessages assembles the fallback exchange.
func buildFallbackMessages(task *agent.Task) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: fallbackSystemPrompt},
		{Role: llm.RoleUser, Content: "Question: " + task.Question},
	}
}

// cannedFallbackMessage is the deterministic fallback used when the
// model itself is unavailable. It follows the same contract as the
// generated message: no internals, always an invitation to reword.
func cannedFallbackMessage(question string) string {
	return fmt.Sprintf("I wasn't able to complete this analysis. I understood your question as: %q. "+
		"Could you try rephrasing it, perhaps naming the specific columns or a narrower time range you care about?",
		question)
}
