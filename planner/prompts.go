package planner

import (
	"fmt"
	"strings"
)

// SystemPrompt returns the system prompt for the planning role. It carries
// the JSON output format so every call, including corrective retries, has
// explicit format instructions.
func SystemPrompt(maxTasks int) string {
	return fmt.Sprintf(`You are a planning agent. You decompose a user goal into a small list of
executable tasks for automated workers.

## Task kinds

- "remote_call": invokes a named external tool. Requires "tool_name".
- "computation": local data transformation over prior task outputs.
- "validation": checks a prior task's output against the goal.

## Rules

- Produce between 1 and %d tasks.
- Every task needs a unique short "id" and an actionable "description".
- "depends_on" lists ids of tasks whose output this task needs. Dependencies
  must be acyclic. Leave it empty for independent tasks.
- "timeout_seconds" must be between 5 and 300. "retry_limit" between 0 and 3.
- Only use tool names from the available tools list. If the goal needs a
  capability no tool provides, refuse with "capability_missing".
- If the goal is too vague to plan, refuse with "goal_too_vague". If no task
  breakdown can achieve it, refuse with "no_viable_plan".

## Output Format

Respond with ONLY a JSON object:

`+"```json"+`
{
  "tasks": [
    {
      "id": "fetch",
      "kind": "remote_call",
      "description": "Fetch the source document",
      "tool_name": "document_fetcher",
      "parameters": {"url": "..."},
      "timeout_seconds": 60,
      "retry_limit": 2,
      "depends_on": []
    }
  ],
  "reasoning": "Why this breakdown achieves the goal",
  "estimated_minutes": 5,
  "confidence": 0.85
}
`+"```"+`

To refuse, respond instead with:

`+"```json"+`
{"refusal": "goal_too_vague", "reason": "explanation"}
`+"```", maxTasks)
}

// UserPrompt renders the goal with its context and constraints.
func UserPrompt(goal string, context map[string]string, constraints []string, tools []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Goal\n\n%s\n", goal)

	if len(context) > 0 {
		b.WriteString("\n## Context\n\n")
		for k, v := range context {
			fmt.Fprintf(&b, "- %s: %s\n", k, v)
		}
	}

	if len(constraints) > 0 {
		b.WriteString("\n## Constraints\n\n")
		for _, c := range constraints {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}

	b.WriteString("\n## Available tools\n\n")
	if len(tools) == 0 {
		b.WriteString("(none)\n")
	} else {
		for _, t := range tools {
			fmt.Fprintf(&b, "- %s\n", t)
		}
	}

	return b.String()
}
