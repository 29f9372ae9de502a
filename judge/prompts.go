package judge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/taskforge-ai/taskforge/workflow"
)

// systemPrompt instructs the model to score without making the routing
// decision; gating happens in code.
const systemPrompt = `You are a quality judge scoring the output of one automated task.

Score three dimensions, each from 0.0 to 1.0:

- "format": is the output well-structured and in the expected shape?
- "completeness": does it fully cover what the task asked for?
- "relevance": does it actually serve the task and the guidelines?

Do NOT decide approval. Report only the scores, your reasoning, and an
optional suggested action if the output falls short.

Respond with ONLY a JSON object:

{
  "format": 0.9,
  "completeness": 0.8,
  "relevance": 0.85,
  "reasoning": "why these scores",
  "suggested_action": "optional remediation hint"
}`

// assessmentPrompt renders the task, its output, and the guidelines.
func assessmentPrompt(task workflow.Task, result workflow.WorkerResult, guidelines string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Task\n\n%s\n", task.Description)

	if len(task.Parameters) > 0 {
		if params, err := json.Marshal(task.Parameters); err == nil {
			fmt.Fprintf(&b, "\n## Task parameters\n\n```json\n%s\n```\n", params)
		}
	}

	fmt.Fprintf(&b, "\n## Guidelines\n\n%s\n", guidelines)
	fmt.Fprintf(&b, "\n## Output to assess\n\n```json\n%s\n```\n", result.Output)
	fmt.Fprintf(&b, "\nExecution took %.1f seconds.\n", result.ExecutionSeconds)

	return b.String()
}
