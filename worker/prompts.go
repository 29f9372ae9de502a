package worker

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/taskforge-ai/taskforge/workflow"
)

// computationSystemPrompt instructs the model to perform a local data
// transformation and answer with a JSON object.
const computationSystemPrompt = `You are a worker agent executing one computation task. Use the task
description, its parameters, and the outputs of prerequisite tasks to
produce the result.

Respond with ONLY a JSON object holding the computed result. Do not add
commentary outside the JSON.`

// validationSystemPrompt instructs the model to check prior output.
const validationSystemPrompt = `You are a worker agent executing one validation task. Check the outputs
of the prerequisite tasks against the task description.

Respond with ONLY a JSON object:

{"valid": true, "issues": [], "summary": "what was checked"}

Set "valid" to false and list concrete "issues" when the checked output
falls short.`

// taskPrompt renders the task and its prerequisite outputs as the user
// message.
func taskPrompt(task workflow.Task, priorOutputs map[string]json.RawMessage) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Task\n\n%s\n", task.Description)

	if len(task.Parameters) > 0 {
		if params, err := json.Marshal(task.Parameters); err == nil {
			fmt.Fprintf(&b, "\n## Parameters\n\n```json\n%s\n```\n", params)
		}
	}

	if len(task.DependsOn) > 0 {
		b.WriteString("\n## Prerequisite outputs\n")
		for _, dep := range task.DependsOn {
			output, ok := priorOutputs[dep]
			if !ok {
				fmt.Fprintf(&b, "\n### %s\n\n(no output recorded)\n", dep)
				continue
			}
			fmt.Fprintf(&b, "\n### %s\n\n```json\n%s\n```\n", dep, output)
		}
	}

	return b.String()
}
