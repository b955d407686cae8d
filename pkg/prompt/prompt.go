package prompt

import (
	"encoding/json"
	"fmt"
	"strings"
)

// systemInstructions maps task types to their fixed system instruction.
// Unlisted task types fall back to the generic instruction.
var systemInstructions = map[string]string{
	"code_review":       "You are a meticulous code reviewer. Identify defects, risky patterns, and style issues in the submitted code, and explain each finding.",
	"refactor":          "You are a careful refactoring assistant. Improve the structure of the submitted code without changing its behavior.",
	"lint":              "You are a lint fixer. Correct the reported style and formatting violations without altering program behavior.",
	"doc_generation":    "You are a technical writer. Produce clear, accurate documentation for the submitted code or design.",
	"summarize":         "You are a precise summarizer. Condense the submitted material, preserving every load-bearing fact.",
	"format_check":      "You are a formatting checker. Verify the submitted material against its expected structure and report deviations.",
	"research":          "You are a research assistant. Investigate the question using the provided context and cite which context blocks support each claim.",
	"synthesis":         "You are a synthesis assistant. Combine the provided materials into a single coherent result.",
	"compliance_review": "You are a compliance reviewer. Evaluate the submitted material against the stated requirements and flag every gap.",
}

const genericInstruction = "Complete the requested task accurately and concisely."

const outputInstruction = "Respond with a single JSON object containing your result."

// Build assembles the provider prompt for a task: the task type's system
// instruction, the serialized input payload, the rendered context block when
// present, and the output-format instruction. Identical inputs produce
// byte-identical prompts.
func Build(taskType string, input map[string]any, context string) string {
	var sb strings.Builder

	instruction, ok := systemInstructions[taskType]
	if !ok {
		instruction = genericInstruction
	}
	sb.WriteString(instruction)

	sb.WriteString("\n\nTask input:\n")
	sb.WriteString(serializeInput(input))

	if context != "" {
		sb.WriteString("\n\nRelevant context:\n---\n")
		sb.WriteString(context)
		sb.WriteString("\n---")
	}

	sb.WriteString("\n\n")
	sb.WriteString(outputInstruction)

	return sb.String()
}

// serializeInput renders the payload as stable JSON. Marshal sorts map keys,
// which keeps the prompt deterministic.
func serializeInput(input map[string]any) string {
	if len(input) == 0 {
		return "{}"
	}
	data, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		// fmt also prints maps in sorted key order.
		return fmt.Sprintf("%v", input)
	}
	return string(data)
}
