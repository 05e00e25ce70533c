// Copyright 2024 AI SA Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package prompt turns a completed wizard form into the instruction sent to
// the model when a consultation starts.
package prompt

import (
	"strings"

	"github.com/your-org/infra-advisor/internal/catalog"
	"github.com/your-org/infra-advisor/internal/wizard"
)

// NotSpecified stands in for an empty main environment
const NotSpecified = "Not specified"

const persona = `Act as a Senior Infrastructure Engineer and Solutions Architect with more than 15 years of hands-on experience designing, implementing and managing complex, secure and scalable IT environments. Your expertise covers both traditional infrastructure (On-Premise) and modern Cloud ecosystems and DevOps practices. Your mission is to provide high-level technical consulting. Analyze the user's scenario, technology and question to deliver a detailed, structured and actionable answer, always considering best practices for security, performance, resilience and cost optimization.`

const responseFormat = "FORMAT OF THE ANSWER (MANDATORY):\n" +
	"Strictly follow the structure below, using markdown for formatting. For code blocks, use the ``` syntax (e.g. ```yaml).\n" +
	"\n" +
	"**Diagnosis:**\n" +
	"Start with a paragraph summarizing your understanding of the problem and of the user's goal.\n" +
	"\n" +
	"**Recommended Solution:**\n" +
	"Present the solution in a clear and structured way. If it is an action plan, use a numbered list with the steps to follow.\n" +
	"\n" +
	"**Practical Examples:**\n" +
	"Where relevant, provide code examples (e.g. `main.tf` for Terraform, `playbook.yml` for Ansible, `deployment.yaml` for Kubernetes) or CLI commands.\n" +
	"\n" +
	"**Important Considerations:**\n" +
	"Add a \"Points of Attention\" section highlighting crucial aspects such as security, cost, scalability and maintenance.\n" +
	"\n" +
	"**Conclusion:**\n" +
	"Finish with a summary of the solution.\n"

// Build renders the consultation prompt for a form. The output depends only on
// the form contents: categories appear in catalog order and empty ones are omitted.
func Build(form wizard.FormState) string {
	var b strings.Builder

	b.WriteString(persona)
	b.WriteString("\n\n")
	b.WriteString(technicalContext(form))
	b.WriteString("\nUSER QUESTION/SCENARIO:\n")
	b.WriteString(form.Scenario)
	b.WriteString("\n---\n")
	b.WriteString(responseFormat)

	return b.String()
}

func technicalContext(form wizard.FormState) string {
	env := form.MainEnvironment
	if env == "" {
		env = NotSpecified
	}

	var b strings.Builder
	b.WriteString("\n---\nUSER TECHNICAL CONTEXT:\n")
	b.WriteString("- Main Environment: " + env + "\n")
	for _, g := range catalog.Groups() {
		selected := form.Selected(g.Category)
		if len(selected) == 0 {
			continue
		}
		b.WriteString("- " + g.PromptLabel + ": " + strings.Join(selected, ", ") + "\n")
	}
	b.WriteString("---\n")
	return b.String()
}
