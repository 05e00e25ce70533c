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

// Package wizard implements the four-step infrastructure profile form: the
// collected field values, per-step validation and navigation between steps.
// It has no rendering or transport dependencies.
package wizard

import (
	"errors"
	"fmt"
	"strings"

	"github.com/your-org/infra-advisor/internal/catalog"
)

var (
	// ErrUnknownCategory is returned when a selection targets a category the catalog does not define
	ErrUnknownCategory = errors.New("unknown category")
	// ErrUnknownOption is returned when a selection value is not offered by its category
	ErrUnknownOption = errors.New("unknown option")
)

// Step is a wizard position in [StepEnvironment, StepReview]
type Step int

const (
	// StepEnvironment selects the main environment
	StepEnvironment Step = iota + 1
	// StepTechnologies selects tools per category
	StepTechnologies
	// StepScenario collects the free-text problem description
	StepScenario
	// StepReview shows the collected profile before submission
	StepReview
)

// FirstStep and LastStep bound the valid step range
const (
	FirstStep = StepEnvironment
	LastStep  = StepReview
)

var stepTitles = map[Step]string{
	StepEnvironment:  "Environment",
	StepTechnologies: "Technologies",
	StepScenario:     "Scenario",
	StepReview:       "Generate",
}

// Title returns the label shown in the step indicator
func (s Step) Title() string {
	return stepTitles[s]
}

// Valid reports whether s is inside the wizard range
func (s Step) Valid() bool {
	return s >= FirstStep && s <= LastStep
}

// Field names a form field that can carry a validation message
type Field string

const (
	// FieldMainEnvironment is validated on the environment step
	FieldMainEnvironment Field = catalog.MainEnvironment
	// FieldScenario is validated on the scenario step
	FieldScenario Field = "scenario"
)

// Validation messages
const (
	MsgMainEnvironmentRequired = "Please select the main environment."
	MsgScenarioRequired        = "Please describe your question or scenario."
)

// Errors maps a field to its validation message
type Errors map[Field]string

// Has reports whether the field currently carries a message
func (e Errors) Has(f Field) bool {
	_, ok := e[f]
	return ok
}

// FormState holds the values collected by the wizard
type FormState struct {
	MainEnvironment string                        `json:"main_environment"`
	Selections      map[catalog.Category][]string `json:"selections,omitempty"`
	Scenario        string                        `json:"scenario"`
}

// Selected returns the chosen options of a category in catalog order
func (f FormState) Selected(c catalog.Category) []string {
	chosen := f.Selections[c]
	if len(chosen) == 0 {
		return nil
	}
	g, ok := catalog.Lookup(c)
	if !ok {
		return nil
	}

	set := make(map[string]struct{}, len(chosen))
	for _, v := range chosen {
		set[v] = struct{}{}
	}
	out := make([]string, 0, len(chosen))
	for _, o := range g.Options {
		if _, ok := set[o]; ok {
			out = append(out, o)
		}
	}
	return out
}

// IsSelected reports whether value is chosen in the category
func (f FormState) IsSelected(c catalog.Category, value string) bool {
	for _, v := range f.Selections[c] {
		if v == value {
			return true
		}
	}
	return false
}

// toggle adds value when absent and removes it when present
func (f *FormState) toggle(c catalog.Category, value string) {
	if f.Selections == nil {
		f.Selections = make(map[catalog.Category][]string)
	}
	current := f.Selections[c]
	for i, v := range current {
		if v == value {
			next := append(current[:i:i], current[i+1:]...)
			if len(next) == 0 {
				delete(f.Selections, c)
			} else {
				f.Selections[c] = next
			}
			return
		}
	}
	f.Selections[c] = append(current, value)
}

// Wizard is the form state machine. The zero value is not ready; use New.
type Wizard struct {
	Step   Step      `json:"step"`
	Form   FormState `json:"form"`
	Errors Errors    `json:"errors,omitempty"`
}

// New returns a wizard positioned on the first step with an empty form
func New() *Wizard {
	return &Wizard{
		Step:   FirstStep,
		Errors: Errors{},
	}
}

// Validate checks the required fields of step and replaces the error set with
// the outcome. It reports whether the step is valid.
func (w *Wizard) Validate(step Step) bool {
	errs := Errors{}
	switch step {
	case StepEnvironment:
		if w.Form.MainEnvironment == "" {
			errs[FieldMainEnvironment] = MsgMainEnvironmentRequired
		}
	case StepScenario:
		if strings.TrimSpace(w.Form.Scenario) == "" {
			errs[FieldScenario] = MsgScenarioRequired
		}
	}
	w.Errors = errs
	return len(errs) == 0
}

// Next validates the current step and advances when it passes.
// On the last step a successful validation leaves the position unchanged.
func (w *Wizard) Next() bool {
	if !w.Validate(w.Step) {
		return false
	}
	if w.Step < LastStep {
		w.Step++
	}
	return true
}

// Prev moves back one step. Validation errors are left as they are.
func (w *Wizard) Prev() {
	if w.Step > FirstStep {
		w.Step--
	}
}

// JumpTo moves to an already completed step and clears all errors.
// Jumps to the current or a later step are refused.
func (w *Wizard) JumpTo(step Step) bool {
	if !step.Valid() || step >= w.Step {
		return false
	}
	w.Errors = Errors{}
	w.Step = step
	return true
}

// SelectOption replaces the main environment or toggles a multi-select option
func (w *Wizard) SelectOption(category, value string) error {
	if category == catalog.MainEnvironment {
		if !catalog.IsEnvironment(value) {
			return fmt.Errorf("%w: %q for %s", ErrUnknownOption, value, category)
		}
		w.Form.MainEnvironment = value
		if w.Form.MainEnvironment != "" {
			w.clearError(FieldMainEnvironment)
		}
		return nil
	}

	c := catalog.Category(category)
	if _, ok := catalog.Lookup(c); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}
	if !catalog.HasOption(c, value) {
		return fmt.Errorf("%w: %q for %s", ErrUnknownOption, value, category)
	}
	w.Form.toggle(c, value)
	return nil
}

// EditScenario stores the text verbatim
func (w *Wizard) EditScenario(text string) {
	w.Form.Scenario = text
	if strings.TrimSpace(text) != "" {
		w.clearError(FieldScenario)
	}
}

// ValidateForSubmit re-checks the environment and scenario steps, stopping at the first failure
func (w *Wizard) ValidateForSubmit() bool {
	return w.Validate(StepEnvironment) && w.Validate(StepScenario)
}

// ShowCloudProviders reports whether the cloud provider group is visible on the technology step
func (w *Wizard) ShowCloudProviders() bool {
	return catalog.InvolvesCloud(w.Form.MainEnvironment)
}

// Completed reports whether step lies before the current position
func (w *Wizard) Completed(step Step) bool {
	return step < w.Step
}

// Reset returns the wizard to its initial state
func (w *Wizard) Reset() {
	*w = *New()
}

func (w *Wizard) clearError(f Field) {
	if w.Errors != nil {
		delete(w.Errors, f)
	}
}

// StepInfo describes one entry of the step indicator
type StepInfo struct {
	Number    Step   `json:"number"`
	Title     string `json:"title"`
	Current   bool   `json:"current"`
	Completed bool   `json:"completed"`
}

// Steps returns the step indicator entries
func (w *Wizard) Steps() []StepInfo {
	out := make([]StepInfo, 0, int(LastStep))
	for s := FirstStep; s <= LastStep; s++ {
		out = append(out, StepInfo{
			Number:    s,
			Title:     s.Title(),
			Current:   s == w.Step,
			Completed: w.Completed(s),
		})
	}
	return out
}

// ReviewRow is one line of the review step
type ReviewRow struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

// Review lists the main environment and every non-empty category
func (w *Wizard) Review() []ReviewRow {
	var rows []ReviewRow
	if w.Form.MainEnvironment != "" {
		rows = append(rows, ReviewRow{Title: "Main Environment", Value: w.Form.MainEnvironment})
	}
	for _, g := range catalog.Groups() {
		selected := w.Form.Selected(g.Category)
		if len(selected) == 0 {
			continue
		}
		rows = append(rows, ReviewRow{Title: g.ReviewTitle, Value: strings.Join(selected, ", ")})
	}
	return rows
}
