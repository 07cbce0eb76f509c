package agent

import "github.com/hupe1980/evalmesh/internal/util"

// Provider supplies the system prompt for a task at run time.
type Provider interface {
	Instruction(task Task) (string, error)
}

// Func is a functional adapter to allow ordinary functions to be used as Providers.
type Func func(task Task) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(task Task) (string, error) { return f(task) }

// Instruction represents either a static system prompt or a dynamic provider.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a static string.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromTemplate creates an Instruction rendered against the
// task variables with text/template.
func NewInstructionFromTemplate(tmpl string) Instruction {
	return NewInstructionFromFunc(func(task Task) (string, error) {
		return util.RenderTemplate(tmpl, task.Vars)
	})
}

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(task Task) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// IsStatic returns true if the instruction is backed by a static string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// Resolve returns the system prompt, invoking the provider if needed.
func (i Instruction) Resolve(task Task) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(task)
	}
	return i.text, nil
}
