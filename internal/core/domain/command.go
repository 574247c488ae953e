package domain

import "fmt"

type CommandKind string

const (
	COMMAND_WRITE  CommandKind = "write"
	COMMAND_INVOKE CommandKind = "invoke"
)

// Command is one step of a dialect command sequence. A write targets a
// capability binding, an invoke calls a named remote procedure.
type Command struct {
	Step      string
	Kind      CommandKind
	Handle    string
	Value     string
	Procedure string
	Params    map[string]any
}

func WriteCommand(step, handle, value string) Command {
	return Command{
		Step:   step,
		Kind:   COMMAND_WRITE,
		Handle: handle,
		Value:  value,
	}
}

func InvokeCommand(step, procedure string, params map[string]any) Command {
	return Command{
		Step:      step,
		Kind:      COMMAND_INVOKE,
		Procedure: procedure,
		Params:    params,
	}
}

func (c Command) String() string {
	if c.Kind == COMMAND_INVOKE {
		return fmt.Sprintf("%s: invoke %s %v", c.Step, c.Procedure, c.Params)
	}
	return fmt.Sprintf("%s: write %s=%s", c.Step, c.Handle, c.Value)
}
