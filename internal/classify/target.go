package classify

import "fmt"

// TargetKind discriminates the RouteTarget union
type TargetKind int

const (
	TargetAgent TargetKind = iota
	TargetWorkflow
	TargetTool
	TargetDocCommand
	TargetSlashCommand
)

func (k TargetKind) String() string {
	switch k {
	case TargetWorkflow:
		return "workflow"
	case TargetTool:
		return "tool"
	case TargetDocCommand:
		return "doc"
	case TargetSlashCommand:
		return "slash"
	default:
		return "agent"
	}
}

// RouteTarget is a tagged union: exactly one variant is active,
// selected by Kind. WorkflowID, ToolID and Command are only
// meaningful for their respective kinds.
type RouteTarget struct {
	Kind       TargetKind
	WorkflowID string
	ToolID     string
	Command    string
}

func Workflow(id string) RouteTarget {
	return RouteTarget{Kind: TargetWorkflow, WorkflowID: id}
}

func Tool(id string) RouteTarget {
	return RouteTarget{Kind: TargetTool, ToolID: id}
}

func DocCommand() RouteTarget {
	return RouteTarget{Kind: TargetDocCommand}
}

func SlashCommand(cmd string) RouteTarget {
	return RouteTarget{Kind: TargetSlashCommand, Command: cmd}
}

func Agent() RouteTarget {
	return RouteTarget{Kind: TargetAgent}
}

func (t RouteTarget) String() string {
	switch t.Kind {
	case TargetWorkflow:
		return fmt.Sprintf("workflow(%s)", t.WorkflowID)
	case TargetTool:
		return fmt.Sprintf("tool(%s)", t.ToolID)
	case TargetSlashCommand:
		return fmt.Sprintf("slash(%s)", t.Command)
	default:
		return t.Kind.String()
	}
}
