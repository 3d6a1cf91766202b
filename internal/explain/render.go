package explain

import (
	"fmt"
	"strings"
)

// RenderASCII draws the template as an ASCII tree, one line per node
// occurrence. When inst is non-nil each line also shows the value the node
// took for that record. Shared subtrees render once per occurrence.
func RenderASCII(t *Template, inst *Instance) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Field: %s\n", t.Field))
	sb.WriteString(fmt.Sprintf("Formula: %s\n", t.Formula))
	if inst != nil {
		sb.WriteString(fmt.Sprintf("Record: %s\n", inst.RecordKey))
	}
	sb.WriteString(strings.Repeat("=", 60) + "\n")

	renderNodeASCII(&sb, t, inst, t.RootID, "", true)
	return sb.String()
}

func renderNodeASCII(sb *strings.Builder, t *Template, inst *Instance, id, prefix string, isLast bool) {
	connector := "├── "
	if isLast {
		connector = "└── "
	}

	node, ok := t.node(id)
	if !ok {
		sb.WriteString(fmt.Sprintf("%s%s<missing %s>\n", prefix, connector, id))
		return
	}

	line := nodeLabel(node)
	if inst != nil {
		if v, bound := inst.Values[id]; bound {
			line += " = " + v.String()
		}
	}
	sb.WriteString(fmt.Sprintf("%s%s%s\n", prefix, connector, line))

	childPrefix := prefix
	if isLast {
		childPrefix += "    "
	} else {
		childPrefix += "│   "
	}

	for i, child := range node.Children {
		renderNodeASCII(sb, t, inst, child, childPrefix, i == len(node.Children)-1)
	}
}

// nodeLabel decorates the stored label by kind so field references and
// function calls read the way they do in formula source.
func nodeLabel(n Node) string {
	switch n.Kind {
	case NodeFieldRef:
		return "{{" + n.Label + "}}"
	case NodeFn:
		return n.Label + "()"
	default:
		return n.Label
	}
}
