package component

import (
	"fmt"
	"strings"
)

// Dump renders the structure of a tree as indented text, one node per line.
// Bound properties show their template source.
func Dump(n *Node) string {
	var sb strings.Builder
	dump(&sb, n, 0)

	return sb.String()
}

func dump(sb *strings.Builder, n *Node, depth int) {
	indent := strings.Repeat("  ", depth)

	switch {
	case IsText(n):
		v, _ := TextValue(n)
		fmt.Fprintf(sb, "%s%q\n", indent, v)

		return
	case n.kind == Literal:
		if t, ok := n.Binding(PropValue); ok {
			fmt.Fprintf(sb, "%s%s\n", indent, t.Source())
		} else {
			v, _ := n.Prop(PropValue)
			fmt.Fprintf(sb, "%s=%v\n", indent, v)
		}

		return
	}

	fmt.Fprintf(sb, "%s<%s", indent, n.tag)
	var holders []string
	for _, name := range n.PropNames() {
		if t, ok := n.Binding(name); ok {
			fmt.Fprintf(sb, " %s=%s", name, t.Source())

			continue
		}
		switch v := n.props[name].(type) {
		case *Node, []*Node:
			holders = append(holders, name)
		default:
			fmt.Fprintf(sb, " %s=%q", name, fmt.Sprint(v))
		}
	}
	if n.inactive {
		sb.WriteString(" (inactive)")
	}
	sb.WriteString(">\n")

	for _, name := range holders {
		fmt.Fprintf(sb, "%s  @%s:\n", indent, name)
		switch v := n.props[name].(type) {
		case *Node:
			dump(sb, v, depth+2)
		case []*Node:
			for _, item := range v {
				dump(sb, item, depth+2)
			}
		}
	}
	for _, c := range n.children {
		dump(sb, c, depth+1)
	}
}
