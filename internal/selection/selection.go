// Package selection builds the request-side field tree that drives one
// execution pass. A tree is parsed once per request, owned by that pass,
// and discarded with it.
package selection

import (
	"fmt"
	"strconv"

	language "github.com/gqlbatch/gqlbatch/internal/language"
)

// Node is one requested field: its name, an optional alias, literal
// arguments, and the ordered child selections.
type Node struct {
	Field     string
	Alias     string
	Arguments map[string]any
	Children  []*Node
}

// ResponseName returns the key this node occupies in the output tree.
func (n *Node) ResponseName() string {
	if n.Alias != "" {
		return n.Alias
	}
	return n.Field
}

// DuplicateSelectionError reports two sibling fields competing for the same
// response name. Aliased fields must have distinct aliases; unaliased fields
// must have distinct names.
type DuplicateSelectionError struct {
	ResponseName string
}

func (e *DuplicateSelectionError) Error() string {
	return fmt.Sprintf("duplicate selection %q among siblings", e.ResponseName)
}

// VariableNotSupportedError reports a variable reference in an argument.
// Arguments are literal values only.
type VariableNotSupportedError struct {
	Name string
}

func (e *VariableNotSupportedError) Error() string {
	return fmt.Sprintf("variable $%s is not supported; arguments must be literals", e.Name)
}

// UnsupportedSelectionError reports a fragment spread or inline fragment.
type UnsupportedSelectionError struct {
	Kind string
}

func (e *UnsupportedSelectionError) Error() string {
	return fmt.Sprintf("%s selections are not supported", e.Kind)
}

// Parse parses a query source and builds its selection tree.
func Parse(query string) ([]*Node, error) {
	doc, err := language.ParseQuery(query)
	if err != nil {
		return nil, err
	}
	return FromQuery(doc)
}

// FromQuery builds a selection tree from a parsed query document. The
// document must contain exactly one operation and it must be a query.
func FromQuery(doc *language.QueryDocument) ([]*Node, error) {
	if len(doc.Operations) != 1 {
		return nil, fmt.Errorf("expected exactly one operation, got %d", len(doc.Operations))
	}
	op := doc.Operations[0]
	if op.Operation != language.Query {
		return nil, fmt.Errorf("unsupported operation type %q", op.Operation)
	}
	if len(op.VariableDefinitions) > 0 {
		return nil, &VariableNotSupportedError{Name: op.VariableDefinitions[0].Variable}
	}
	return fromSelectionSet(op.SelectionSet)
}

func fromSelectionSet(set language.SelectionSet) ([]*Node, error) {
	nodes := make([]*Node, 0, len(set))
	seen := make(map[string]struct{}, len(set))
	for _, sel := range set {
		field, ok := sel.(*language.Field)
		if !ok {
			switch sel.(type) {
			case *language.InlineFragment:
				return nil, &UnsupportedSelectionError{Kind: "inline fragment"}
			case *language.FragmentSpread:
				return nil, &UnsupportedSelectionError{Kind: "fragment spread"}
			default:
				return nil, &UnsupportedSelectionError{Kind: "unknown"}
			}
		}

		node := &Node{Field: field.Name}
		if field.Alias != "" && field.Alias != field.Name {
			node.Alias = field.Alias
		}
		if _, dup := seen[node.ResponseName()]; dup {
			return nil, &DuplicateSelectionError{ResponseName: node.ResponseName()}
		}
		seen[node.ResponseName()] = struct{}{}

		args, err := fromArguments(field.Arguments)
		if err != nil {
			return nil, err
		}
		node.Arguments = args

		children, err := fromSelectionSet(field.SelectionSet)
		if err != nil {
			return nil, err
		}
		node.Children = children

		nodes = append(nodes, node)
	}
	return nodes, nil
}

func fromArguments(args language.ArgumentList) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for _, arg := range args {
		v, err := literalValue(arg.Value)
		if err != nil {
			return nil, err
		}
		out[arg.Name] = v
	}
	return out, nil
}

// literalValue converts an AST literal to a Go value.
func literalValue(value *language.Value) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch value.Kind {
	case language.Variable:
		return nil, &VariableNotSupportedError{Name: value.Raw}
	case language.IntValue:
		iv, err := strconv.Atoi(value.Raw)
		if err != nil {
			return nil, fmt.Errorf("invalid int literal %q", value.Raw)
		}
		return iv, nil
	case language.FloatValue:
		fv, err := strconv.ParseFloat(value.Raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float literal %q", value.Raw)
		}
		return fv, nil
	case language.StringValue, language.BlockValue, language.EnumValue:
		return value.Raw, nil
	case language.BooleanValue:
		return value.Raw == "true", nil
	case language.NullValue:
		return nil, nil
	case language.ListValue:
		items := make([]any, 0, len(value.Children))
		for _, child := range value.Children {
			cv, err := literalValue(child.Value)
			if err != nil {
				return nil, err
			}
			items = append(items, cv)
		}
		return items, nil
	case language.ObjectValue:
		obj := make(map[string]any, len(value.Children))
		for _, child := range value.Children {
			cv, err := literalValue(child.Value)
			if err != nil {
				return nil, err
			}
			obj[child.Name] = cv
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported value kind %d", value.Kind)
	}
}
