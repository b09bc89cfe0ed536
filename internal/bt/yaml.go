package bt

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/unswei/muesli-bt-sub004/internal/value"
)

// yamlNode is the on-disk form of a Def:
//
//	type: reactive_seq
//	name: guard
//	children:
//	  - type: cond
//	    expr: battery > 0.2
//	  - type: repeat
//	    n: 3
//	    child: {type: act, fn: step}
type yamlNode struct {
	Type     string         `yaml:"type"`
	Name     string         `yaml:"name"`
	Fn       string         `yaml:"fn"`
	Expr     string         `yaml:"expr"`
	N        int            `yaml:"n"`
	Args     []any          `yaml:"args"`
	Child    *yamlNode      `yaml:"child"`
	Children []yamlNode     `yaml:"children"`
	Options  map[string]any `yaml:"options"`
}

// LoadYAML decodes a tree definition. Unknown fields are errors. The result
// still has to be compiled.
func LoadYAML(r io.Reader) (Def, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var root yamlNode
	if err := dec.Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			return Def{}, errors.New("bt: empty tree definition")
		}
		return Def{}, fmt.Errorf("bt: decode tree: %w", err)
	}
	return root.def("tree")
}

// ParseYAML is LoadYAML over a byte slice.
func ParseYAML(data []byte) (Def, error) { return LoadYAML(bytes.NewReader(data)) }

func (y *yamlNode) def(path string) (Def, error) {
	kind, ok := ParseKind(y.Type)
	if !ok {
		return Def{}, fmt.Errorf("bt: %s: unknown node type %q", path, y.Type)
	}
	d := Def{Kind: kind, Name: y.Name, Fn: y.Fn, Expr: y.Expr, N: y.N}
	for i, a := range y.Args {
		v, err := value.FromAny(a)
		if err != nil {
			return Def{}, fmt.Errorf("bt: %s: args[%d]: %w", path, i, err)
		}
		d.Args = append(d.Args, v)
	}
	if len(y.Options) > 0 {
		d.Options = make(map[string]value.Value, len(y.Options))
		for k, o := range y.Options {
			v, err := value.FromAny(o)
			if err != nil {
				return Def{}, fmt.Errorf("bt: %s: options.%s: %w", path, k, err)
			}
			d.Options[k] = v
		}
	}
	if y.Child != nil {
		if len(y.Children) > 0 {
			return Def{}, fmt.Errorf("bt: %s: child and children are mutually exclusive", path)
		}
		c, err := y.Child.def(path + ".child")
		if err != nil {
			return Def{}, err
		}
		d.Children = []Def{c}
	}
	for i := range y.Children {
		c, err := y.Children[i].def(fmt.Sprintf("%s.children[%d]", path, i))
		if err != nil {
			return Def{}, err
		}
		d.Children = append(d.Children, c)
	}
	return d, nil
}
