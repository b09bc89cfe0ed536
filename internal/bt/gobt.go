package bt

import (
	"context"
	"fmt"

	gobt "github.com/joeycumines/go-behaviortree"
)

// Node exposes the instance as a go-behaviortree node, so it can be driven
// by gobt.NewTicker or embedded in a larger gobt tree. inputs, if non-nil,
// is called at the start of every tick.
func (in *Instance) Node(ctx context.Context, inputs func() []Input) gobt.Node {
	tick := func([]gobt.Node) (gobt.Status, error) {
		var ins []Input
		if inputs != nil {
			ins = inputs()
		}
		st := in.Tick(ctx, ins...)
		if err := ctx.Err(); err != nil {
			return gobt.Failure, err
		}
		return toGobt(st), nil
	}
	return gobt.New(tick)
}

// ActFromNode wraps a go-behaviortree node as an action. The node is ticked
// once per visit; its error becomes a leaf error.
func ActFromNode(n gobt.Node) ActFunc {
	return func(*Leaf) (Status, error) {
		if n == nil {
			return Failure, fmt.Errorf("nil node")
		}
		st, err := n.Tick()
		if err != nil {
			return Failure, err
		}
		switch st {
		case gobt.Running:
			return Running, nil
		case gobt.Success:
			return Success, nil
		case gobt.Failure:
			return Failure, nil
		}
		return Failure, fmt.Errorf("unexpected go-behaviortree status %v", st)
	}
}

func toGobt(st Status) gobt.Status {
	switch st {
	case Running:
		return gobt.Running
	case Success:
		return gobt.Success
	}
	return gobt.Failure
}
