// Package bt is a behaviour tree engine with a split between an immutable
// compiled Graph and the mutable Instance that ticks it.
//
// # Trees
//
// A tree is built from Def values, either with the constructors (Seq, Sel,
// ReactiveSeq, Invert, Repeat, Retry, Cond, Expr, Act, AsyncAct,
// PlanAction) or from YAML via LoadYAML, and compiled against a Registry of
// host functions:
//
//	reg := bt.NewRegistry().
//		RegisterCond("battery-ok", batteryOK).
//		RegisterAct("dock", dock)
//	g, err := bt.Compile(bt.Sel(bt.Cond("battery-ok"), bt.Act("dock")), reg)
//
// Compile rejects unknown functions, bad arities of decorators and
// composites, duplicate names and malformed options with a *CompileError.
//
// # Ticking
//
// Instance.Tick evaluates the tree once on the calling goroutine. Seq and
// Sel resume at the child that was running; ReactiveSeq re-checks from the
// first child every tick and halts running children to the right of a
// child that fails or runs. Halting cancels scheduler tasks and, per
// HaltPolicy, clears Repeat and Retry counters.
//
// Host functions never fail a tick. A returned error or a panic fails the
// leaf and is recorded as a TraceMisuse record in LastTrace.
//
// A second Tick entered while one is in progress is rejected: it returns
// Failure, increments Stats().RejectedTicks and leaves state untouched.
//
// # Async actions
//
// AsyncAct submits work to a Scheduler on its first visit and polls on the
// following ticks; the result is written to the result_key option, on the
// tick goroutine, once the task completes.
//
// # Planning
//
// PlanAction calls a Planner with a planner.request.v1 assembled from its
// options:
//
//	planner, model_service, budget_ms, seed, work_max, state, mcts, mppi,
//	ilqr   copied into the request
//	state_key   blackboard key holding the state (exclusive with state)
//	action_key  blackboard key receiving the action map {action_schema, u}
//	            (required)
//	meta_key    blackboard key receiving the whole result
//	seed_key    overrides the node name in seed derivation
//	inputs      map of request field path (dotted) to blackboard key
//	fallback_u  u written, with the model's action_schema, when the planner
//	            returns no action
//	warm_start  feed the shifted nominal sequence back as u_init
//
// The node succeeds when the planner status is ok and fails otherwise.
package bt
