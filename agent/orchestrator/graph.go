package orchestrator

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	"github.com/superbryn/callcore/agent/booking"
	contractx "github.com/superbryn/callcore/agent/contract"
	eventsx "github.com/superbryn/callcore/agent/events"
	statex "github.com/superbryn/callcore/agent/state"
)

// InvokeInput enters the tool-invocation graph after the session gate has
// passed. The session pointer is owned by the caller, which holds the
// per-session lock for the duration of the run.
type InvokeInput struct {
	Session *statex.CallSession
	Tool    contractx.ToolName
	Args    map[string]any
}

type InvokeOutput struct {
	Result contractx.ToolResult
}

type invokeState struct {
	sess   *statex.CallSession
	tool   contractx.ToolName
	args   map[string]any
	result contractx.ToolResult
}

func (e *Engine) compileInvokeGraph(
	ctx context.Context,
) (compose.Runnable[InvokeInput, InvokeOutput], error) {
	graph := compose.NewGraph[InvokeInput, InvokeOutput]()

	if err := graph.AddLambdaNode("resolve_invocation",
		compose.InvokableLambda(func(ctx context.Context, in InvokeInput) (*invokeState, error) {
			if in.Session == nil {
				return nil, fmt.Errorf("%w: nil session", contractx.ErrSessionNotFound)
			}
			return &invokeState{sess: in.Session, tool: in.Tool, args: in.Args}, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add node resolve_invocation: %w", err)
	}

	if err := graph.AddLambdaNode("dispatch_tool",
		compose.InvokableLambda(func(ctx context.Context, in *invokeState) (*invokeState, error) {
			in.result = e.dispatcher.Invoke(ctx, in.sess, in.tool, in.args)
			return in, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add node dispatch_tool: %w", err)
	}

	if err := graph.AddLambdaNode("apply_identity",
		compose.InvokableLambda(func(ctx context.Context, in *invokeState) (*invokeState, error) {
			return e.applyIdentity(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node apply_identity: %w", err)
	}

	if err := graph.AddLambdaNode("publish_result",
		compose.InvokableLambda(func(ctx context.Context, in *invokeState) (*invokeState, error) {
			e.publisher.Publish(in.sess.ID, eventsx.KindToolCall, in.result)
			return in, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add node publish_result: %w", err)
	}

	if err := graph.AddLambdaNode("finalize_result",
		compose.InvokableLambda(func(ctx context.Context, in *invokeState) (InvokeOutput, error) {
			return InvokeOutput{Result: in.result}, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add node finalize_result: %w", err)
	}

	edges := [][2]string{
		{compose.START, "resolve_invocation"},
		{"resolve_invocation", "dispatch_tool"},
		{"dispatch_tool", "apply_identity"},
		{"apply_identity", "publish_result"},
		{"publish_result", "finalize_result"},
		{"finalize_result", compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("engine.invoke_tool"))
	if err != nil {
		return nil, fmt.Errorf("compile invoke graph: %w", err)
	}
	return runner, nil
}

// applyIdentity binds a successfully identified user to the session and
// advances Identifying to Active. Re-identification during an active call
// rebinds the session; booking history never merges across phone numbers.
func (e *Engine) applyIdentity(in *invokeState) (*invokeState, error) {
	if in.tool != contractx.ToolIdentifyUser || in.result.Outcome != contractx.OutcomeSuccess {
		return in, nil
	}

	data, ok := in.result.Data.(map[string]any)
	if !ok {
		return in, nil
	}
	user, ok := data["user"].(*booking.User)
	if !ok || user == nil {
		return in, nil
	}

	in.sess.BindUser(user.PhoneNumber, user.Name, e.now())
	if in.sess.State == statex.StateIdentifying {
		if err := in.sess.Transition(statex.StateActive, e.now()); err != nil {
			return nil, err
		}
	}
	return in, nil
}
