package toolserver

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/socratic-shell/symposium-sub004/internal/orchestrator"
	"github.com/socratic-shell/symposium-sub004/internal/symptom"
)

// call is one line of the conversational runtime's request framing: the
// tool catalog exposed as newline-delimited JSON request/response pairs on
// this process's own stdin/stdout. Nothing in §1's Non-goals excludes an
// internal convention between this process and the runtime embedding it —
// only a cross-host or agent-side wire protocol is out of scope.
type call struct {
	ID   string          `json:"id"`
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args,omitempty"`
}

type result struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Serve reads one call per line from in and writes one result per line to
// out, until in reaches EOF or a read or write fails. ctx is passed to each
// call, so canceling it ends an in-flight call early; it does not interrupt
// a read waiting for the next line. Each call runs to completion before the
// next line is read: the catalog's per-tool deadline (s.deadline) already
// bounds how long any single call can block.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	enc := json.NewEncoder(out)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var c call
		if err := json.Unmarshal(line, &c); err != nil {
			enc.Encode(result{Error: "malformed tool call: " + err.Error()})
			continue
		}

		res := s.dispatch(ctx, c)
		if err := enc.Encode(res); err != nil {
			return symptom.Wrap(symptom.ProtocolViolation, err, "writing tool result")
		}
	}
	if err := scanner.Err(); err != nil {
		return symptom.Wrap(symptom.ProtocolViolation, err, "reading tool calls")
	}
	return nil
}

func (s *Server) dispatch(ctx context.Context, c call) result {
	res, err := s.invoke(ctx, c)
	if err != nil {
		return result{ID: c.ID, Error: err.Error()}
	}
	return result{ID: c.ID, Result: res}
}

func (s *Server) invoke(ctx context.Context, c call) (json.RawMessage, error) {
	switch c.Tool {
	case "spawn-taskspace":
		var args struct {
			Name            string `json:"name"`
			Description     string `json:"description"`
			InitialPrompt   string `json:"initialPrompt"`
			CollaboratorTag string `json:"collaboratorTag"`
		}
		if err := json.Unmarshal(c.Args, &args); err != nil {
			return nil, symptom.Wrap(symptom.ValidationError, err, "decoding spawn-taskspace args")
		}
		id, err := s.SpawnTaskspace(ctx, args.Name, args.Description, args.InitialPrompt, args.CollaboratorTag)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"taskspaceId": id})

	case "update-taskspace":
		var args struct{ Name, Description string }
		if err := json.Unmarshal(c.Args, &args); err != nil {
			return nil, symptom.Wrap(symptom.ValidationError, err, "decoding update-taskspace args")
		}
		return nil, s.UpdateTaskspace(ctx, args.Name, args.Description)

	case "delete-taskspace":
		var args struct {
			DeleteBranch bool `json:"deleteBranch"`
		}
		if err := json.Unmarshal(c.Args, &args); err != nil {
			return nil, symptom.Wrap(symptom.ValidationError, err, "decoding delete-taskspace args")
		}
		status, err := s.DeleteTaskspace(ctx, args.DeleteBranch)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"status": status})

	case "log-progress":
		var args struct {
			Message  string                        `json:"message"`
			Category orchestrator.ProgressCategory `json:"category"`
		}
		if err := json.Unmarshal(c.Args, &args); err != nil {
			return nil, symptom.Wrap(symptom.ValidationError, err, "decoding log-progress args")
		}
		return nil, s.LogProgress(args.Message, args.Category)

	case "signal-user":
		var args struct {
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(c.Args, &args); err != nil {
			return nil, symptom.Wrap(symptom.ValidationError, err, "decoding signal-user args")
		}
		return nil, s.SignalUser(args.Reason)

	case "present-walkthrough":
		var args struct {
			Document json.RawMessage `json:"document"`
		}
		if err := json.Unmarshal(c.Args, &args); err != nil {
			return nil, symptom.Wrap(symptom.ValidationError, err, "decoding present-walkthrough args")
		}
		return nil, s.PresentWalkthrough(ctx, args.Document)

	case "get-selection":
		text, found, err := s.GetSelection(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{"text": text, "found": found})

	case "ide-operation":
		var args struct {
			Kind   IDEOperationKind `json:"kind"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(c.Args, &args); err != nil {
			return nil, symptom.Wrap(symptom.ValidationError, err, "decoding ide-operation args")
		}
		return s.IDEOperation(ctx, args.Kind, args.Params)

	case "expand-reference":
		var args struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal(c.Args, &args); err != nil {
			return nil, symptom.Wrap(symptom.ValidationError, err, "decoding expand-reference args")
		}
		return s.ExpandReference(ctx, args.Token)

	default:
		return nil, symptom.Newf(symptom.ValidationError, "unknown tool %q", c.Tool)
	}
}
