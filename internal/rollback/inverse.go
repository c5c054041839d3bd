package rollback

import "strings"

// targetKey is the canonical parameter name synthesized inverse params
// use to reference the target object. It is first in the pipeline's
// target-extraction priority list, so a rollback round-trips cleanly.
const targetKey = "actorName"

// InvertCommand derives the command that undoes the given one. The
// mapping is table-driven substring replacement: spawn/create flips to
// its delete counterpart, delete/remove flips back to spawn (restoring
// from the previous state), and modify/update/set/move commands undo
// through themselves. Anything unrecognized falls back to a modify.
//
// Handlers that register explicit inverse metadata bypass this
// heuristic entirely.
func InvertCommand(command string) string {
	lower := strings.ToLower(command)
	switch {
	case strings.Contains(lower, "spawn"):
		return strings.ReplaceAll(command, "spawn", "delete")
	case strings.Contains(lower, "create"):
		return strings.ReplaceAll(command, "create", "delete")
	case strings.Contains(lower, "delete"):
		return strings.ReplaceAll(command, "delete", "spawn")
	case strings.Contains(lower, "remove"):
		return strings.ReplaceAll(command, "remove", "spawn")
	case strings.Contains(lower, "modify"), strings.Contains(lower, "update"), strings.Contains(lower, "set"):
		return command
	case strings.Contains(lower, "move"):
		return command
	default:
		return strings.NewReplacer("create", "modify", "delete", "modify", "spawn", "modify").Replace(command)
	}
}

// InvertParams synthesizes the parameters for the inverse command.
//
// For a move, the recorded location/rotation are set explicitly and the
// rest of the previous state is merged around them; the explicit fields
// win over any colliding previous-state keys.
func InvertParams(command, target string, previousState map[string]interface{}) map[string]interface{} {
	lower := strings.ToLower(command)
	switch {
	case strings.Contains(lower, "delete"), strings.Contains(lower, "remove"):
		// Respawn from the recorded previous state.
		params := copyState(previousState)
		params[targetKey] = target
		return params

	case strings.Contains(lower, "create"), strings.Contains(lower, "spawn"):
		// Undo a creation by deleting the created target.
		return map[string]interface{}{targetKey: target}

	case strings.Contains(lower, "modify"), strings.Contains(lower, "update"), strings.Contains(lower, "set"):
		return map[string]interface{}{
			targetKey:    target,
			"properties": copyState(previousState),
		}

	case strings.Contains(lower, "move"):
		params := copyState(previousState)
		if location, ok := previousState["location"]; ok {
			params["location"] = location
		}
		if rotation, ok := previousState["rotation"]; ok {
			params["rotation"] = rotation
		}
		params[targetKey] = target
		return params

	default:
		params := copyState(previousState)
		params[targetKey] = target
		return params
	}
}

func copyState(state map[string]interface{}) map[string]interface{} {
	copied := make(map[string]interface{}, len(state))
	for key, value := range state {
		copied[key] = value
	}
	return copied
}
