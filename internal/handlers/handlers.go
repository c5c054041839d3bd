// Package handlers registers the per-command engine handlers with the
// execution pipeline. Handlers only marshal parameters into engine
// calls and report state transitions; all safety decisions happen in
// the pipeline and its collaborators.
package handlers

import (
	"github.com/k5tuck/Aegis-Engine-sub000/internal/bridge"
	"github.com/k5tuck/Aegis-Engine-sub000/internal/pipeline"
)

// RegisterAll registers every engine command handler.
func RegisterAll(p *pipeline.Pipeline, client bridge.Client) error {
	registrations := map[string]pipeline.HandlerSpec{
		"spawn_actor":        spawnActorSpec(client),
		"delete_actor":       deleteActorSpec(client),
		"modify_actor":       modifyActorSpec(client),
		"move_actor":         moveActorSpec(client),
		"get_level_info":     levelInfoSpec(client),
		"save_level":         saveLevelSpec(client),
		"generate_guid":      generateGUIDSpec(client),
		"register_guid":      registerGUIDSpec(client),
		"capture_all_actors": captureActorsSpec(client),
	}

	for command, spec := range registrations {
		if err := p.RegisterHandler(command, spec); err != nil {
			return err
		}
	}
	return nil
}

// stringParam fetches the first present string among the given keys.
func stringParam(params map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if value, ok := params[key].(string); ok && value != "" {
			return value
		}
	}
	return ""
}

// mapField pulls a nested object out of an engine response.
func mapField(response map[string]interface{}, key string) map[string]interface{} {
	if nested, ok := response[key].(map[string]interface{}); ok {
		return nested
	}
	return nil
}
