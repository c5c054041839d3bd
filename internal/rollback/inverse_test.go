package rollback

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInvertCommand(t *testing.T) {
	assert.Equal(t, "delete_actor", InvertCommand("spawn_actor"))
	assert.Equal(t, "delete_blueprint", InvertCommand("create_blueprint"))
	assert.Equal(t, "spawn_actor", InvertCommand("delete_actor"))
	assert.Equal(t, "spawn_component", InvertCommand("remove_component"))
	assert.Equal(t, "modify_actor", InvertCommand("modify_actor"))
	assert.Equal(t, "update_material", InvertCommand("update_material"))
	assert.Equal(t, "set_actor_transform", InvertCommand("set_actor_transform"))
	assert.Equal(t, "move_actor", InvertCommand("move_actor"))

	// Unrecognized commands fall back to a modify.
	assert.Equal(t, "rename_actor", InvertCommand("rename_actor"))
}

func TestInvertParams_DeleteRespawnsFromPreviousState(t *testing.T) {
	previous := map[string]interface{}{
		"class":    "BP_Crate",
		"location": map[string]interface{}{"x": 1.0, "y": 2.0},
	}

	params := InvertParams("delete_actor", "Crate_1", previous)

	assert.Equal(t, "Crate_1", params["actorName"])
	assert.Equal(t, "BP_Crate", params["class"])
	assert.Equal(t, previous["location"], params["location"])
}

func TestInvertParams_SpawnDeletesTarget(t *testing.T) {
	params := InvertParams("spawn_actor", "Crate_1", map[string]interface{}{"class": "BP_Crate"})

	assert.Equal(t, map[string]interface{}{"actorName": "Crate_1"}, params)
}

func TestInvertParams_ModifyRestoresProperties(t *testing.T) {
	previous := map[string]interface{}{"health": 100, "visible": true}

	params := InvertParams("modify_actor", "Crate_1", previous)

	assert.Equal(t, "Crate_1", params["actorName"])
	assert.Equal(t, previous, params["properties"])
}

func TestInvertParams_MoveExplicitFieldsWinOverPreviousState(t *testing.T) {
	previous := map[string]interface{}{
		"location": map[string]interface{}{"x": 0.0},
		"rotation": map[string]interface{}{"yaw": 90.0},
		"velocity": map[string]interface{}{"x": 5.0},
	}

	params := InvertParams("move_actor", "Crate_1", previous)

	assert.Equal(t, "Crate_1", params["actorName"])
	assert.Equal(t, previous["location"], params["location"])
	assert.Equal(t, previous["rotation"], params["rotation"])
	assert.Equal(t, previous["velocity"], params["velocity"])
}

func TestInvertParams_DefaultUsesPreviousStateVerbatim(t *testing.T) {
	previous := map[string]interface{}{"label": "old"}

	params := InvertParams("rename_actor", "Crate_1", previous)

	assert.Equal(t, "old", params["label"])
	assert.Equal(t, "Crate_1", params["actorName"])
}
