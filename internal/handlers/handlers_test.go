package handlers

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k5tuck/Aegis-Engine-sub000/internal/bridge"
	"github.com/k5tuck/Aegis-Engine-sub000/internal/models"
	"github.com/k5tuck/Aegis-Engine-sub000/internal/pipeline"
)

type recordedCall struct {
	objectPath   string
	functionName string
	parameters   map[string]interface{}
}

// fakeClient scripts engine responses per function name and records
// every call.
type fakeClient struct {
	mu        sync.Mutex
	responses map[string]map[string]interface{}
	errors    map[string]error
	calls     []recordedCall
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		responses: map[string]map[string]interface{}{},
		errors:    map[string]error{},
	}
}

func (c *fakeClient) CallFunction(ctx context.Context, objectPath, functionName string, parameters map[string]interface{}) (map[string]interface{}, error) {
	c.mu.Lock()
	c.calls = append(c.calls, recordedCall{objectPath: objectPath, functionName: functionName, parameters: parameters})
	c.mu.Unlock()

	if err, ok := c.errors[functionName]; ok {
		return nil, err
	}
	if response, ok := c.responses[functionName]; ok {
		return response, nil
	}
	return map[string]interface{}{"success": true}, nil
}

func (c *fakeClient) callsTo(functionName string) []recordedCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []recordedCall
	for _, call := range c.calls {
		if call.functionName == functionName {
			out = append(out, call)
		}
	}
	return out
}

func testEC() models.ExecutionContext {
	return models.ExecutionContext{SessionID: "session-1", RequestID: "req-1"}
}

func TestSpawnActor_CallsEngineAndReportsNewState(t *testing.T) {
	client := newFakeClient()
	client.responses["SpawnActor"] = map[string]interface{}{"success": true, "actorName": "Crate_1"}
	spec := spawnActorSpec(client)

	outcome, err := spec.Handler(context.Background(), map[string]interface{}{
		"actorClass": "BP_Crate",
		"actorName":  "Crate_1",
		"location":   map[string]interface{}{"x": 1.0, "y": 2.0, "z": 3.0},
	}, testEC())
	require.NoError(t, err)

	calls := client.callsTo("SpawnActor")
	require.Len(t, calls, 1)
	assert.Equal(t, bridge.SubsystemPath, calls[0].objectPath)
	assert.Equal(t, "BP_Crate", calls[0].parameters["ActorClass"])
	assert.Equal(t, "Crate_1", calls[0].parameters["ActorName"])

	assert.Equal(t, "BP_Crate", outcome.NewState["class"])
	assert.Empty(t, outcome.PreviousState)

	// The declared inverse deletes by target name only.
	assert.Equal(t, "delete_actor", spec.InverseCommand)
	inverse := spec.InverseParams("Crate_1", nil)
	assert.Equal(t, map[string]interface{}{"actorName": "Crate_1"}, inverse)
}

func TestDeleteActor_CapturesStateBeforeDeleting(t *testing.T) {
	client := newFakeClient()
	client.responses["GetActorState"] = map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"class":    "BP_Crate",
			"location": map[string]interface{}{"x": 1.0},
		},
	}
	spec := deleteActorSpec(client)

	outcome, err := spec.Handler(context.Background(),
		map[string]interface{}{"actorName": "Crate_1"}, testEC())
	require.NoError(t, err)

	// State capture happens before the deletion.
	require.Len(t, client.calls, 2)
	assert.Equal(t, "GetActorState", client.calls[0].functionName)
	assert.Equal(t, "DeleteActor", client.calls[1].functionName)

	assert.Equal(t, "BP_Crate", outcome.PreviousState["class"])

	inverse := spec.InverseParams("Crate_1", outcome.PreviousState)
	assert.Equal(t, "spawn_actor", spec.InverseCommand)
	assert.Equal(t, "Crate_1", inverse["actorName"])
	assert.Equal(t, "BP_Crate", inverse["class"])
}

func TestDeleteActor_MissingTargetFailsWithoutEngineCall(t *testing.T) {
	client := newFakeClient()
	spec := deleteActorSpec(client)

	_, err := spec.Handler(context.Background(), map[string]interface{}{}, testEC())
	require.Error(t, err)
	assert.Equal(t, models.CodeValidationFailed, models.AsActionError(err).Code)
	assert.Empty(t, client.calls)
}

func TestDeleteActor_PropagatesTargetNotFound(t *testing.T) {
	client := newFakeClient()
	client.errors["GetActorState"] = models.NewActionError(models.CodeTargetNotFound, "Actor Crate_9 not found")
	spec := deleteActorSpec(client)

	_, err := spec.Handler(context.Background(),
		map[string]interface{}{"actorName": "Crate_9"}, testEC())
	require.Error(t, err)
	assert.Equal(t, models.CodeTargetNotFound, models.AsActionError(err).Code)
	assert.Empty(t, client.callsTo("DeleteActor"))
}

func TestDeleteActor_AnalyzerPredictsWithCurrentState(t *testing.T) {
	client := newFakeClient()
	client.responses["GetActorState"] = map[string]interface{}{
		"success": true,
		"data":    map[string]interface{}{"class": "BP_Crate"},
	}
	spec := deleteActorSpec(client)

	changes, err := spec.Analyzer(context.Background(),
		map[string]interface{}{"actorName": "Crate_1"}, testEC())
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, models.ChangeDelete, changes[0].Type)
	assert.Equal(t, "Crate_1", changes[0].Target)
	assert.Equal(t, "BP_Crate", changes[0].Before["class"])
	// Prediction never deletes anything.
	assert.Empty(t, client.callsTo("DeleteActor"))
}

func TestModifyActor_NarrowsPreviousStateToChangedKeys(t *testing.T) {
	client := newFakeClient()
	client.responses["GetActorState"] = map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"health":   100,
			"armor":    50,
			"location": map[string]interface{}{"x": 1.0},
		},
	}
	spec := modifyActorSpec(client)

	outcome, err := spec.Handler(context.Background(), map[string]interface{}{
		"actorName":  "Crate_1",
		"properties": map[string]interface{}{"health": 25},
	}, testEC())
	require.NoError(t, err)

	assert.Equal(t, map[string]interface{}{"health": 100}, outcome.PreviousState)
	assert.Equal(t, map[string]interface{}{"health": 25}, outcome.NewState)

	calls := client.callsTo("SetActorProperties")
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]interface{}{"health": 25}, calls[0].parameters["Properties"])
}

func TestModifyActor_RequiresProperties(t *testing.T) {
	client := newFakeClient()
	spec := modifyActorSpec(client)

	_, err := spec.Handler(context.Background(),
		map[string]interface{}{"actorName": "Crate_1"}, testEC())
	require.Error(t, err)
	assert.Equal(t, models.CodeValidationFailed, models.AsActionError(err).Code)
	assert.Empty(t, client.calls)
}

func TestMoveActor_RecordsPreviousTransform(t *testing.T) {
	client := newFakeClient()
	client.responses["GetActorState"] = map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"class":    "BP_Crate",
			"location": map[string]interface{}{"x": 0.0},
			"rotation": map[string]interface{}{"yaw": 0.0},
		},
	}
	spec := moveActorSpec(client)

	newLocation := map[string]interface{}{"x": 100.0}
	outcome, err := spec.Handler(context.Background(), map[string]interface{}{
		"actorName": "Crate_1",
		"location":  newLocation,
	}, testEC())
	require.NoError(t, err)

	// Previous state holds only the transform, not the full actor state.
	assert.Equal(t, map[string]interface{}{"x": 0.0}, outcome.PreviousState["location"])
	assert.NotContains(t, outcome.PreviousState, "class")
	assert.Equal(t, newLocation, outcome.NewState["location"])

	calls := client.callsTo("SetActorTransform")
	require.Len(t, calls, 1)
	assert.Equal(t, newLocation, calls[0].parameters["Location"])
}

func TestLevelInfo_IsReadOnly(t *testing.T) {
	client := newFakeClient()
	client.responses["GetCurrentLevelInfo"] = map[string]interface{}{
		"success":   true,
		"levelName": "MainLevel",
	}
	spec := levelInfoSpec(client)

	outcome, err := spec.Handler(context.Background(), nil, testEC())
	require.NoError(t, err)
	assert.Equal(t, "MainLevel", outcome.Result["levelName"])
	assert.Empty(t, outcome.PreviousState)

	calls := client.callsTo("GetCurrentLevelInfo")
	require.Len(t, calls, 1)
	assert.Equal(t, bridge.SeedSubsystemPath, calls[0].objectPath)
}

func TestSaveLevel_IsIrreversible(t *testing.T) {
	client := newFakeClient()
	spec := saveLevelSpec(client)

	outcome, err := spec.Handler(context.Background(),
		map[string]interface{}{"levelName": "MainLevel"}, testEC())
	require.NoError(t, err)
	assert.Empty(t, outcome.PreviousState)

	calls := client.callsTo("SaveLevel")
	require.Len(t, calls, 1)
	assert.Equal(t, "MainLevel", calls[0].parameters["LevelName"])
}

func TestRegisterGUID_PassesIdentityThrough(t *testing.T) {
	client := newFakeClient()
	spec := registerGUIDSpec(client)

	_, err := spec.Handler(context.Background(), map[string]interface{}{
		"guid":      "01234567-89ab-cdef-0123-456789abcdef",
		"actorName": "Crate_1",
	}, testEC())
	require.NoError(t, err)

	calls := client.callsTo("RegisterGUID")
	require.Len(t, calls, 1)
	assert.Equal(t, bridge.SeedSubsystemPath, calls[0].objectPath)
	assert.Equal(t, "01234567-89ab-cdef-0123-456789abcdef", calls[0].parameters["GUID"])
}

func TestRegisterAll_EveryCommandResolvable(t *testing.T) {
	client := newFakeClient()
	pipe := pipeline.New(pipeline.Options{})

	require.NoError(t, RegisterAll(pipe, client))

	expected := []string{
		"spawn_actor", "delete_actor", "modify_actor", "move_actor",
		"get_level_info", "save_level",
		"generate_guid", "register_guid", "capture_all_actors",
	}
	commands := pipe.Commands()
	assert.ElementsMatch(t, expected, commands)

	// Double registration is refused.
	err := RegisterAll(pipe, client)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestStringParam_FallbackOrder(t *testing.T) {
	params := map[string]interface{}{
		"actor_name": "fallback",
		"count":      3,
	}
	assert.Equal(t, "fallback", stringParam(params, "actorName", "actor_name", "name"))
	assert.Equal(t, "", stringParam(params, "missing"))
	assert.Equal(t, "", stringParam(params, "count"))
}
