package handlers

import (
	"context"
	"fmt"

	"github.com/k5tuck/Aegis-Engine-sub000/internal/bridge"
	"github.com/k5tuck/Aegis-Engine-sub000/internal/models"
	"github.com/k5tuck/Aegis-Engine-sub000/internal/pipeline"
)

func spawnActorSpec(client bridge.Client) pipeline.HandlerSpec {
	return pipeline.HandlerSpec{
		ChangeType:     models.ChangeCreate,
		InverseCommand: "delete_actor",
		InverseParams: func(target string, previousState map[string]interface{}) map[string]interface{} {
			return map[string]interface{}{"actorName": target}
		},
		Handler: func(ctx context.Context, params map[string]interface{}, ec models.ExecutionContext) (*models.HandlerOutcome, error) {
			response, err := client.CallFunction(ctx, bridge.SubsystemPath, "SpawnActor", map[string]interface{}{
				"ActorClass": stringParam(params, "actorClass", "actor_class", "class"),
				"ActorName":  stringParam(params, "actorName", "actor_name", "name"),
				"Location":   params["location"],
				"Rotation":   params["rotation"],
			})
			if err != nil {
				return nil, err
			}
			return &models.HandlerOutcome{
				Result: response,
				NewState: map[string]interface{}{
					"class":    stringParam(params, "actorClass", "actor_class", "class"),
					"location": params["location"],
					"rotation": params["rotation"],
				},
			}, nil
		},
	}
}

func deleteActorSpec(client bridge.Client) pipeline.HandlerSpec {
	return pipeline.HandlerSpec{
		ChangeType:     models.ChangeDelete,
		InverseCommand: "spawn_actor",
		InverseParams: func(target string, previousState map[string]interface{}) map[string]interface{} {
			params := map[string]interface{}{"actorName": target}
			for key, value := range previousState {
				params[key] = value
			}
			return params
		},
		Analyzer: func(ctx context.Context, params map[string]interface{}, ec models.ExecutionContext) ([]models.ChangePreview, error) {
			target := stringParam(params, "actorName", "actor_name", "name")
			before, _ := fetchActorState(ctx, client, target)
			return []models.ChangePreview{{
				Type:        models.ChangeDelete,
				Target:      target,
				Description: fmt.Sprintf("delete actor %s from the current level", target),
				Before:      before,
			}}, nil
		},
		Handler: func(ctx context.Context, params map[string]interface{}, ec models.ExecutionContext) (*models.HandlerOutcome, error) {
			target := stringParam(params, "actorName", "actor_name", "name")

			// Capture the state first so the deletion is reversible.
			previous, err := fetchActorState(ctx, client, target)
			if err != nil {
				return nil, err
			}

			response, err := client.CallFunction(ctx, bridge.SubsystemPath, "DeleteActor", map[string]interface{}{
				"ActorName": target,
			})
			if err != nil {
				return nil, err
			}
			return &models.HandlerOutcome{
				Result:        response,
				PreviousState: previous,
			}, nil
		},
	}
}

func modifyActorSpec(client bridge.Client) pipeline.HandlerSpec {
	return pipeline.HandlerSpec{
		ChangeType:     models.ChangeModify,
		InverseCommand: "modify_actor",
		InverseParams: func(target string, previousState map[string]interface{}) map[string]interface{} {
			return map[string]interface{}{
				"actorName":  target,
				"properties": previousState,
			}
		},
		Handler: func(ctx context.Context, params map[string]interface{}, ec models.ExecutionContext) (*models.HandlerOutcome, error) {
			target := stringParam(params, "actorName", "actor_name", "name")
			properties, _ := params["properties"].(map[string]interface{})
			if len(properties) == 0 {
				return nil, models.NewActionError(models.CodeValidationFailed, "properties are required").
					WithSuggestion("supply a properties object with the fields to change")
			}

			previous, err := fetchActorState(ctx, client, target)
			if err != nil {
				return nil, err
			}

			response, err := client.CallFunction(ctx, bridge.SubsystemPath, "SetActorProperties", map[string]interface{}{
				"ActorName":  target,
				"Properties": properties,
			})
			if err != nil {
				return nil, err
			}
			return &models.HandlerOutcome{
				Result:        response,
				PreviousState: previousProperties(previous, properties),
				NewState:      properties,
			}, nil
		},
	}
}

func moveActorSpec(client bridge.Client) pipeline.HandlerSpec {
	return pipeline.HandlerSpec{
		ChangeType:     models.ChangeMove,
		InverseCommand: "move_actor",
		Handler: func(ctx context.Context, params map[string]interface{}, ec models.ExecutionContext) (*models.HandlerOutcome, error) {
			target := stringParam(params, "actorName", "actor_name", "name")

			previous, err := fetchActorState(ctx, client, target)
			if err != nil {
				return nil, err
			}

			response, err := client.CallFunction(ctx, bridge.SubsystemPath, "SetActorTransform", map[string]interface{}{
				"ActorName": target,
				"Location":  params["location"],
				"Rotation":  params["rotation"],
			})
			if err != nil {
				return nil, err
			}

			previousTransform := map[string]interface{}{}
			if location, ok := previous["location"]; ok {
				previousTransform["location"] = location
			}
			if rotation, ok := previous["rotation"]; ok {
				previousTransform["rotation"] = rotation
			}
			return &models.HandlerOutcome{
				Result:        response,
				PreviousState: previousTransform,
				NewState: map[string]interface{}{
					"location": params["location"],
					"rotation": params["rotation"],
				},
			}, nil
		},
	}
}

// fetchActorState reads an actor's current state from the engine.
func fetchActorState(ctx context.Context, client bridge.Client, target string) (map[string]interface{}, error) {
	if target == "" {
		return nil, models.NewActionError(models.CodeValidationFailed, "actor name is required").
			WithSuggestion("supply actorName identifying the target actor")
	}
	response, err := client.CallFunction(ctx, bridge.SubsystemPath, "GetActorState", map[string]interface{}{
		"ActorName": target,
	})
	if err != nil {
		return nil, err
	}
	if data := mapField(response, "data"); data != nil {
		return data, nil
	}
	return response, nil
}

// previousProperties narrows a full actor state down to the properties
// being changed, so the recorded previous state undoes exactly the
// modification and nothing else.
func previousProperties(state map[string]interface{}, changed map[string]interface{}) map[string]interface{} {
	previous := map[string]interface{}{}
	for key := range changed {
		if value, ok := state[key]; ok {
			previous[key] = value
		}
	}
	if len(previous) == 0 {
		return state
	}
	return previous
}
