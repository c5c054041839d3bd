package handlers

import (
	"context"

	"github.com/k5tuck/Aegis-Engine-sub000/internal/bridge"
	"github.com/k5tuck/Aegis-Engine-sub000/internal/models"
	"github.com/k5tuck/Aegis-Engine-sub000/internal/pipeline"
)

// Seed/GUID commands mirror the engine's seed subsystem: deterministic
// entity GUIDs and level capture for world snapshots.

func generateGUIDSpec(client bridge.Client) pipeline.HandlerSpec {
	return pipeline.HandlerSpec{
		ChangeType: models.ChangeCreate,
		Handler: func(ctx context.Context, params map[string]interface{}, ec models.ExecutionContext) (*models.HandlerOutcome, error) {
			response, err := client.CallFunction(ctx, bridge.SeedSubsystemPath, "GenerateGUID", map[string]interface{}{
				"Namespace":  stringParam(params, "namespace"),
				"EntityType": stringParam(params, "entityType", "entity_type"),
				"Seed":       stringParam(params, "seed"),
				"Counter":    params["counter"],
				"EntityName": stringParam(params, "entityName", "entity_name", "name"),
			})
			if err != nil {
				return nil, err
			}
			return &models.HandlerOutcome{Result: response}, nil
		},
	}
}

func registerGUIDSpec(client bridge.Client) pipeline.HandlerSpec {
	return pipeline.HandlerSpec{
		ChangeType: models.ChangeCreate,
		Handler: func(ctx context.Context, params map[string]interface{}, ec models.ExecutionContext) (*models.HandlerOutcome, error) {
			response, err := client.CallFunction(ctx, bridge.SeedSubsystemPath, "RegisterGUID", map[string]interface{}{
				"GUID":       stringParam(params, "guid"),
				"EntityPath": stringParam(params, "entityPath", "entity_path", "path"),
				"EntityType": stringParam(params, "entityType", "entity_type"),
				"Metadata":   stringParam(params, "metadata"),
			})
			if err != nil {
				return nil, err
			}
			return &models.HandlerOutcome{Result: response}, nil
		},
	}
}

func captureActorsSpec(client bridge.Client) pipeline.HandlerSpec {
	return pipeline.HandlerSpec{
		ChangeType: models.ChangeModify,
		Handler: func(ctx context.Context, params map[string]interface{}, ec models.ExecutionContext) (*models.HandlerOutcome, error) {
			response, err := client.CallFunction(ctx, bridge.SeedSubsystemPath, "CaptureAllActors", map[string]interface{}{
				"ClassFilter": params["classFilter"],
				"TagFilter":   params["tagFilter"],
			})
			if err != nil {
				return nil, err
			}
			return &models.HandlerOutcome{Result: response}, nil
		},
	}
}
