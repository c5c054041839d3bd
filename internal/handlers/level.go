package handlers

import (
	"context"

	"github.com/k5tuck/Aegis-Engine-sub000/internal/bridge"
	"github.com/k5tuck/Aegis-Engine-sub000/internal/models"
	"github.com/k5tuck/Aegis-Engine-sub000/internal/pipeline"
)

func levelInfoSpec(client bridge.Client) pipeline.HandlerSpec {
	return pipeline.HandlerSpec{
		ChangeType: models.ChangeModify,
		Handler: func(ctx context.Context, params map[string]interface{}, ec models.ExecutionContext) (*models.HandlerOutcome, error) {
			response, err := client.CallFunction(ctx, bridge.SeedSubsystemPath, "GetCurrentLevelInfo", nil)
			if err != nil {
				return nil, err
			}
			// Read-only: nothing to roll back.
			return &models.HandlerOutcome{Result: response}, nil
		},
	}
}

func saveLevelSpec(client bridge.Client) pipeline.HandlerSpec {
	return pipeline.HandlerSpec{
		ChangeType: models.ChangeModify,
		Handler: func(ctx context.Context, params map[string]interface{}, ec models.ExecutionContext) (*models.HandlerOutcome, error) {
			response, err := client.CallFunction(ctx, bridge.SubsystemPath, "SaveLevel", map[string]interface{}{
				"LevelName": stringParam(params, "levelName", "level_name", "name"),
			})
			if err != nil {
				return nil, err
			}
			// A save overwrites the on-disk level; there is no previous
			// state to restore, so it is recorded as irreversible.
			return &models.HandlerOutcome{Result: response}, nil
		},
	}
}
