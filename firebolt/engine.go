package firebolt

import (
	"context"
	"fmt"

	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/querylayer/firebolt-driver/client"
	"github.com/querylayer/firebolt-driver/logfield"
)

// engineGuard brings the named remote compute engine into a running state
// before a query is retried after a not-found failure. Retries belong to the
// executor; the guard performs none of its own.
type engineGuard struct {
	engineClient client.Client
	engineName   string
	logger       logger.Logger
}

// EnsureRunning looks the engine up by name and blocks until it reports
// ready. A driver configured with a legacy direct endpoint has no engine
// name, in which case this is a no-op.
func (g *engineGuard) EnsureRunning(ctx context.Context) error {
	if g.engineName == "" {
		return nil
	}

	engine, err := g.engineClient.EngineByName(ctx, g.engineName)
	if err != nil {
		return fmt.Errorf("looking up engine %s: %w", g.engineName, err)
	}

	g.logger.Infow("waiting for engine to start", logfield.Engine, g.engineName)
	if err := engine.StartAndWait(ctx); err != nil {
		return fmt.Errorf("starting engine %s: %w", g.engineName, err)
	}
	return nil
}
