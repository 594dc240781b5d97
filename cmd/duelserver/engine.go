package main

import (
	"fmt"

	"github.com/cory-johannsen/duel/internal/config"
	"github.com/cory-johannsen/duel/internal/game/engine"
	"github.com/cory-johannsen/duel/internal/game/engine/chess"
	"github.com/cory-johannsen/duel/internal/game/engine/script"
)

// buildAdapter returns the rules engine selected by cfg and a cleanup func.
func buildAdapter(cfg config.EngineConfig) (engine.Adapter, func(), error) {
	switch cfg.Kind {
	case config.EngineChess:
		return chess.New(), func() {}, nil
	case config.EngineScript:
		defs, err := script.LoadDefinitions(cfg.ScriptDir)
		if err != nil {
			return nil, nil, fmt.Errorf("loading game definitions: %w", err)
		}
		def, ok := defs[cfg.Game]
		if !ok {
			return nil, nil, fmt.Errorf("game %q not found in %s", cfg.Game, cfg.ScriptDir)
		}
		if cfg.InstructionLimit > 0 {
			def.InstructionLimit = cfg.InstructionLimit
		}
		a, err := script.NewAdapter(def)
		if err != nil {
			return nil, nil, fmt.Errorf("starting %s engine: %w", def.ID, err)
		}
		return a, a.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown engine kind %q", cfg.Kind)
	}
}
