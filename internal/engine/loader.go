package engine

import (
	"context"

	"github.com/conneroisu/weft/internal/macro"
)

// fileLoader finds macros in the configured search directories. Each load
// chain gets its own loader so cycles between files are detected.
type fileLoader struct {
	engine *Engine
	ctx    context.Context
	chain  []string
}

func (l *fileLoader) LoadMacros(tag string) ([]*macro.Macro, string, error) {
	path, info, ok := l.engine.MacroFile(tag)
	if !ok {
		l.engine.logger.Debug(l.ctx, "No macro file for tag",
			"tag", tag,
			"search_paths", l.engine.config.Macros.Paths)

		return nil, "", nil
	}

	macros, err := l.engine.loadMacroFile(l.ctx, path, info, l.chain)
	if err != nil {
		return nil, path, err
	}

	return macros, path, nil
}

func (l *fileLoader) SearchPaths() []string {
	return l.engine.config.Macros.Paths
}
