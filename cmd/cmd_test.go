package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/weft/internal/component"
	"github.com/conneroisu/weft/internal/config"
	"github.com/conneroisu/weft/internal/engine"
	"github.com/conneroisu/weft/internal/errors"
	"github.com/conneroisu/weft/internal/logging"
	"github.com/conneroisu/weft/internal/watcher"
)

const cardMacro = `<Macro name="Card" default="body"><Param name="title" default="Untitled"/><Param name="body" type="content"/>` +
	`<div class="card"><h2>{{ @title }}</h2>{{ @body }}</div></Macro>
`

type project struct {
	dir       string
	templates string
	macros    string
	config    string
}

func newProject(t *testing.T) *project {
	t.Helper()
	dir := t.TempDir()
	p := &project{
		dir:       dir,
		templates: filepath.Join(dir, "templates"),
		macros:    filepath.Join(dir, "macros"),
		config:    filepath.Join(dir, "weft.yml"),
	}
	require.NoError(t, os.MkdirAll(p.templates, 0o755))
	require.NoError(t, os.MkdirAll(p.macros, 0o755))

	cfg := map[string]any{
		"templates": map[string]any{"paths": []string{p.templates}},
		"macros":    map[string]any{"paths": []string{p.macros}},
		"log":       map[string]any{"level": "error"},
	}
	raw, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(p.config, raw, 0o600))

	p.write(t, filepath.Join(p.macros, "card.weft"), cardMacro)

	return p
}

func (p *project) write(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

// run executes the CLI with the project's config file.
func (p *project) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	renderData, renderOut = "", ""
	validateFormat = "text"
	versionFormat, versionDetailed = "text", false

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(append([]string{"--config", p.config}, args...))
	err := rootCmd.ExecuteContext(context.Background())

	return stdout.String(), stderr.String(), err
}

func TestRenderCommand(t *testing.T) {
	p := newProject(t)
	page := p.write(t, filepath.Join(p.templates, "page.weft"), `<Card title="{{ site.name }}">Hi</Card>`)
	data := p.write(t, filepath.Join(p.dir, "data.yaml"), "site:\n  name: Weft\n")

	stdout, _, err := p.run(t, "render", page, "--data", data)
	require.NoError(t, err)
	assert.Equal(t, `<div class="card"><h2>Weft</h2>Hi</div>`, stdout)
}

func TestRenderCommandOutFile(t *testing.T) {
	p := newProject(t)
	page := p.write(t, filepath.Join(p.templates, "page.weft"), `<Card/>`)
	out := filepath.Join(p.dir, "out.html")

	stdout, _, err := p.run(t, "render", page, "-o", out)
	require.NoError(t, err)
	assert.Empty(t, stdout)

	written, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, `<div class="card"><h2>Untitled</h2></div>`, string(written))
}

func TestRenderCommandReportsLocation(t *testing.T) {
	p := newProject(t)
	page := p.write(t, filepath.Join(p.templates, "page.weft"), "<div>\n  <Missing/>\n</div>")

	_, stderr, err := p.run(t, "render", page)
	require.Error(t, err)
	assert.Contains(t, stderr, errors.ErrCodeUnknownComponent)
	assert.Contains(t, stderr, "<Missing/>")
	assert.Contains(t, stderr, p.macros)
}

func TestRenderCommandBadData(t *testing.T) {
	p := newProject(t)
	page := p.write(t, filepath.Join(p.templates, "page.weft"), `<Card/>`)
	data := p.write(t, filepath.Join(p.dir, "data.yaml"), "site: [unclosed\n")

	_, stderr, err := p.run(t, "render", page, "--data", data)
	require.Error(t, err)
	assert.Contains(t, stderr, errors.ErrCodeConfigInvalid)
}

func TestValidateCommand(t *testing.T) {
	p := newProject(t)
	p.write(t, filepath.Join(p.templates, "good.weft"), `<Card>ok</Card>`)
	bad := p.write(t, filepath.Join(p.templates, "bad.weft"), `<div><Nope/></div>`)
	p.write(t, filepath.Join(p.templates, "skip.weft.bak"), `<Nope/>`)

	stdout, _, err := p.run(t, "validate", "--format", "json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 invalid templates")

	var summary ValidationSummary
	require.NoError(t, json.Unmarshal([]byte(stdout), &summary))
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Valid)
	assert.Equal(t, 1, summary.Invalid)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, bad, summary.Errors[0].File)
	assert.Equal(t, errors.ErrCodeUnknownComponent, summary.Errors[0].Code)
	assert.Equal(t, 1, summary.Errors[0].Line)
	assert.Equal(t, 6, summary.Errors[0].Column)
	for _, r := range summary.Results {
		assert.Len(t, r.Checksum, 8)
	}
}

func TestValidateCommandText(t *testing.T) {
	p := newProject(t)
	page := p.write(t, filepath.Join(p.templates, "good.weft"), `<Card>ok</Card>`)

	stdout, _, err := p.run(t, "validate", page)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Total templates: 1")
	assert.Contains(t, stdout, "All templates are valid")
}

func TestValidateCommandRejectsFormat(t *testing.T) {
	p := newProject(t)

	_, _, err := p.run(t, "validate", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")
}

func TestMacrosCommand(t *testing.T) {
	p := newProject(t)
	p.write(t, filepath.Join(p.macros, "badge.weft"), `<Macro name="Badge"><Param name="label"/><span>{{ @label }}</span></Macro>`)

	stdout, _, err := p.run(t, "macros")
	require.NoError(t, err)

	var listings []macroFileListing
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &listings))
	require.Len(t, listings, 2)

	assert.Equal(t, filepath.Join(p.macros, "badge.weft"), listings[0].File)
	assert.Equal(t, "Badge", listings[0].Macros[0].Name)
	assert.Equal(t, "Badge(label any)", listings[0].Macros[0].Signature)

	card := listings[1].Macros[0]
	assert.Equal(t, "Card", card.Name)
	assert.Equal(t, "body", card.DefaultParam)
	assert.Equal(t, []paramListing{
		{Name: "title", Type: "any", HasDefault: true},
		{Name: "body", Type: "content"},
	}, card.Params)
}

func TestMacrosCommandReportsBrokenFiles(t *testing.T) {
	p := newProject(t)
	p.write(t, filepath.Join(p.macros, "broken.weft"), `<Macro name="Broken"><div></Macro>`)

	stdout, stderr, err := p.run(t, "macros")
	require.Error(t, err)
	assert.Contains(t, stdout, "Card")
	assert.Contains(t, stderr, "broken.weft")
}

func TestVersionCommand(t *testing.T) {
	p := newProject(t)

	stdout, _, err := p.run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stdout, "weft "))

	stdout, _, err = p.run(t, "version", "--format", "json")
	require.NoError(t, err)
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &info))
	assert.Contains(t, info, "version")
	assert.Contains(t, info, "go_version")
}

func TestWatchDirs(t *testing.T) {
	p := newProject(t)
	cfg := config.Default()
	cfg.Templates.Paths = []string{p.templates, p.templates + "/", filepath.Join(p.dir, "missing")}
	cfg.Macros.Paths = []string{p.macros}

	dirs := watchDirs(cfg, filepath.Join(p.templates, "page.weft"), filepath.Join(p.dir, "data.yaml"))
	assert.Equal(t, []string{p.templates, p.dir, p.macros}, dirs)
}

func TestChangeHandlerInvalidatesMacroFiles(t *testing.T) {
	p := newProject(t)
	cfg := config.Default()
	cfg.Macros.Paths = []string{p.macros}
	eng, err := engine.New(cfg)
	require.NoError(t, err)

	card := filepath.Join(p.macros, "card.weft")
	_, err = eng.LoadMacroFile(context.Background(), card)
	require.NoError(t, err)
	require.Equal(t, 1, eng.Definitions().Len())

	renders := 0
	handler := changeHandler(eng, logging.NopLogger{}, func(context.Context) { renders++ })
	require.NoError(t, handler(context.Background(), []watcher.ChangeEvent{
		{Type: watcher.EventTypeModified, Path: filepath.Join(p.templates, "page.weft")},
		{Type: watcher.EventTypeModified, Path: card},
	}))

	assert.Equal(t, 1, renders)
	assert.Equal(t, 0, eng.Definitions().Len())
}

// recordingLogger keeps the messages of logged errors and warnings.
type recordingLogger struct {
	logging.NopLogger
	messages []string
}

func (r *recordingLogger) Warn(_ context.Context, err error, msg string, _ ...interface{}) {
	r.messages = append(r.messages, msg+": "+err.Error())
}

func (r *recordingLogger) Error(_ context.Context, err error, msg string, _ ...interface{}) {
	r.messages = append(r.messages, msg+": "+err.Error())
}

func TestChangeHandlerReloadsRegistry(t *testing.T) {
	p := newProject(t)
	registry := p.write(t, filepath.Join(p.dir, "tags.yml"), "tags:\n  Show: if\n")
	cfg := config.Default()
	cfg.Components.RegistryFile = registry
	eng, err := engine.New(cfg)
	require.NoError(t, err)

	logger := &recordingLogger{}
	renders := 0
	handler := changeHandler(eng, logger, func(context.Context) { renders++ })
	changed := []watcher.ChangeEvent{{Type: watcher.EventTypeModified, Path: registry}}

	p.write(t, registry, "tags:\n  Hide: if\n")
	require.NoError(t, handler(context.Background(), changed))
	_, ok := eng.Registry().Get("Hide")
	assert.True(t, ok)
	_, ok = eng.Registry().Get("Show")
	assert.False(t, ok)
	assert.Empty(t, logger.messages)

	p.write(t, registry, "tags:\n  Hide: widget\n")
	require.NoError(t, handler(context.Background(), changed))
	_, ok = eng.Registry().Get("Hide")
	assert.True(t, ok, "an invalid registry file keeps the previous tags")
	require.Len(t, logger.messages, 1)
	assert.Contains(t, logger.messages[0], "unknown kind")
	assert.Equal(t, 2, renders)
}

func TestLogRegistryEvents(t *testing.T) {
	var out bytes.Buffer
	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LevelInfo, Format: "text", Output: &out})

	events := make(chan component.Event, 2)
	events <- component.Event{Type: component.EventTypeRemoved, Tag: "Show"}
	close(events)

	logRegistryEvents(context.Background(), logger, events)
	assert.Contains(t, out.String(), "Tag registry changed")
	assert.Contains(t, out.String(), "tag=Show")
	assert.Contains(t, out.String(), "change=removed")
}
