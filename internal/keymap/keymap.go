// Package keymap binds remote-control keys to browser key events for a
// profile class.
//
// Keymaps are INI files under <configDir>/keymaps/<classid>/default.ini with
// a single [keymap] group. Each key is a remote-control key name and each
// value a |-separated list of name:value fields:
//
//	RC_KEY_MENU = code:122|alt:true
//
// Recognized fields are code, which, alt, ctrl and shift. which defaults to
// code when absent.
package keymap

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/HerbHall/stbemu/pkg/plugin"
	"github.com/HerbHall/stbemu/pkg/roles"
	"go.uber.org/zap"
	"gopkg.in/ini.v1"
)

const group = "keymap"

//go:embed defaults
var embedded embed.FS

// Binding is one parsed keymap record.
type Binding struct {
	Name  string
	Key   Key
	Code  int
	Which int
	Alt   bool
	Ctrl  bool
	Shift bool
}

// Loader materializes and applies per-class keymaps.
type Loader struct {
	dir      string
	defaults fs.FS
	logger   *zap.Logger
}

// NewLoader creates a loader storing keymaps under configDir. Default keymaps
// come from the files built into the binary.
func NewLoader(configDir string, logger *zap.Logger) *Loader {
	return &Loader{dir: configDir, defaults: embedded, logger: logger}
}

// WithDefaults replaces the source of default keymaps. fsys must hold
// defaults/keymaps/<classid>/default.ini entries.
func (l *Loader) WithDefaults(fsys fs.FS) *Loader {
	l.defaults = fsys
	return l
}

// Path returns the keymap file for classID.
func (l *Loader) Path(classID string) string {
	return filepath.Join(l.dir, "keymaps", classID, "default.ini")
}

// Load applies the keymap of classID to browser, copying the built-in default
// into place first when the file does not exist yet. The browser's existing
// key events are cleared before the new bindings are registered. A nil
// browser only parses the file.
func (l *Loader) Load(classID string, browser roles.Browser) error {
	log := l.logger.With(zap.String("class", classID))
	file := l.Path(classID)
	if err := l.ensure(classID, file); err != nil {
		log.Error("keymap not loaded", zap.Error(err))
		return err
	}

	bindings, err := l.Parse(file)
	if err != nil {
		return err
	}

	if browser != nil {
		browser.ClearKeyEvents()
		for _, b := range bindings {
			browser.RegisterKeyEvent(int(b.Key), b.Code, b.Which, b.Alt, b.Ctrl, b.Shift)
		}
	}
	log.Debug("keymap loaded", zap.String("path", file), zap.Int("bindings", len(bindings)))
	return nil
}

// Parse reads the keymap group of file. Records naming unknown keys are
// logged and dropped.
func (l *Loader) Parse(file string) ([]Binding, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, file)
	if err != nil {
		return nil, fmt.Errorf("parse keymap %s: %w", file, err)
	}

	sec := cfg.Section(group)
	bindings := make([]Binding, 0, len(sec.Keys()))
	for _, k := range sec.Keys() {
		b := l.parseRecord(k.Value())
		b.Name = k.Name()
		key, ok := Lookup(b.Name)
		if !ok {
			l.logger.Warn("unknown key in keymap", zap.String("key", b.Name), zap.String("path", file))
			continue
		}
		b.Key = key
		bindings = append(bindings, b)
	}
	return bindings, nil
}

func (l *Loader) parseRecord(value string) Binding {
	b := Binding{Code: -1, Which: -1}
	for _, field := range strings.Split(value, "|") {
		name, val, ok := strings.Cut(strings.TrimSpace(field), ":")
		if !ok || strings.Contains(val, ":") {
			l.logger.Warn("malformed keymap field", zap.String("field", field), zap.String("record", value))
			continue
		}
		switch name {
		case "code":
			b.Code = atoi(val)
		case "which":
			b.Which = atoi(val)
		case "alt":
			b.Alt = val == "true"
		case "ctrl":
			b.Ctrl = val == "true"
		case "shift":
			b.Shift = val == "true"
		default:
			l.logger.Warn("unknown keymap field",
				zap.String("field", name), zap.String("value", val), zap.String("record", value))
		}
	}
	if b.Which == -1 {
		b.Which = b.Code
	}
	return b
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// ensure copies the built-in default keymap for classID to file when file
// does not exist.
func (l *Loader) ensure(classID, file string) error {
	_, err := os.Stat(file)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s: %v", plugin.ErrKeymapWriteFailed, file, err)
	}

	data, err := fs.ReadFile(l.defaults, path.Join("defaults", "keymaps", classID, "default.ini"))
	if err != nil {
		return fmt.Errorf("%w: no default keymap for class %q: %v", plugin.ErrKeymapWriteFailed, classID, err)
	}
	if err := os.MkdirAll(filepath.Dir(file), 0o750); err != nil {
		return fmt.Errorf("%w: %v", plugin.ErrKeymapWriteFailed, err)
	}
	if err := os.WriteFile(file, data, 0o600); err != nil {
		return fmt.Errorf("%w: %v", plugin.ErrKeymapWriteFailed, err)
	}
	l.logger.Debug("default keymap written", zap.String("path", file))
	return nil
}
