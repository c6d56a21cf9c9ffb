// Package brand loads and hot-reloads the operator-editable brand
// configuration file: role aliases and permission-mode bypass aliases
// layered on top of the compiled Role Registry and Permission Engine
// (spec.md §9 Open Question: "an operator can remove [bypass aliases] via
// the hot-reloaded brand config file without a code change").
//
// Grounded on the teacher's skills directory watcher wiring
// (cmd/gateway.go's "skillsWatcher, err := skills.NewWatcher(skillsLoader)"
// call, reshaped here around a single JSON5 file instead of a directory of
// skill definitions) and its own config file format, titanous/json5.
package brand

import (
	"fmt"
	"os"

	"github.com/titanous/json5"

	"github.com/nextlevelbuilder/squad/internal/permissions"
	"github.com/nextlevelbuilder/squad/internal/roles"
)

// Config is the brand config file's shape. Every field is optional; a
// missing file, or a file with empty fields, leaves the compiled defaults
// untouched.
type Config struct {
	// RoleAliases maps an extra spelling to a canonical registry role id,
	// e.g. {"mm": "master"} — additive to the compiled brandAliases table.
	RoleAliases map[string]string `json:"roleAliases"`

	// DisabledBypassAliases removes entries from the default-on
	// bypass-permissions alias set ("yolo", "safe-yolo", "danger",
	// "bypass", "bypass-permissions", "bypassPermissions") without a code
	// change.
	DisabledBypassAliases []string `json:"disabledBypassAliases"`
}

// Load reads and parses a brand config file at path. A missing file is not
// an error: it returns a zero-value Config, since brand configuration is
// entirely optional.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("brand: read config: %w", err)
	}
	var cfg Config
	if err := json5.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("brand: parse config: %w", err)
	}
	return cfg, nil
}

// Apply layers cfg on top of the compiled Role Registry and Permission
// Engine. It is cumulative: re-applying a config after a prior Apply only
// adds role aliases (the registry never forgets one) but fully replaces
// which bypass aliases are disabled, since that set reflects the file's
// current, not historical, contents.
func Apply(cfg Config) {
	for alias, canonical := range cfg.RoleAliases {
		roles.RegisterAlias(alias, canonical)
	}

	for _, alias := range defaultBypassAliases {
		permissions.SetBypassAlias(alias, true)
	}
	for _, alias := range cfg.DisabledBypassAliases {
		permissions.SetBypassAlias(alias, false)
	}
}

var defaultBypassAliases = []string{
	"yolo", "safe-yolo", "danger", "bypass", "bypass-permissions", "bypassPermissions",
}
