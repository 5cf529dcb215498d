package config

import (
	"github.com/BurntSushi/toml"
	"github.com/tliron/commonlog"
)

// Config carries the server settings. Values come from a TOML file, then
// from the client's initialization options, later sources winning.
type Config struct {
	WorkspaceRoot string `toml:"-"`

	CoqtopPath  string   `toml:"coqtop_path"`
	CoqtopArgs  []string `toml:"coqtop_args"`
	VerboseAdds bool     `toml:"verbose_adds"`
	PrintWidth  int      `toml:"print_width"`
}

func NewConfig() *Config {
	return &Config{
		CoqtopPath: "coqidetop",
		PrintWidth: 78,
	}
}

// LoadFile merges settings from a TOML file. Missing files are not an
// error; a proof script should still open without any settings around.
func (c *Config) LoadFile(path string) {
	logger := commonlog.GetLoggerf("coqstm.config")
	if path == "" {
		return
	}
	if _, err := toml.DecodeFile(path, c); err != nil {
		logger.Warningf("could not load settings from %s: %v", path, err)
		return
	}
	logger.Infof("loaded settings from %s", path)
}

// ApplyInitializationOptions merges the client's initializationOptions.
func (c *Config) ApplyInitializationOptions(opts any) {
	m, ok := opts.(map[string]any)
	if !ok {
		return
	}
	if v, ok := m["coqtop_path"]; ok {
		if str, ok := v.(string); ok && str != "" {
			c.CoqtopPath = str
		}
	}
	if v, ok := m["coqtop_args"]; ok {
		if arr, ok := v.([]any); ok {
			var args []string
			for _, a := range arr {
				if str, ok := a.(string); ok && str != "" {
					args = append(args, str)
				}
			}
			if len(args) > 0 {
				c.CoqtopArgs = args
			}
		}
	}
	if v, ok := m["verbose_adds"]; ok {
		if b, ok := v.(bool); ok {
			c.VerboseAdds = b
		}
	}
	if v, ok := m["print_width"]; ok {
		if f, ok := v.(float64); ok && f > 0 {
			c.PrintWidth = int(f)
		}
	}
}
