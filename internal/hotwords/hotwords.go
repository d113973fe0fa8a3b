package hotwords

import (
	"encoding/json"
	"fmt"
	"os"
)

// HotWord is a vocabulary hint biasing recognition toward a specific term
type HotWord struct {
	Word   string `json:"word"`
	Weight int    `json:"weight"`
}

// Config is the process-wide hot-word configuration, loaded once at startup
// and read-only afterwards.
type Config struct {
	HotWords []HotWord `json:"hotWords"`
	Settings Settings  `json:"settings"`
}

// Settings holds the hot-word feature toggle
type Settings struct {
	Enabled bool `json:"enabled"`
}

// Empty returns a disabled configuration with no words
func Empty() Config {
	return Config{Settings: Settings{Enabled: false}}
}

// Load reads the hot-word configuration from a JSON file.
// Any failure (missing file, malformed JSON) yields an empty disabled
// configuration together with the error; callers log and continue rather
// than failing startup.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Empty(), fmt.Errorf("failed to read hot words file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Empty(), fmt.Errorf("failed to parse hot words file: %w", err)
	}

	return cfg, nil
}

// Active returns the hot words to attach to a new session: the word list
// when the feature is enabled and non-empty, otherwise nil.
func (c Config) Active() []HotWord {
	if !c.Settings.Enabled || len(c.HotWords) == 0 {
		return nil
	}
	return c.HotWords
}
