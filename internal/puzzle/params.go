package puzzle

import (
	"encoding/json"
	"net/url"
	"strings"
)

const (
	ParamPuzzleData = "puzzleData"
	ParamConfig     = "config"
)

// Launch is what a puzzle page URL asks for. At most one of Shared and Config is
// set; both nil means the normal upload flow.
type Launch struct {
	Shared *ShareableData
	Config *Config

	// SharedRejected is set when a puzzleData value was present but unusable.
	SharedRejected error
}

// ParseLaunch reads the share token and the legacy JSON config parameter. The
// token wins when both are usable; a bad token falls back to the config.
func ParseLaunch(values url.Values, codec *Codec) Launch {
	var launch Launch

	if token := values.Get(ParamPuzzleData); token != "" && codec != nil {
		data, err := codec.DecodeDetailed(token)
		if err == nil {
			launch.Shared = &data
			return launch
		}
		launch.SharedRejected = err
	}

	if raw := strings.TrimSpace(values.Get(ParamConfig)); raw != "" {
		if cfg, ok := parseLegacyConfig(raw); ok {
			launch.Config = &cfg
		}
	}
	return launch
}

func parseLegacyConfig(raw string) (Config, bool) {
	var wire struct {
		Rows       *int    `json:"rows"`
		Columns    *int    `json:"columns"`
		Difficulty *string `json:"difficulty"`
	}
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return Config{}, false
	}
	if wire.Rows == nil || wire.Columns == nil || wire.Difficulty == nil {
		return Config{}, false
	}
	difficulty, err := ParseDifficulty(*wire.Difficulty)
	if err != nil {
		return Config{}, false
	}
	cfg := Config{Rows: *wire.Rows, Columns: *wire.Columns, Difficulty: difficulty}
	if cfg.Validate() != nil {
		return Config{}, false
	}
	return cfg, true
}

// ShareURL sets the puzzleData parameter on base, keeping its other parameters.
func ShareURL(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Del(ParamConfig)
	q.Set(ParamPuzzleData, token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
