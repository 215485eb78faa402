//
// Copyright 2026 sel4cap authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package rootconfig loads cmd/roottask's demo knobs (slot reservoir
// size, default scheduling priority, log level, child-archive path) from
// an optional TOML file, falling back to built-in defaults when the file
// is absent.
package rootconfig

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Config is the root task's tunable demo knobs.
type Config struct {
	ReservoirSlots   int    `toml:"reservoir_slots"`
	DefaultPriority  uint8  `toml:"default_priority"`
	LogLevel         string `toml:"log_level"`
	ChildArchivePath string `toml:"child_archive_path"`
}

var defaultConfig = Config{
	ReservoirSlots:   64,
	DefaultPriority:  100,
	LogLevel:         "info",
	ChildArchivePath: "children.selfearc",
}

// Load reads path and decodes it over a copy of the default config, so a
// partial file only overrides the fields it sets. A missing file is not
// an error: Load returns the defaults, matching the teacher's
// containerdUtils convention of falling back to a built-in default data
// root when no config file exists.
func Load(path string) (Config, error) {
	cfg := defaultConfig

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, errors.Wrapf(err, "rootconfig: open %s", path)
	}
	defer f.Close()

	if _, err := toml.NewDecoder(f).Decode(&cfg); err != nil {
		return Config{}, errors.Wrapf(err, "rootconfig: decode %s", path)
	}
	return cfg, nil
}

// ParsedLogLevel parses LogLevel into a logrus.Level, for wiring into
// pkg/rlog.Logger().SetLevel at startup.
func (c Config) ParsedLogLevel() (logrus.Level, error) {
	return logrus.ParseLevel(c.LogLevel)
}
