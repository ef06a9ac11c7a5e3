// Copyright 2024 The stacks-blockchain-go Authors
// This file is part of the stacks-blockchain-go library.
//
// The stacks-blockchain-go library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The stacks-blockchain-go library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the stacks-blockchain-go library. If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/blockstack/stacks-blockchain-go/log"
)

func parseLevel(s string) (log.Lvl, error) {
	switch strings.ToLower(s) {
	case "trace":
		return log.LvlTrace, nil
	case "debug":
		return log.LvlDebug, nil
	case "info":
		return log.LvlInfo, nil
	case "warn", "warning":
		return log.LvlWarn, nil
	case "error":
		return log.LvlError, nil
	case "crit", "critical":
		return log.LvlCrit, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// ApplyLogging builds the terminal (and, if LogFile is set, rotating-file)
// handler chain this Config describes and installs it as the root logger,
// matching the geth cmd/geth startup convention of resolving logging
// before any component is constructed.
func (c *Config) ApplyLogging() error {
	lvl, err := parseLevel(c.LogLevel)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	handlers := []log.Handler{
		log.StreamHandler(os.Stderr, log.TerminalFormat(isatty.IsTerminal(os.Stderr.Fd()))),
	}
	if c.LogFile != "" {
		fmtr := log.Format(log.TerminalFormat(false))
		if c.LogJSON {
			fmtr = log.JSONLineFormat()
		}
		handlers = append(handlers, log.RotatingFileHandler(c.LogFile, c.LogMaxSizeMB, c.LogMaxBackups, c.LogMaxAgeDays, fmtr))
	}

	log.Root().SetHandler(log.LvlFilterHandler(lvl, log.MultiHandler(handlers...)))
	return nil
}
