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

package log

import (
	"bytes"
	"fmt"

	"github.com/fatih/color"
)

var lvlColor = map[Lvl]*color.Color{
	LvlTrace: color.New(color.FgHiBlack),
	LvlDebug: color.New(color.FgBlue),
	LvlInfo:  color.New(color.FgGreen),
	LvlWarn:  color.New(color.FgYellow),
	LvlError: color.New(color.FgRed),
	LvlCrit:  color.New(color.FgHiRed, color.Bold),
}

// TerminalFormat renders a Record the way a geth node prints to an
// attached terminal: "LVL[timestamp] msg k=v k=v", colorized by level when
// useColor is set (decided by the caller from mattn/go-isatty).
func TerminalFormat(useColor bool) Format {
	return formatFunc(func(r *Record) []byte {
		var buf bytes.Buffer
		lvl := r.Lvl.String()
		if useColor {
			if c, ok := lvlColor[r.Lvl]; ok {
				lvl = c.Sprint(lvl)
			}
		}
		fmt.Fprintf(&buf, "%s[%s] %s", lvl, r.Time.Format("01-02|15:04:05.000"), r.Msg)
		for i := 0; i+1 < len(r.Ctx); i += 2 {
			fmt.Fprintf(&buf, " %v=%v", r.Ctx[i], formatValue(r.Ctx[i+1]))
		}
		buf.WriteByte('\n')
		return buf.Bytes()
	})
}

// JSONLineFormat renders a Record as one JSON object per line, for
// ingestion by a log aggregator.
func JSONLineFormat() Format {
	return formatFunc(func(r *Record) []byte {
		var buf bytes.Buffer
		fmt.Fprintf(&buf, `{"t":%q,"lvl":%q,"msg":%q`, r.Time.Format(timeFmtRFC3339), r.Lvl.String(), r.Msg)
		for i := 0; i+1 < len(r.Ctx); i += 2 {
			fmt.Fprintf(&buf, `,%q:%q`, fmt.Sprint(r.Ctx[i]), formatValue(r.Ctx[i+1]))
		}
		buf.WriteString("}\n")
		return buf.Bytes()
	})
}

const timeFmtRFC3339 = "2006-01-02T15:04:05.000Z07:00"

func formatValue(v interface{}) string {
	switch x := v.(type) {
	case error:
		return x.Error()
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(v)
	}
}
