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
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Format renders a Record to bytes.
type Format interface {
	Format(r *Record) []byte
}

type formatFunc func(*Record) []byte

func (f formatFunc) Format(r *Record) []byte { return f(r) }

// FuncHandler turns a function into a Handler.
type FuncHandler func(r *Record) error

func (f FuncHandler) Log(r *Record) error { return f(r) }

// StreamHandler writes formatted records to w, one write per record,
// serialized by a mutex (matches geth's StreamHandler: many writers, e.g.
// peer/relayer/coordinator threads, share one os.Stderr).
func StreamHandler(w io.Writer, fmtr Format) Handler {
	var mu sync.Mutex
	return FuncHandler(func(r *Record) error {
		mu.Lock()
		defer mu.Unlock()
		_, err := w.Write(fmtr.Format(r))
		return err
	})
}

// LvlFilterHandler drops records below minLvl before handing them to h.
func LvlFilterHandler(minLvl Lvl, h Handler) Handler {
	return FuncHandler(func(r *Record) error {
		if r.Lvl < minLvl {
			return nil
		}
		return h.Log(r)
	})
}

// MultiHandler fans a record out to every handler in hs, matching geth's
// MultiHandler (e.g. a terminal handler plus a rotating file handler).
func MultiHandler(hs ...Handler) Handler {
	return FuncHandler(func(r *Record) error {
		var firstErr error
		for _, h := range hs {
			if err := h.Log(r); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	})
}

// RotatingFileHandler writes formatted records to a size/age-rotated log
// file via lumberjack, the rotation library every long-running geth
// deployment wires into its file handler.
func RotatingFileHandler(path string, maxSizeMB, maxBackups, maxAgeDays int, fmtr Format) Handler {
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
	return StreamHandler(lj, fmtr)
}

// CallerFileHandler appends a "caller" key naming the file:line that issued
// the log call, matching geth's own CallerFileHandler. Wired in at Crit
// level: a node-halting failure is exactly the case worth paying the stack
// walk for (coordinator poisoned cell, persistent chunk-store IoError).
func CallerFileHandler(h Handler) Handler {
	return FuncHandler(func(r *Record) error {
		r.Ctx = append(r.Ctx, "caller", fmt.Sprintf("%+v", r.Call))
		return h.Log(r)
	})
}

func useColorDefault() bool {
	return isatty.IsTerminal(os.Stderr.Fd())
}
