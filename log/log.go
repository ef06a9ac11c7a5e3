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

// Package log is a structured, leveled logger in the shape geth's log
// package has carried since the log15 days: named child loggers built by
// appending key/value context, a pluggable Handler, and level filtering.
// Every chainstate component is handed one of these rather than reaching
// for a package-global, so that coordinator/relayer/miner/peer output
// interleaves with an obvious component tag.
package log

import (
	"fmt"
	"os"
	"time"

	"github.com/go-stack/stack"
)

// Lvl is a logging severity level, ordered least to most severe.
type Lvl int

const (
	LvlTrace Lvl = iota
	LvlDebug
	LvlInfo
	LvlWarn
	LvlError
	LvlCrit
)

func (l Lvl) String() string {
	switch l {
	case LvlTrace:
		return "trce"
	case LvlDebug:
		return "dbug"
	case LvlInfo:
		return "info"
	case LvlWarn:
		return "warn"
	case LvlError:
		return "eror"
	case LvlCrit:
		return "crit"
	default:
		return "unkn"
	}
}

// Record is one emitted log line.
type Record struct {
	Time time.Time
	Lvl  Lvl
	Msg  string
	Ctx  []interface{}
	Call stack.Call
}

// Handler processes a Record. Implementations must be safe for concurrent
// use: multiple chainstate threads (peer, relayer, coordinator) log
// concurrently.
type Handler interface {
	Log(r *Record) error
}

// Logger is the interface every component depends on.
type Logger interface {
	New(ctx ...interface{}) Logger

	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Crit(msg string, ctx ...interface{})

	SetHandler(h Handler)
}

type logger struct {
	ctx []interface{}
	h   *swapHandler
}

type swapHandler struct {
	handler Handler
}

func (s *swapHandler) Log(r *Record) error { return s.handler.Log(r) }

// Root returns the default logger, writing to stderr via a terminal
// handler, at LvlInfo.
func Root() Logger { return root }

var root = &logger{h: &swapHandler{handler: LvlFilterHandler(LvlInfo, StreamHandler(os.Stderr, TerminalFormat(useColorDefault())))}}

// New returns a child of the root logger with the given context appended.
func New(ctx ...interface{}) Logger { return root.New(ctx...) }

func (l *logger) New(ctx ...interface{}) Logger {
	child := &logger{h: l.h}
	child.ctx = append(append([]interface{}{}, l.ctx...), normalize(ctx)...)
	return child
}

func (l *logger) SetHandler(h Handler) { l.h.handler = h }

func (l *logger) write(lvl Lvl, msg string, ctx []interface{}) {
	r := &Record{
		Time: time.Now(),
		Lvl:  lvl,
		Msg:  msg,
		Ctx:  append(append([]interface{}{}, l.ctx...), normalize(ctx)...),
		Call: stack.Caller(2),
	}
	if err := l.h.Log(r); err != nil {
		fmt.Fprintf(os.Stderr, "log: handler error: %v\n", err)
	}
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.write(LvlTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.write(LvlDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.write(LvlInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.write(LvlWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.write(LvlError, msg, ctx) }
func (l *logger) Crit(msg string, ctx ...interface{}) {
	r := &Record{
		Time: time.Now(),
		Lvl:  LvlCrit,
		Msg:  msg,
		Ctx:  append(append([]interface{}{}, l.ctx...), normalize(ctx)...),
		Call: stack.Caller(2),
	}
	if err := CallerFileHandler(l.h).Log(r); err != nil {
		fmt.Fprintf(os.Stderr, "log: handler error: %v\n", err)
	}
	os.Exit(1)
}

// normalize pads an odd-length ctx with a missing-value marker, matching
// the permissive key/value calling convention call sites rely on.
func normalize(ctx []interface{}) []interface{} {
	if len(ctx)%2 != 0 {
		ctx = append(ctx, "LOG_ERROR_MISSING_VALUE")
	}
	return ctx
}

// Convenience package-level functions delegating to Root().
func Trace(msg string, ctx ...interface{}) { root.Trace(msg, ctx...) }
func Debug(msg string, ctx ...interface{}) { root.Debug(msg, ctx...) }
func Info(msg string, ctx ...interface{})  { root.Info(msg, ctx...) }
func Warn(msg string, ctx ...interface{})  { root.Warn(msg, ctx...) }
func Error(msg string, ctx ...interface{}) { root.Error(msg, ctx...) }
func Crit(msg string, ctx ...interface{})  { root.Crit(msg, ctx...) }
