package log

import (
	"time"

	"go.uber.org/zap"
)

// Field is a typed log attribute.
type Field = zap.Field

func Any(key string, val any) Field                               { return zap.Any(key, val) }
func Bool(key string, val bool) Field                             { return zap.Bool(key, val) }
func Duration(key string, val time.Duration) Field                { return zap.Duration(key, val) }
func Float64(key string, val float64) Field                       { return zap.Float64(key, val) }
func Int(key string, val int) Field                               { return zap.Int(key, val) }
func Int64(key string, val int64) Field                           { return zap.Int64(key, val) }
func String(key string, val string) Field                         { return zap.String(key, val) }
func Strings(key string, val []string) Field                      { return zap.Strings(key, val) }
func Uint32(key string, val uint32) Field                         { return zap.Uint32(key, val) }
func Uint64(key string, val uint64) Field                         { return zap.Uint64(key, val) }
func Stringer(key string, val interface{ String() string }) Field { return zap.Stringer(key, val) }

// Error attaches err under the "error" key.
func Error(err error) Field { return zap.Error(err) }

func ErrorWithKey(key string, err error) Field { return zap.NamedError(key, err) }

// Component tags a child logger with the owning subsystem.
func Component(name string) Field { return zap.String("component", name) }
