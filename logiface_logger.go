package netius

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/joeycumines/logiface"
)

// logifaceEvent is the minimal Event implementation this module feeds to
// logiface.Logger. It mirrors the shape of a line-oriented structured
// logger: a level plus an ordered list of key/value fields, flushed as one
// line on Log/Logf.
type logifaceEvent struct {
	logiface.UnimplementedEvent
	lvl    logiface.Level
	fields []logifaceField
}

type logifaceField struct {
	key string
	val any
}

func (e *logifaceEvent) Level() logiface.Level { return e.lvl }

func (e *logifaceEvent) AddField(key string, val any) {
	e.fields = append(e.fields, logifaceField{key: key, val: val})
}

// LogifaceLogger adapts a github.com/joeycumines/logiface Logger to this
// package's Logger interface, so LogEntry values recorded via Category,
// LoopID, TaskID, TimerID and Context all surface as logiface fields.
type LogifaceLogger struct {
	inner *logiface.Logger[*logifaceEvent]
	mu    sync.Mutex
	out   io.Writer
}

// NewLogifaceLogger builds a LogifaceLogger writing one line per entry to
// out (os.Stderr if nil), gated at the given minimum level.
func NewLogifaceLogger(level LogLevel, out io.Writer) *LogifaceLogger {
	if out == nil {
		out = os.Stderr
	}
	l := &LogifaceLogger{out: out}
	l.inner = logiface.New[*logifaceEvent](
		logiface.WithLevel[*logifaceEvent](toLogifaceLevel(level)),
		logiface.WithEventFactory[*logifaceEvent](logiface.NewEventFactoryFunc(func(lvl logiface.Level) *logifaceEvent {
			return &logifaceEvent{lvl: lvl}
		})),
		logiface.WithEventReleaser[*logifaceEvent](logiface.NewEventReleaserFunc(func(*logifaceEvent) {})),
		logiface.WithWriter[*logifaceEvent](logiface.NewWriterFunc(l.write)),
	)
	return l
}

func (l *LogifaceLogger) write(e *logifaceEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := fmt.Fprintf(l.out, "%s", formatLogifaceEvent(e))
	return err
}

func formatLogifaceEvent(e *logifaceEvent) string {
	s := "[" + e.lvl.String() + "]"
	for _, f := range e.fields {
		s += fmt.Sprintf(" %s=%v", f.key, f.val)
	}
	return s + "\n"
}

// Log implements Logger.
func (l *LogifaceLogger) Log(entry LogEntry) {
	b := l.inner.Build(toLogifaceLevel(entry.Level))
	if b == nil || !b.Enabled() {
		return
	}
	if entry.Category != "" {
		b.Str("category", entry.Category)
	}
	if entry.LoopID != 0 {
		b.Int64("loop_id", entry.LoopID)
	}
	if entry.TaskID != 0 {
		b.Int64("task_id", entry.TaskID)
	}
	if entry.TimerID != 0 {
		b.Int64("timer_id", entry.TimerID)
	}
	for k, v := range entry.Context {
		b.Any(k, v)
	}
	if entry.Err != nil {
		b.Err(entry.Err)
	}
	b.Log(entry.Message)
}

// IsEnabled implements Logger.
func (l *LogifaceLogger) IsEnabled(level LogLevel) bool {
	return l.inner.Level() >= toLogifaceLevel(level)
}

func toLogifaceLevel(level LogLevel) logiface.Level {
	switch level {
	case LevelDebug:
		return logiface.LevelDebug
	case LevelInfo:
		return logiface.LevelInformational
	case LevelWarn:
		return logiface.LevelWarning
	case LevelError:
		return logiface.LevelError
	default:
		return logiface.LevelInformational
	}
}
