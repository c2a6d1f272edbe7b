package weft

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strconv"
	"sync"
	"text/template"
	"time"
)

// Logger prints structured log lines describing runtime events, the way an
// Application reports a request's outcome or a failed middleware.
//
// Grounded on air's Logger (a text/template-driven formatter writing
// leveled JSON or text lines to an io.Writer), generalized to stand alone
// from the Application so it can be constructed and tested independently;
// air's Logger reaches back into its owning *Air for AppName/LoggerEnabled/
// LoggerFormat, which this version instead owns directly.
type Logger struct {
	AppName string
	Enabled bool
	Format string

	Output io.Writer

	template *template.Template
	bufferPool *sync.Pool
	mutex sync.Mutex
	levels []string
}

type loggerLevel uint8

const (
	lvlDebug loggerLevel = iota
	lvlInfo
	lvlWarn
	lvlError
	lvlFatal
)

// newLogger returns a new Logger writing JSON lines to os.Stdout, enabled by
// default.
func newLogger() *Logger {
	return &Logger{
		AppName: "weft",
		Enabled: true,
		Format: `{"app_name":"{{.app_name}}","time":"{{.time_rfc3339}}",` +
			`"level":"{{.level}}","file":"{{.short_file}}","line":"{{.line}}"}`,
		Output: os.Stdout,
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 256))
			},
		},
		levels: []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"},
	}
}

// Print prints i with no level annotation.
func (l *Logger) Print(i ...interface{}) {
	fmt.Fprintln(l.Output, i...)
}

// Printf prints a formatted message with no level annotation.
func (l *Logger) Printf(format string, args ...interface{}) {
	fmt.Fprintf(l.Output, format+"\n", args...)
}

// Debug prints a DEBUG-level line.
func (l *Logger) Debug(i ...interface{}) { l.log(lvlDebug, "", i...) }

// Debugf prints a formatted DEBUG-level line.
func (l *Logger) Debugf(format string, args ...interface{}) { l.log(lvlDebug, format, args...) }

// Info prints an INFO-level line.
func (l *Logger) Info(i ...interface{}) { l.log(lvlInfo, "", i...) }

// Infof prints a formatted INFO-level line.
func (l *Logger) Infof(format string, args ...interface{}) { l.log(lvlInfo, format, args...) }

// Warn prints a WARN-level line.
func (l *Logger) Warn(i ...interface{}) { l.log(lvlWarn, "", i...) }

// Warnf prints a formatted WARN-level line.
func (l *Logger) Warnf(format string, args ...interface{}) { l.log(lvlWarn, format, args...) }

// Error prints an ERROR-level line.
func (l *Logger) Error(i ...interface{}) { l.log(lvlError, "", i...) }

// Errorf prints a formatted ERROR-level line.
func (l *Logger) Errorf(format string, args ...interface{}) { l.log(lvlError, format, args...) }

// Fatal prints a FATAL-level line and exits the process.
func (l *Logger) Fatal(i ...interface{}) {
	l.log(lvlFatal, "", i...)
	os.Exit(1)
}

// Fatalf prints a formatted FATAL-level line and exits the process.
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.log(lvlFatal, format, args...)
	os.Exit(1)
}

func (l *Logger) log(lvl loggerLevel, format string, args ...interface{}) {
	if !l.Enabled {
		return
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.template == nil {
		l.template = template.Must(template.New("logger").Parse(l.Format))
	}

	message := fmt.Sprint(args...)
	if format != "" {
		message = fmt.Sprintf(format, args...)
	}

	buf := l.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		l.bufferPool.Put(buf)
	}()

	_, file, line, _ := runtime.Caller(3)

	data := map[string]interface{}{
		"app_name":     l.AppName,
		"time_rfc3339": time.Now().Format(time.RFC3339),
		"level":        l.levels[lvl],
		"short_file":   path.Base(file),
		"long_file":    file,
		"line":         strconv.Itoa(line),
	}

	if err := l.template.Execute(buf, data); err != nil {
		return
	}

	s := buf.String()
	if n := len(s); n > 0 && s[n-1] == '}' {
		buf.Truncate(n - 1)
		buf.WriteByte(',')

		if json.Valid([]byte(`"` + message + `"`)) {
			buf.WriteString(`"message":"`)
			buf.WriteString(message)
			buf.WriteString(`"}`)
		} else {
			b, _ := json.Marshal(message)
			buf.WriteString(`"message":`)
			buf.Write(b)
			buf.WriteByte('}')
		}
	} else {
		buf.WriteByte(' ')
		buf.WriteString(message)
	}

	buf.WriteByte('\n')
	l.Output.Write(buf.Bytes())
}
