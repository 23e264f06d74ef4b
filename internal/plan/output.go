package plan

import (
	"io"
	"os"
	"strings"
)

// limitedBuffer captures a command's stdout/stderr for reporting (e.g. a
// JUnit test failure message) without holding the whole stream if it's
// unexpectedly large.
type limitedBuffer struct {
	b     strings.Builder
	limit int
}

const defaultCaptureLimit = 64 * 1024

func (l *limitedBuffer) Write(p []byte) (int, error) {
	if l.limit == 0 {
		l.limit = defaultCaptureLimit
	}
	remaining := l.limit - l.b.Len()
	if remaining > 0 {
		n := len(p)
		if n > remaining {
			n = remaining
		}
		l.b.Write(p[:n])
	}
	return len(p), nil
}

func (l *limitedBuffer) String() string { return l.b.String() }

func openOutputFiles(stdoutPath, stderrPath string) (out, errf *os.File, err error) {
	if stdoutPath != "" {
		out, err = os.Create(stdoutPath)
		if err != nil {
			return nil, nil, err
		}
	}
	if stderrPath != "" {
		errf, err = os.Create(stderrPath)
		if err != nil {
			if out != nil {
				out.Close()
			}
			return nil, nil, err
		}
	}
	return out, errf, nil
}

func multiWriter(file *os.File, buf *limitedBuffer, show bool, console io.Writer) io.Writer {
	writers := []io.Writer{buf}
	if file != nil {
		writers = append(writers, file)
	}
	if show {
		writers = append(writers, console)
	}
	return io.MultiWriter(writers...)
}
