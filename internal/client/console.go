package client

import (
	"fmt"
	"io"
	"sync"

	"github.com/gookit/color"
	"github.com/schollz/progressbar/v3"
)

// console is the user-facing output of a session. The listener and the
// command loop both print to it.
type console struct {
	mu sync.Mutex
	w  io.Writer
}

func (c *console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.w.Write(p)
}

func (c *console) println(style color.Color, format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, style.Sprintf(format, args...))
}

func (c *console) info(format string, args ...any)    { c.println(color.FgCyan, format, args...) }
func (c *console) success(format string, args ...any) { c.println(color.FgGreen, format, args...) }
func (c *console) warn(format string, args ...any)    { c.println(color.FgYellow, format, args...) }
func (c *console) error(format string, args ...any)   { c.println(color.FgRed, format, args...) }
func (c *console) plain(format string, args ...any)   { c.println(color.FgDefault, format, args...) }

// progress returns a byte progress bar, or nil for empty files.
func (c *console) progress(size int64, description string) *progressbar.ProgressBar {
	if size <= 0 {
		return nil
	}
	return progressbar.NewOptions64(size,
		progressbar.OptionSetWriter(c),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionOnCompletion(func() { _, _ = c.Write([]byte("\n")) }),
	)
}
