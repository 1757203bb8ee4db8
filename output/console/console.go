// Package console provides a log sink component that writes event lines to
// a terminal or any io.Writer.
package console

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/c360/semwire/component"
	"github.com/c360/semwire/config"
	"github.com/c360/semwire/errors"
	"github.com/c360/semwire/output"
	"github.com/c360/semwire/registry"
)

// Component properties
const (
	PropPrefix = "prefix"
	PropFormat = "format" // "text" (default) or "json"
)

// Console writes each event as one line.
type Console struct {
	mu     sync.Mutex
	w      io.Writer
	prefix string
	format string
}

var (
	_ output.Sink        = (*Console)(nil)
	_ component.Modifier = (*Console)(nil)
)

// NewWithWriter returns a constructor for consoles writing to w.
func NewWithWriter(w io.Writer) component.NewFunc {
	return func(ctx *component.Context) (any, error) {
		c := &Console{w: w}
		if err := c.apply(ctx.Properties()); err != nil {
			return nil, err
		}
		return c, nil
	}
}

func (c *Console) apply(props registry.Properties) error {
	format := config.GetString(props, PropFormat, "text")
	if format != "text" && format != "json" {
		return errors.WrapInvalid(fmt.Errorf("%w: format %q", errors.ErrInvalidConfig, format),
			"Console", "apply", "validate format")
	}
	c.mu.Lock()
	c.prefix = config.GetString(props, PropPrefix, "")
	c.format = format
	c.mu.Unlock()
	return nil
}

// Modified applies new properties in place.
func (c *Console) Modified(_ *component.Context, props registry.Properties) error {
	return c.apply(props)
}

// Write prints one event line.
func (c *Console) Write(source, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.format == "json" {
		data, err := json.Marshal(output.NewEntry(source, message))
		if err != nil {
			return
		}
		_, _ = fmt.Fprintf(c.w, "%s%s\n", c.prefix, data)
		return
	}
	_, _ = fmt.Fprintf(c.w, "%s[%s] %s\n", c.prefix, source, message)
}

// Register registers the console implementation writing to stdout.
func Register(impls *component.Registry) error {
	return impls.RegisterWithConfig(component.RegistrationConfig{
		Name:        "console",
		New:         NewWithWriter(os.Stdout),
		Description: "Log sink printing event lines to stdout",
		Version:     "1.0.0",
	})
}
