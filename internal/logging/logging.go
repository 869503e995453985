// Package logging builds the slog logger configured by config.LogConfig.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/golang-cz/devslog"
	"github.com/phsym/console-slog"
	slogformatter "github.com/samber/slog-formatter"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tanbro/sipua/pkg/sip/config"
)

var withFormatters = slogformatter.NewFormatterHandler(
	slogformatter.ErrorFormatter("error"),
	slogformatter.FormatByType(func(a net.Addr) slog.Value {
		if a == nil {
			return slog.StringValue("")
		}
		return slog.StringValue(a.Network() + ":" + a.String())
	}),
	slogformatter.FormatByType(func(c net.PacketConn) slog.Value {
		return slog.GroupValue(
			slog.String("type", fmt.Sprintf("%T", c)),
			slog.Any("local_addr", c.LocalAddr()),
		)
	}),
)

// ParseLevel maps debug, info, warn and error to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// New returns a logger writing to out, or to the rotating file of cfg when
// a path is set. The returned closer releases the file; it is a no-op for
// out.
func New(cfg config.LogConfig, out io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var closer io.Closer = nopCloser{}
	if cfg.File.Path != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSize,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAge,
			Compress:   cfg.File.Compress,
		}
		out, closer = lj, lj
	}

	var h slog.Handler
	switch cfg.Format {
	case config.FormatDev:
		h = devslog.NewHandler(out, &devslog.Options{
			HandlerOptions: &slog.HandlerOptions{AddSource: true, Level: level},
			SortKeys:       true,
			TimeFormat:     time.RFC3339Nano,
		})
	case config.FormatJSON:
		h = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	case config.FormatText:
		h = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	case config.FormatConsole, "":
		h = console.NewHandler(out, &console.HandlerOptions{
			Level:      level,
			TimeFormat: time.RFC3339Nano,
			NoColor:    cfg.File.Path != "",
		})
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return slog.New(withFormatters(h)), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
