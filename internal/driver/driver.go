// Package driver is the process on the other end of a connection: it reads
// frames from a motion capture SDK and writes them to stdout as JSON lines.
//
// lmcbridge normally runs the embedded Python driver. This Go implementation
// follows the same contract and serves the built-in "test" source, so a bridge
// can run end to end without the vendor bindings installed.
package driver

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"runtime/debug"
	"strings"
	"time"

	"github.com/mattjoyce/lmcbridge/internal/log"
	"github.com/mattjoyce/lmcbridge/internal/protocol"
)

// Body is one rigid body reported by a Source.
type Body struct {
	Name     string
	Position [3]float64
	Rotation *[4]float64 // w, x, y, z
}

// Source is a connected motion capture system.
type Source interface {
	// WaitForNextFrame blocks until a new frame is available.
	WaitForNextFrame(ctx context.Context) error
	RigidBodies() []Body
	Close() error
}

// SDK connects to motion capture systems.
type SDK interface {
	Connect(kind string, options map[string]string) (Source, error)
	// ConnectHost is the older binding that only accepts a hostname.
	ConnectHost(kind, hostname string) (Source, error)
}

// incompatibleArgs marks an SDK that rejects an options mapping.
const incompatibleArgs = "incompatible function arguments"

// Run executes the driver with argv and writes records to out. It returns the
// process exit code: 2 for usage errors, 1 after reporting an error record,
// 0 when ctx ends.
func Run(ctx context.Context, argv []string, sdk SDK, out, stderr io.Writer) (code int) {
	args, err := ParseArgs(argv, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(stderr, "driver: error: %v\n", err)
		}
		return 2
	}

	w := &writer{out: out}
	defer func() {
		if r := recover(); r != nil {
			log.Get().Debug("driver panic", "value", r, "stack", string(debug.Stack()))
			w.fail(fmt.Errorf("%v", r))
			code = 1
		}
	}()

	src, err := connect(sdk, args)
	if err != nil {
		w.fail(err)
		return 1
	}
	defer func() { _ = src.Close() }()

	for {
		if err := src.WaitForNextFrame(ctx); err != nil {
			if ctx.Err() != nil {
				return 0
			}
			w.fail(err)
			return 1
		}

		items := encodeBodies(src.RigidBodies())
		if len(items) == 0 {
			continue
		}
		msg := &protocol.FrameMessage{Items: items, T: unixSeconds(time.Now())}
		if err := protocol.EncodeMessage(w.out, msg); err != nil {
			// The bridge has gone away.
			return 1
		}
	}
}

// connect opens the source, falling back to the hostname-only binding when
// the SDK rejects the options mapping.
func connect(sdk SDK, args Args) (Source, error) {
	opts := newOptions(args.Params)

	src, err := sdk.Connect(args.Type, opts.Map())
	if err == nil {
		return src, nil
	}
	if !strings.Contains(err.Error(), incompatibleArgs) {
		return nil, err
	}

	hostname, ok := opts.pop("hostname")
	if !ok {
		return nil, errors.New("hostname not specified")
	}
	if len(opts.keys) > 0 {
		return nil, fmt.Errorf("unhandled options: %s", strings.Join(opts.keys, ", "))
	}
	return sdk.ConnectHost(args.Type, hostname)
}

func encodeBodies(bodies []Body) []protocol.Item {
	items := make([]protocol.Item, 0, len(bodies))
	for _, b := range bodies {
		items = append(items, protocol.Item{
			Name:     b.Name,
			Position: [3]float64{round3(b.Position[0]), round3(b.Position[1]), round3(b.Position[2])},
			Rotation: b.Rotation,
		})
	}
	return items
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

type writer struct {
	out io.Writer
}

func (w *writer) fail(err error) {
	_ = protocol.EncodeMessage(w.out, &protocol.ErrorMessage{Error: err.Error()})
}
