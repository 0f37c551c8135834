package driver

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/mattjoyce/lmcbridge/internal/config"
)

// Args are the parsed driver arguments.
type Args struct {
	Type   string
	Params []config.Param
}

// paramList collects repeated -p key=value flags.
type paramList []config.Param

func (p *paramList) String() string {
	parts := make([]string, 0, len(*p))
	for _, kv := range *p {
		parts = append(parts, kv.Key+"="+kv.Value)
	}
	return strings.Join(parts, ",")
}

func (p *paramList) Set(s string) error {
	*p = append(*p, parseParam(s))
	return nil
}

// parseParam splits "key=value" at the first '=' and trims both sides.
// A missing '=' gives an empty value.
func parseParam(s string) config.Param {
	key, value, _ := strings.Cut(s, "=")
	return config.Param{Key: strings.TrimSpace(key), Value: strings.TrimSpace(value)}
}

// ParseArgs parses "[-p key=value]... type". Flags and the type may appear in any order.
func ParseArgs(argv []string, stderr io.Writer) (Args, error) {
	var params paramList
	fs := flag.NewFlagSet("driver", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Var(&params, "p", "connection option as key=value (repeatable)")
	fs.Var(&params, "param", "connection option as key=value (repeatable)")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: lmcbridge driver [-p key=value]... <type>")
		fs.PrintDefaults()
	}

	var positional []string
	rest := argv
	for {
		if err := fs.Parse(rest); err != nil {
			return Args{}, err
		}
		rest = fs.Args()
		if len(rest) == 0 {
			break
		}
		positional = append(positional, rest[0])
		rest = rest[1:]
	}

	switch len(positional) {
	case 0:
		fs.Usage()
		return Args{}, errors.New("the following arguments are required: type")
	case 1:
	default:
		fs.Usage()
		return Args{}, fmt.Errorf("unrecognized arguments: %s", strings.Join(positional[1:], " "))
	}

	return Args{Type: positional[0], Params: params}, nil
}

// options is an insertion-ordered view of the params. A repeated key keeps its
// first position and its last value.
type options struct {
	keys   []string
	values map[string]string
}

func newOptions(params []config.Param) *options {
	o := &options{values: make(map[string]string, len(params))}
	for _, p := range params {
		if _, seen := o.values[p.Key]; !seen {
			o.keys = append(o.keys, p.Key)
		}
		o.values[p.Key] = p.Value
	}
	return o
}

func (o *options) Map() map[string]string {
	out := make(map[string]string, len(o.values))
	for k, v := range o.values {
		out[k] = v
	}
	return out
}

func (o *options) pop(key string) (string, bool) {
	v, ok := o.values[key]
	if !ok {
		return "", false
	}
	delete(o.values, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
	return v, true
}
