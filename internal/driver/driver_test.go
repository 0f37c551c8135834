package driver

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/lmcbridge/internal/config"
	"github.com/mattjoyce/lmcbridge/internal/protocol"
)

// fakeSDK records connect calls.
type fakeSDK struct {
	connectErr error
	source     Source

	gotOptions  map[string]string
	gotHostname string
	hostCalls   int
}

func (f *fakeSDK) Connect(_ string, options map[string]string) (Source, error) {
	f.gotOptions = options
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	return f.source, nil
}

func (f *fakeSDK) ConnectHost(_, hostname string) (Source, error) {
	f.hostCalls++
	f.gotHostname = hostname
	return f.source, nil
}

// scriptedSource replays fixed frames and then fails.
type scriptedSource struct {
	frames [][]Body
	next   int
	cur    []Body
	endErr error
}

func (s *scriptedSource) WaitForNextFrame(context.Context) error {
	if s.next >= len(s.frames) {
		return s.endErr
	}
	s.cur = s.frames[s.next]
	s.next++
	return nil
}

func (s *scriptedSource) RigidBodies() []Body { return s.cur }
func (s *scriptedSource) Close() error        { return nil }

func decodeAll(t *testing.T, out *bytes.Buffer) []protocol.Message {
	t.Helper()
	var msgs []protocol.Message
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		msg, err := protocol.DecodeMessage([]byte(line))
		require.NoError(t, err, line)
		msgs = append(msgs, msg)
	}
	return msgs
}

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		argv    []string
		want    Args
		wantErr bool
	}{
		{
			name: "type only",
			argv: []string{"vicon"},
			want: Args{Type: "vicon"},
		},
		{
			name: "params trimmed",
			argv: []string{"-p", " hostname = 10.0.0.5 ", "--param", "port=801", "optitrack"},
			want: Args{Type: "optitrack", Params: []config.Param{
				{Key: "hostname", Value: "10.0.0.5"},
				{Key: "port", Value: "801"},
			}},
		},
		{
			name: "type before params",
			argv: []string{"qualisys", "-p", "hostname=q.local"},
			want: Args{Type: "qualisys", Params: []config.Param{{Key: "hostname", Value: "q.local"}}},
		},
		{
			name: "value containing equals",
			argv: []string{"-p", "filter=a=b", "vrpn"},
			want: Args{Type: "vrpn", Params: []config.Param{{Key: "filter", Value: "a=b"}}},
		},
		{name: "missing type", argv: []string{"-p", "a=b"}, wantErr: true},
		{name: "extra positional", argv: []string{"vicon", "extra"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseArgs(tt.argv, &bytes.Buffer{})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Type, got.Type)
			assert.Equal(t, len(tt.want.Params), len(got.Params))
			for i := range tt.want.Params {
				assert.Equal(t, tt.want.Params[i], got.Params[i])
			}
		})
	}
}

func TestRunEmitsRoundedFramesAndSkipsEmpty(t *testing.T) {
	rot := [4]float64{1, 0, 0, 0}
	src := &scriptedSource{
		frames: [][]Body{
			{{Name: "cf1", Position: [3]float64{1.23456, -0.0004, 2.0006}, Rotation: &rot}},
			{},
			{{Name: "cf2", Position: [3]float64{0, 0, 0}}},
		},
		endErr: errors.New("connection lost"),
	}
	sdk := &fakeSDK{source: src}

	var out bytes.Buffer
	code := Run(context.Background(), []string{"-p", "hostname=h", "vicon"}, sdk, &out, &bytes.Buffer{})
	assert.Equal(t, 1, code)
	assert.Equal(t, map[string]string{"hostname": "h"}, sdk.gotOptions)

	msgs := decodeAll(t, &out)
	require.Len(t, msgs, 3)

	f1 := msgs[0].(*protocol.FrameMessage)
	require.Len(t, f1.Items, 1)
	assert.Equal(t, [3]float64{1.235, -0, 2.001}, f1.Items[0].Position)
	assert.Equal(t, &rot, f1.Items[0].Rotation)
	assert.Greater(t, f1.T, 0.0)

	f2 := msgs[1].(*protocol.FrameMessage)
	assert.Equal(t, "cf2", f2.Items[0].Name)
	assert.Nil(t, f2.Items[0].Rotation)

	assert.Equal(t, &protocol.ErrorMessage{Error: "connection lost"}, msgs[2])
}

func TestRunLegacyFallback(t *testing.T) {
	incompatible := errors.New("connect(): incompatible function arguments. The following argument types are supported")

	t.Run("hostname only", func(t *testing.T) {
		sdk := &fakeSDK{connectErr: incompatible, source: &scriptedSource{endErr: errors.New("done")}}
		var out bytes.Buffer
		Run(context.Background(), []string{"-p", "hostname=10.0.0.5", "optitrack"}, sdk, &out, &bytes.Buffer{})

		assert.Equal(t, 1, sdk.hostCalls)
		assert.Equal(t, "10.0.0.5", sdk.gotHostname)
	})

	t.Run("hostname missing", func(t *testing.T) {
		sdk := &fakeSDK{connectErr: incompatible}
		var out bytes.Buffer
		code := Run(context.Background(), []string{"-p", "port=801", "optitrack"}, sdk, &out, &bytes.Buffer{})

		assert.Equal(t, 1, code)
		assert.Equal(t, 0, sdk.hostCalls)
		assert.Equal(t, []protocol.Message{&protocol.ErrorMessage{Error: "hostname not specified"}}, decodeAll(t, &out))
	})

	t.Run("unhandled options", func(t *testing.T) {
		sdk := &fakeSDK{connectErr: incompatible}
		var out bytes.Buffer
		argv := []string{"-p", "hostname=h", "-p", "port=801", "-p", "name=Stage", "vicon"}
		Run(context.Background(), argv, sdk, &out, &bytes.Buffer{})

		assert.Equal(t, 0, sdk.hostCalls)
		assert.Equal(t, []protocol.Message{&protocol.ErrorMessage{Error: "unhandled options: port, name"}}, decodeAll(t, &out))
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		sdk := &fakeSDK{connectErr: errors.New("no route to host")}
		var out bytes.Buffer
		Run(context.Background(), []string{"-p", "hostname=h", "vicon"}, sdk, &out, &bytes.Buffer{})

		assert.Equal(t, 0, sdk.hostCalls)
		assert.Equal(t, []protocol.Message{&protocol.ErrorMessage{Error: "no route to host"}}, decodeAll(t, &out))
	})
}

func TestRunUsageError(t *testing.T) {
	var out, stderr bytes.Buffer
	code := Run(context.Background(), nil, &fakeSDK{}, &out, &stderr)
	assert.Equal(t, 2, code)
	assert.Empty(t, out.String())
	assert.Contains(t, stderr.String(), "required: type")
}

type panickySource struct{ scriptedSource }

func (p *panickySource) RigidBodies() []Body { panic("bad body") }

func TestRunReportsPanics(t *testing.T) {
	src := &panickySource{scriptedSource{frames: [][]Body{{}}}}
	var out bytes.Buffer
	code := Run(context.Background(), []string{"test"}, &fakeSDK{source: src}, &out, &bytes.Buffer{})

	assert.Equal(t, 1, code)
	assert.Equal(t, []protocol.Message{&protocol.ErrorMessage{Error: "bad body"}}, decodeAll(t, &out))
}

func TestBuiltinTestSource(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	code := Run(ctx, []string{"-p", "bodies=3", "test"}, BuiltinSDK{Interval: 10 * time.Millisecond}, &out, &bytes.Buffer{})
	assert.Equal(t, 0, code)

	msgs := decodeAll(t, &out)
	require.NotEmpty(t, msgs)
	for _, m := range msgs {
		f, ok := m.(*protocol.FrameMessage)
		require.True(t, ok)
		require.Len(t, f.Items, 3)
		assert.Equal(t, "test1", f.Items[0].Name)
		assert.NotNil(t, f.Items[0].Rotation)
	}
}

func TestBuiltinRejectsRealSystems(t *testing.T) {
	var out bytes.Buffer
	code := Run(context.Background(), []string{"vicon"}, BuiltinSDK{}, &out, &bytes.Buffer{})
	assert.Equal(t, 1, code)

	msgs := decodeAll(t, &out)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].(*protocol.ErrorMessage).Error, "unsupported mocap type")
}
