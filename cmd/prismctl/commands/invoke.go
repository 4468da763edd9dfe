package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/hupe1980/prismmesh/core"
	"github.com/hupe1980/prismmesh/link"
	"github.com/hupe1980/prismmesh/transport/ws"
)

type invokeFlags struct {
	remote  string
	file    string
	stream  bool
	timeout time.Duration
}

func newInvokeCommand(a *app) *cobra.Command {
	f := &invokeFlags{}

	cmd := &cobra.Command{
		Use:   "invoke <unit> <frequency> [input]",
		Short: "Send one wavefront to a unit",
		Long: `Send one wavefront to a unit and print the response.

The input is a JSON value given as argument or read from --file (JSON or
YAML). Text that is not valid JSON is sent as a JSON string.

Without --remote the unit runs in this process. With --remote the wavefront
travels over a websocket link to a 'prismctl serve' instance.

With --stream every photon is printed on its own line as it arrives;
otherwise a single photon is printed as is and several as a JSON array.

Examples:
  prismctl invoke core:echo echo '{"msg":"hi"}'
  prismctl invoke core:relay fetch -f request.yaml
  prismctl invoke --stream --provider openai ai:completion stream '{"prompt":"hello"}'
  prismctl invoke --remote ws://localhost:7070 core:echo chant '["a","b"]'`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := f.input(args[2:])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), f.timeout)
			defer cancel()

			if f.remote != "" {
				return a.invokeRemote(ctx, cmd, f, args[0], args[1], input)
			}
			return a.invokeLocal(ctx, cmd, f, args[0], args[1], input)
		},
	}

	cmd.Flags().StringVar(&f.remote, "remote", "", "websocket base URL of a prismctl serve instance")
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "read the input from a JSON or YAML file")
	cmd.Flags().BoolVar(&f.stream, "stream", false, "print photons as they arrive")
	cmd.Flags().DurationVar(&f.timeout, "timeout", time.Minute, "give up waiting for the response after this long")
	return cmd
}

func (f *invokeFlags) input(args []string) (json.RawMessage, error) {
	switch {
	case f.file != "" && len(args) > 0:
		return nil, errors.New("input given both as argument and --file")
	case f.file != "":
		return readInputFile(f.file)
	case len(args) == 0:
		return json.RawMessage("null"), nil
	}

	text := strings.TrimSpace(args[0])
	if json.Valid([]byte(text)) {
		return json.RawMessage(text), nil
	}
	return json.Marshal(args[0])
}

func readInputFile(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return json.Marshal(v)
	default:
		if !json.Valid(data) {
			return nil, fmt.Errorf("%s is not valid JSON", path)
		}
		return json.RawMessage(data), nil
	}
}

func (a *app) invokeLocal(ctx context.Context, cmd *cobra.Command, f *invokeFlags, unitID, frequency string, input json.RawMessage) error {
	m, err := a.newMesh(a.logger(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownGrace+time.Second)
		defer cancel()
		_ = m.Shutdown(shutdownCtx)
	}()

	out := cmd.OutOrStdout()
	if !f.stream {
		res, err := m.InvokeSync(ctx, unitID, frequency, input)
		if err != nil {
			return err
		}
		return printValue(out, res)
	}

	_, dataCh, errCh, err := m.Invoke(ctx, unitID, frequency, input)
	if err != nil {
		return err
	}
	for data := range dataCh {
		if err := printValue(out, data); err != nil {
			return err
		}
	}
	return <-errCh
}

func (a *app) invokeRemote(ctx context.Context, cmd *cobra.Command, f *invokeFlags, unitID, frequency string, input json.RawMessage) error {
	logger := a.logger(cmd.ErrOrStderr()).WithComponent("remote")

	url := strings.TrimSuffix(f.remote, "/") + "/units/" + unitID
	conn, err := ws.Dial(ctx, url, nil, logger)
	if err != nil {
		return err
	}
	l := link.OverTransport(conn, func(o *link.Options) {
		o.PollInterval = a.cfg.PollInterval
		o.Logger = logger
	})
	defer func() {
		_ = l.SendExtinguish()
		l.AwaitClosed(a.cfg.ShutdownGrace)
		_ = l.Close()
	}()

	out := cmd.OutOrStdout()
	if !f.stream {
		res, err := link.Call[json.RawMessage](ctx, l, frequency, input)
		if errors.Is(err, link.ErrNoData) {
			return nil
		}
		if err != nil {
			return err
		}
		return printValue(out, res)
	}

	id := core.NewID()
	if err := l.SendWavefront(id, frequency, input); err != nil {
		return err
	}
	dataCh, errCh := link.Stream(ctx, l, id)
	for data := range dataCh {
		if err := printValue(out, data); err != nil {
			return err
		}
	}
	return <-errCh
}

func printValue(w io.Writer, v json.RawMessage) error {
	if len(v) == 0 {
		return nil
	}
	_, err := fmt.Fprintln(w, string(v))
	return err
}
