package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"iter"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/spectral/as7343"
	"github.com/mklimuk/spectral/cmd/spectral/console"
	"github.com/mklimuk/spectral/regmap"
)

var as7343Cmd = cli.Command{
	Name:  "as7343",
	Usage: "AS7343 spectral sensor",
	Subcommands: []*cli.Command{
		&as7343InfoCmd,
		&as7343ReadCmd,
		&as7343FIFOCmd,
		&as7343GetCmd,
		&as7343SetCmd,
		&as7343ResetCmd,
		&as7343ConstsCmd,
	},
}

var as7343InfoCmd = cli.Command{
	Name:  "info",
	Usage: "print part identification",
	Action: func(c *cli.Context) error {
		s, release, err := openSensor(c, false)
		if err != nil {
			return console.Exit(1, "sensor error: %s", console.Red(err))
		}
		defer release()
		info, err := s.Info(commandContext(c))
		if err != nil {
			return console.Exit(1, "could not read sensor info: %s", console.Red(err))
		}
		return encodeYAML(info)
	},
}

var as7343ReadCmd = cli.Command{
	Name:    "read",
	Aliases: []string{"rd"},
	Usage:   "bring the sensor up and print basic counts",
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:  "timeout",
			Value: as7343.DefaultTimeout,
			Usage: "how long to wait for valid data",
		},
		&cli.IntFlag{
			Name:  "samples",
			Value: 1,
		},
		&cli.DurationFlag{
			Name:  "interval",
			Value: time.Second,
		},
		&cli.BoolFlag{
			Name:  "raw",
			Usage: "print raw channel counts instead of basic counts",
		},
	},
	Action: func(c *cli.Context) error {
		s, release, err := openSensor(c, true)
		if err != nil {
			return console.Exit(1, "sensor error: %s", console.Red(err))
		}
		defer release()
		ctx := commandContext(c)
		for i := range c.Int("samples") {
			if i > 0 {
				time.Sleep(c.Duration("interval"))
			}
			if c.Bool("raw") {
				res, err := s.Read(ctx)
				if err != nil {
					return console.Exit(1, "read error: %s", console.Red(err))
				}
				printChannels(res.All())
				continue
			}
			vals, err := s.CalibratedValues(ctx, c.Duration("timeout"))
			if err != nil {
				return console.Exit(1, "read error: %s", console.Red(err))
			}
			if !vals.Fresh {
				console.Warnf("data not ready after %s, values are stale", c.Duration("timeout"))
			}
			console.Infof("gain %sx, integration time %s", console.White(vals.Gain), console.White(vals.IntegrationTime))
			printChannels(vals.All())
		}
		return nil
	},
}

func printChannels[T any](values iter.Seq2[as7343.Channel, T]) {
	w := tabwriter.NewWriter(os.Stdout, 8, 0, 1, ' ', 0)
	_, _ = fmt.Fprintf(w, "CHANNEL\tVALUE\n")
	for ch, v := range values {
		_, _ = fmt.Fprintf(w, "%s\t%v\n", ch, v)
	}
	_ = w.Flush()
}

var as7343FIFOCmd = cli.Command{
	Name:  "fifo",
	Usage: "collect measurements through the FIFO",
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:  "duration",
			Value: 5 * time.Second,
			Usage: "how long to let the FIFO fill",
		},
	},
	Action: func(c *cli.Context) error {
		cfg, err := sensorConfig(c)
		if err != nil {
			return console.Exit(1, "config error: %s", console.Red(err))
		}
		s, release, err := openSensor(c, true)
		if err != nil {
			return console.Exit(1, "sensor error: %s", console.Red(err))
		}
		defer release()
		ctx := commandContext(c)
		if err := s.ClearFIFO(ctx); err != nil {
			return console.Exit(1, "could not clear FIFO: %s", console.Red(err))
		}
		time.Sleep(c.Duration("duration"))
		var words []uint16
		for word, err := range s.ReadFIFO(ctx) {
			if err != nil {
				return console.Exit(1, "FIFO read error: %s", console.Red(err))
			}
			words = append(words, word)
		}
		console.Infof("drained %s words", console.White(len(words)))
		if cfg.FIFOMap != as7343.FIFOMapAll {
			for _, w := range words {
				console.Printf("%#04x\n", w)
			}
			return nil
		}
		for frame := range slices.Chunk(words, frameWords(cfg.Channels)) {
			res, err := as7343.ParseFIFOFrame(cfg.Channels, frame)
			if err != nil {
				console.Warnf("incomplete frame: %s", err)
				break
			}
			printChannels(res.All())
		}
		return nil
	},
}

func frameWords(mode as7343.ChannelMode) int {
	return int(mode) / 6 * as7343.FIFOMapAll.Words()
}

var as7343GetCmd = cli.Command{
	Name:      "get",
	Usage:     "read and decode a register",
	ArgsUsage: "REGISTER",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return console.Exit(1, "expected a register name")
		}
		s, release, err := openSensor(c, false)
		if err != nil {
			return console.Exit(1, "sensor error: %s", console.Red(err))
		}
		defer release()
		v, err := s.Device().Get(commandContext(c), strings.ToUpper(c.Args().First()))
		switch {
		case errors.Is(err, regmap.ErrUnknownRawCode):
			console.Warnf("%s", err)
		case err != nil:
			return console.Exit(1, "could not read register: %s", console.Red(err))
		}
		node, err := viewNode(v)
		if err != nil {
			return console.Exit(1, "encoding error: %s", console.Red(err))
		}
		return encodeYAML(node)
	},
}

var as7343SetCmd = cli.Command{
	Name:      "set",
	Usage:     "write register fields, keeping the others",
	ArgsUsage: "REGISTER FIELD=VALUE...",
	Action: func(c *cli.Context) error {
		if c.NArg() < 2 {
			return console.Exit(1, "expected a register name and field assignments")
		}
		values, err := parseAssignments(c.Args().Tail())
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		s, release, err := openSensor(c, false)
		if err != nil {
			return console.Exit(1, "sensor error: %s", console.Red(err))
		}
		defer release()
		name := strings.ToUpper(c.Args().First())
		ctx := commandContext(c)
		if err := s.Device().Set(ctx, name, values); err != nil {
			return console.Exit(1, "could not write register: %s", console.Red(err))
		}
		console.Infof("%s updated", console.Green(name))
		return nil
	},
}

var as7343ResetCmd = cli.Command{
	Name:  "reset",
	Usage: "soft reset the sensor",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "do not ask for confirmation"},
	},
	Action: func(c *cli.Context) error {
		if !c.Bool("yes") {
			answer, err := console.Prompt("reset the sensor to power-on defaults?", console.No, console.Yes)
			if err != nil {
				return console.Exit(1, "prompt error: %s", console.Red(err))
			}
			if answer != console.Yes {
				return nil
			}
		}
		s, release, err := openSensor(c, false)
		if err != nil {
			return console.Exit(1, "sensor error: %s", console.Red(err))
		}
		defer release()
		if err := s.SoftReset(commandContext(c)); err != nil {
			return console.Exit(1, "reset error: %s", console.Red(err))
		}
		console.Infof("sensor %s", console.Green("reset"))
		return nil
	},
}

var as7343ConstsCmd = cli.Command{
	Name:  "consts",
	Usage: "list the named field values",
	Action: func(c *cli.Context) error {
		// the register table is static, no bus needed
		s, err := as7343.New(nil)
		if err != nil {
			return console.Exit(1, "driver error: %s", console.Red(err))
		}
		consts := s.Constants()
		names := make([]string, 0, len(consts))
		for name := range consts {
			names = append(names, name)
		}
		slices.Sort(names)
		w := tabwriter.NewWriter(os.Stdout, 24, 0, 1, ' ', 0)
		for _, name := range names {
			_, _ = fmt.Fprintf(w, "%s\t%v\n", name, consts[name])
		}
		return w.Flush()
	},
}

// parseAssignments reads FIELD=VALUE pairs. Values are YAML scalars, so
// numbers, booleans and hex literals keep their type.
func parseAssignments(args []string) (regmap.Values, error) {
	values := make(regmap.Values, len(args))
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid assignment %q, expected FIELD=VALUE", arg)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("invalid value for %s: %w", name, err)
		}
		if v == nil {
			return nil, fmt.Errorf("missing value for %s", name)
		}
		values[strings.ToUpper(name)] = v
	}
	return values, nil
}

// viewNode lays a register view out as a YAML mapping, keeping the field
// declaration order.
func viewNode(v regmap.View) (*yaml.Node, error) {
	fields := &yaml.Node{Kind: yaml.MappingNode}
	for name, val := range v.Fields() {
		var n yaml.Node
		if err := n.Encode(val); err != nil {
			return nil, fmt.Errorf("could not encode %s: %w", name, err)
		}
		fields.Content = append(fields.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: name}, &n)
	}
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, kv := range []struct {
		key   string
		value any
	}{
		{"register", v.Register},
		{"address", fmt.Sprintf("%#02x", v.Address)},
		{"raw", hex.EncodeToString(v.Raw)},
	} {
		var n yaml.Node
		if err := n.Encode(kv.value); err != nil {
			return nil, err
		}
		root.Content = append(root.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: kv.key}, &n)
	}
	root.Content = append(root.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: "fields"}, fields)
	return root, nil
}

func encodeYAML(v any) error {
	enc := yaml.NewEncoder(os.Stdout)
	defer func() { _ = enc.Close() }()
	if err := enc.Encode(v); err != nil {
		return console.Exit(1, "encoding error: %s", console.Red(err))
	}
	return nil
}
