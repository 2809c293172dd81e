package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/lightprox/cmd/sensors/console"
	"github.com/mklimuk/lightprox/environment"
)

var lightCmd = cli.Command{
	Name:  "light",
	Usage: "BMS33M332 ambient light and proximity sensor",
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:  "addr",
			Usage: "sensor I2C address",
			Value: "0x47",
		},
		&cli.StringFlag{
			Name:    "int-pin",
			Usage:   "interrupt line, e.g. mcp2221:GP1, periph:GPIO17, nanopi:7 or mcp23017:0x21:A3",
			EnvVars: []string{"SENSORS_INT_PIN"},
		},
		&cli.DurationFlag{
			Name:  "settle",
			Usage: "pause after every register transfer",
			Value: time.Millisecond,
		},
	}, adapterFlags...),
	Subcommands: []*cli.Command{
		&lightIDCmd,
		&lightReadCmd,
		&lightStatusCmd,
		&lightConfigureCmd,
		&lightThresholdCmd,
		&lightInterruptCmd,
		&lightRegisterCmd,
		&lightResetCmd,
		&lightRecordCmd,
		&lightServeCmd,
	},
}

// openSensor opens the adapter and constructs the driver. The chip is not
// touched until the caller invokes a driver method.
func openSensor(c *cli.Context, opts ...environment.BMS33M332Opt) (*environment.BMS33M332, *hardware, error) {
	addr, err := parseByte(c.String("addr"))
	if err != nil {
		return nil, nil, err
	}
	hw, err := openHardware(c)
	if err != nil {
		return nil, nil, console.Exit(1, "adapter initialization error: %s", console.Red(err))
	}
	opts = append([]environment.BMS33M332Opt{
		environment.WithBMS33M332Address(addr),
		environment.WithSettleDelay(c.Duration("settle")),
	}, opts...)
	if desc := c.String("int-pin"); desc != "" {
		pin, err := hw.openPin(c, desc)
		if err != nil {
			_ = hw.Close()
			return nil, nil, console.Exit(1, "interrupt pin error: %s", console.Red(err))
		}
		opts = append(opts, environment.WithInterruptPin(pin))
	}
	return environment.NewBMS33M332(hw.bus, opts...), hw, nil
}

// withSensor runs fn against a sensor, optionally after Begin.
func withSensor(c *cli.Context, begin bool, fn func(ctx context.Context, s *environment.BMS33M332) error, opts ...environment.BMS33M332Opt) error {
	s, hw, err := openSensor(c, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := hw.Close(); err != nil {
			console.Warnf("could not close adapter: %v", err)
		}
	}()
	ctx := c.Context
	if begin {
		if err := s.Begin(ctx); err != nil {
			return console.Exit(1, "sensor initialization error: %s", console.Red(err))
		}
	}
	return fn(ctx, s)
}

var lightIDCmd = cli.Command{
	Name:  "id",
	Usage: "read the product id",
	Action: func(c *cli.Context) error {
		return withSensor(c, false, func(ctx context.Context, s *environment.BMS33M332) error {
			id, err := s.ProductID(ctx)
			if err != nil {
				return console.Exit(1, "could not read product id: %s", console.Red(err))
			}
			match := console.Green("BMS33M332")
			if id != environment.BMS33M332ProductID {
				match = console.Red("unknown device")
			}
			console.Printf("product id: %s (%s)\n", console.White(fmt.Sprintf("0x%02x", id)), match)
			return nil
		})
	},
}

var lightReadCmd = cli.Command{
	Name:    "read",
	Aliases: []string{"rd"},
	Usage:   "configure the sensor and print measurements",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Value: 1},
		&cli.DurationFlag{Name: "interval", Value: time.Second},
	},
	Action: func(c *cli.Context) error {
		return withSensor(c, true, func(ctx context.Context, s *environment.BMS33M332) error {
			for i := 0; i < c.Int("count"); i++ {
				if i > 0 {
					if err := sleep(ctx, c.Duration("interval")); err != nil {
						return nil
					}
				}
				if err := printReading(ctx, s); err != nil {
					return err
				}
			}
			return nil
		})
	},
}

func printReading(ctx context.Context, s *environment.BMS33M332) error {
	lux, err := s.ReadAmbient(ctx)
	if err != nil {
		return console.Exit(1, "error getting ambient light read: %s", console.Red(err))
	}
	prox, err := s.ReadRawProximity(ctx)
	if err != nil {
		return console.Exit(1, "error getting proximity read: %s", console.Red(err))
	}
	near, err := s.ObjectNear(ctx)
	if err != nil {
		return console.Exit(1, "error getting object position: %s", console.Red(err))
	}
	position := "far"
	if near {
		position = "near"
	}
	console.Printf("%s lux\tproximity %s (%s)\n", console.White(fmt.Sprintf("%.2f", lux)), console.White(prox), position)
	return nil
}

var lightStatusCmd = cli.Command{
	Name:  "status",
	Usage: "print a YAML snapshot of the sensor registers",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "begin", Usage: "program the default profile first"},
	},
	Action: func(c *cli.Context) error {
		return withSensor(c, c.Bool("begin"), func(ctx context.Context, s *environment.BMS33M332) error {
			status, err := s.Snapshot(ctx)
			if err != nil {
				return console.Exit(1, "could not read sensor status: %s", console.Red(err))
			}
			return encodeYAML(status)
		})
	},
}

var lightConfigureCmd = cli.Command{
	Name:  "configure",
	Usage: "program a profile, from a YAML file and/or flags",
	Flags: []cli.Flag{
		&cli.PathFlag{Name: "profile", Aliases: []string{"p"}, Usage: "YAML profile"},
		&cli.StringFlag{Name: "als-gain", Usage: "x1, x4, x16 or x64"},
		&cli.StringFlag{Name: "als-integration", Usage: "25ms .. 1600ms"},
		&cli.StringFlag{Name: "ps-gain", Usage: "x1, x2, x4 or x8"},
		&cli.StringFlag{Name: "led-current", Usage: "e.g. 100mA"},
		&cli.BoolFlag{Name: "print", Usage: "print the resulting profile instead of programming it"},
	},
	Action: func(c *cli.Context) error {
		profile, err := profileFromFlags(c)
		if err != nil {
			return console.Exit(1, "invalid profile: %s", console.Red(err))
		}
		if c.Bool("print") {
			return encodeYAML(profile)
		}
		return withSensor(c, true, func(ctx context.Context, s *environment.BMS33M332) error {
			console.PInfof(console.PictoFinish, "sensor configured, %s lux per count", console.White(fmt.Sprintf("%.4f", s.Lsb())))
			return nil
		}, environment.WithProfile(profile))
	},
}

func profileFromFlags(c *cli.Context) (environment.Profile, error) {
	profile := environment.DefaultProfile()
	if path := c.Path("profile"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return profile, err
		}
		defer f.Close()
		if profile, err = environment.ReadProfile(f); err != nil {
			return profile, err
		}
	}
	overrides := []struct {
		flag   string
		target interface{ UnmarshalText([]byte) error }
	}{
		{"als-gain", &profile.Ambient.Gain},
		{"als-integration", &profile.Ambient.IntegrationTime},
		{"ps-gain", &profile.Proximity.Gain},
		{"led-current", &profile.LEDCurrent},
	}
	for _, o := range overrides {
		if v := c.String(o.flag); v != "" {
			if err := o.target.UnmarshalText([]byte(v)); err != nil {
				return profile, fmt.Errorf("--%s: %w", o.flag, err)
			}
		}
	}
	return profile, nil
}

var lightThresholdCmd = cli.Command{
	Name:  "threshold",
	Usage: "read or write interrupt thresholds",
	Subcommands: []*cli.Command{
		{
			Name:      "get",
			ArgsUsage: "<proximity|ambient> <high|low>",
			Action: func(c *cli.Context) error {
				channel, bound, err := thresholdArgs(c, 2)
				if err != nil {
					return err
				}
				return withSensor(c, false, func(ctx context.Context, s *environment.BMS33M332) error {
					v, err := s.Threshold(ctx, channel, bound)
					if err != nil {
						return console.Exit(1, "could not read threshold: %s", console.Red(err))
					}
					console.Printf("%s %s threshold: %s\n", channel, bound, console.White(v))
					return nil
				})
			},
		},
		{
			Name:      "set",
			ArgsUsage: "<proximity|ambient> <high|low> <value>",
			Action: func(c *cli.Context) error {
				channel, bound, err := thresholdArgs(c, 3)
				if err != nil {
					return err
				}
				value, err := parseUint16(c.Args().Get(2))
				if err != nil {
					return console.Exit(1, "%s", err)
				}
				return withSensor(c, false, func(ctx context.Context, s *environment.BMS33M332) error {
					if err := s.SetThreshold(ctx, channel, bound, value); err != nil {
						return console.Exit(1, "could not write threshold: %s", console.Red(err))
					}
					return nil
				})
			},
		},
	},
}

func thresholdArgs(c *cli.Context, n int) (environment.Channel, environment.Bound, error) {
	if c.NArg() != n {
		return 0, 0, console.Exit(1, "expected %d arguments, got %d", n, c.NArg())
	}
	var channel environment.Channel
	switch c.Args().Get(0) {
	case "proximity", "ps":
		channel = environment.Proximity
	case "ambient", "als":
		channel = environment.Ambient
	default:
		return 0, 0, console.Exit(1, "unknown channel %q", c.Args().Get(0))
	}
	var bound environment.Bound
	switch c.Args().Get(1) {
	case "high":
		bound = environment.High
	case "low":
		bound = environment.Low
	default:
		return 0, 0, console.Exit(1, "unknown bound %q", c.Args().Get(1))
	}
	return channel, bound, nil
}

var lightInterruptCmd = cli.Command{
	Name:  "interrupt",
	Usage: "proximity interrupt control",
	Subcommands: []*cli.Command{
		{
			Name:      "enable",
			ArgsUsage: "<high> <low>",
			Action: func(c *cli.Context) error {
				if c.NArg() != 2 {
					return console.Exit(1, "expected 2 arguments, got %d", c.NArg())
				}
				high, err := parseUint16(c.Args().Get(0))
				if err != nil {
					return console.Exit(1, "%s", err)
				}
				low, err := parseUint16(c.Args().Get(1))
				if err != nil {
					return console.Exit(1, "%s", err)
				}
				return withSensor(c, false, func(ctx context.Context, s *environment.BMS33M332) error {
					if err := s.EnableInterrupt(ctx, high, low); err != nil {
						return console.Exit(1, "could not enable interrupt: %s", console.Red(err))
					}
					return nil
				})
			},
		},
		{
			Name: "disable",
			Action: func(c *cli.Context) error {
				return withSensor(c, false, func(ctx context.Context, s *environment.BMS33M332) error {
					if err := s.DisableInterrupt(ctx); err != nil {
						return console.Exit(1, "could not disable interrupt: %s", console.Red(err))
					}
					return nil
				})
			},
		},
		{
			Name:  "poll",
			Usage: "sample the interrupt line, the output is active low",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Value: 1},
				&cli.DurationFlag{Name: "interval", Value: 100 * time.Millisecond},
			},
			Action: func(c *cli.Context) error {
				return withSensor(c, false, func(ctx context.Context, s *environment.BMS33M332) error {
					for i := 0; i < c.Int("count"); i++ {
						if i > 0 {
							if err := sleep(ctx, c.Duration("interval")); err != nil {
								return nil
							}
						}
						level, err := s.PollInterruptPin(ctx)
						if errors.Is(err, environment.ErrNoInterruptPin) {
							return console.Exit(1, "no interrupt pin, use --int-pin")
						}
						if err != nil {
							return console.Exit(1, "could not read interrupt pin: %s", console.Red(err))
						}
						console.Printf("interrupt line: %s\n", console.White(level))
					}
					return nil
				})
			},
		},
	},
}

var lightRegisterCmd = cli.Command{
	Name:  "register",
	Usage: "raw register access",
	Subcommands: []*cli.Command{
		{
			Name:      "read",
			ArgsUsage: "<reg> [count]",
			Action: func(c *cli.Context) error {
				if c.NArg() < 1 {
					return console.Exit(1, "missing register")
				}
				reg, err := parseByte(c.Args().Get(0))
				if err != nil {
					return console.Exit(1, "%s", err)
				}
				n := 1
				if c.NArg() > 1 {
					v, err := parseByte(c.Args().Get(1))
					if err != nil {
						return console.Exit(1, "%s", err)
					}
					n = int(v)
				}
				return withSensor(c, false, func(ctx context.Context, s *environment.BMS33M332) error {
					data, err := s.ReadRegisters(ctx, reg, n)
					if err != nil {
						return console.Exit(1, "could not read register: %s", console.Red(err))
					}
					for i, v := range data {
						console.Printf("0x%02x: %s\n", int(reg)+i, console.White(fmt.Sprintf("0x%02x", v)))
					}
					return nil
				})
			},
		},
		{
			Name:      "write",
			ArgsUsage: "<reg> <value>",
			Action: func(c *cli.Context) error {
				if c.NArg() != 2 {
					return console.Exit(1, "expected 2 arguments, got %d", c.NArg())
				}
				reg, err := parseByte(c.Args().Get(0))
				if err != nil {
					return console.Exit(1, "%s", err)
				}
				value, err := parseByte(c.Args().Get(1))
				if err != nil {
					return console.Exit(1, "%s", err)
				}
				return withSensor(c, false, func(ctx context.Context, s *environment.BMS33M332) error {
					if err := s.WriteRegister(ctx, reg, value); err != nil {
						return console.Exit(1, "could not write register: %s", console.Red(err))
					}
					return nil
				})
			},
		},
	},
}

var lightResetCmd = cli.Command{
	Name:  "reset",
	Usage: "soft reset the sensor and program the default profile",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "do not ask for confirmation"},
		&cli.BoolFlag{Name: "no-reapply", Usage: "leave the chip in its power-on state"},
	},
	Action: func(c *cli.Context) error {
		if !c.Bool("yes") {
			ok, err := console.Confirm("reset the sensor?")
			if err != nil {
				return console.Exit(1, "prompt error: %s", err)
			}
			if !ok {
				console.PInfof(console.PictoStop, "reset cancelled")
				return nil
			}
		}
		return withSensor(c, false, func(ctx context.Context, s *environment.BMS33M332) error {
			if err := s.Reset(ctx); err != nil {
				return console.Exit(1, "reset failed: %s", console.Red(err))
			}
			console.PInfof(console.PictoFinish, "sensor reset, state %s", console.White(s.State()))
			return nil
		}, environment.WithReapplyAfterReset(!c.Bool("no-reapply")))
	},
}

func encodeYAML(v any) error {
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return console.Exit(1, "encoding error: %s", console.Red(err))
	}
	return enc.Close()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
