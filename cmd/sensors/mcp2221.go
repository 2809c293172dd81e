package main

import (
	"context"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/lightprox/adapter"
	"github.com/mklimuk/lightprox/cmd/sensors/console"
)

var mcp2221Cmd = cli.Command{
	Name:  "mcp2221",
	Usage: "MCP2221 USB bridge maintenance",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:    "device",
			Aliases: []string{"d"},
			Usage:   "adapter index, see usb detect",
			Value:   -1,
		},
	},
	Subcommands: cli.Commands{
		&mcp2221StatusCmd,
		&mcp2221ReleaseCmd,
		&mcp2221GPIOCmd,
	},
}

func newAdapter(c *cli.Context) *adapter.MCP2221 {
	return adapter.NewMCP2221(adapter.WithDeviceIndex(c.Int("device")))
}

var mcp2221StatusCmd = cli.Command{
	Name: "status",
	Action: func(c *cli.Context) error {
		status, err := newAdapter(c).Status(c.Context)
		if err != nil {
			return console.Exit(1, "adapter communication error: %s", console.Red(err))
		}
		return encodeYAML(status)
	},
}

var mcp2221ReleaseCmd = cli.Command{
	Name:  "release",
	Usage: "cancel the current I2C transfer",
	Action: func(c *cli.Context) error {
		status, err := newAdapter(c).ReleaseBus(c.Context)
		if err != nil {
			return console.Exit(1, "adapter communication error: %s", console.Red(err))
		}
		return encodeYAML(status)
	},
}

var mcp2221GPIOCmd = cli.Command{
	Name:  "gpio",
	Usage: "GP pin designation and levels",
	Subcommands: cli.Commands{
		{
			Name: "read",
			Action: func(c *cli.Context) error {
				values, err := newAdapter(c).ReadGPIO(c.Context)
				if err != nil {
					return console.Exit(1, "adapter communication error: %s", console.Red(err))
				}
				return encodeYAML(values)
			},
		},
		{
			Name: "params",
			Action: func(c *cli.Context) error {
				params, err := newAdapter(c).GetGPIOParameters(c.Context)
				if err != nil {
					return console.Exit(1, "adapter communication error: %s", console.Red(err))
				}
				return encodeYAML(params)
			},
		},
		{
			Name:      "input",
			Usage:     "designate a GP pin as GPIO input, e.g. for the sensor interrupt line",
			ArgsUsage: "<gp>",
			Action: func(c *cli.Context) error {
				gp, err := strconv.Atoi(c.Args().First())
				if err != nil || gp < 0 || gp > 3 {
					return console.Exit(1, "invalid GP pin %q", c.Args().First())
				}
				return designateInput(c.Context, newAdapter(c), gp)
			},
		},
	},
}

func designateInput(ctx context.Context, a *adapter.MCP2221, gp int) error {
	params, err := a.GetGPIOParameters(ctx)
	if err != nil {
		return console.Exit(1, "adapter communication error: %s", console.Red(err))
	}
	params.Modes[gp] = adapter.GPIOModeIn
	params.Designations[gp] = adapter.GPIOOperation
	if err := a.SetGPIOParameters(ctx, params); err != nil {
		return console.Exit(1, "adapter communication error: %s", console.Red(err))
	}
	console.PInfof(console.PictoPin, "GP%d is now an input", gp)
	return nil
}
