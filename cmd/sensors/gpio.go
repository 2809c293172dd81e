package main

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/lightprox/cmd/sensors/console"
	"github.com/mklimuk/lightprox/gpio"
)

var gpioCmd = cli.Command{
	Name:  "gpio",
	Usage: "inspect interrupt line inputs",
	Flags: adapterFlags,
	Subcommands: []*cli.Command{
		&gpioReadCmd,
		&gpioExpanderCmd,
	},
}

var gpioReadCmd = cli.Command{
	Name:      "read",
	Usage:     "read the level of a pin",
	ArgsUsage: "<pin>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return console.Exit(1, "expected 1 argument, got %d", c.NArg())
		}
		hw, err := openHardware(c)
		if err != nil {
			return console.Exit(1, "adapter initialization error: %s", console.Red(err))
		}
		defer hw.Close()
		pin, err := hw.openPin(c, c.Args().First())
		if err != nil {
			return console.Exit(1, "could not open pin: %s", console.Red(err))
		}
		level, err := pin.ReadLevel(c.Context)
		if err != nil {
			return console.Exit(1, "could not read pin: %s", console.Red(err))
		}
		console.Printf("%s: %s\n", pin, console.White(level))
		return nil
	},
}

var gpioExpanderCmd = cli.Command{
	Name:      "expander",
	Usage:     "dump an MCP23017 expander",
	ArgsUsage: "<addr>",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "bank", Usage: "IOCON.BANK register layout"},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return console.Exit(1, "expected 1 argument, got %d", c.NArg())
		}
		addr, err := parseByte(c.Args().First())
		if err != nil {
			return console.Exit(1, "%s", err)
		}
		hw, err := openHardware(c)
		if err != nil {
			return console.Exit(1, "adapter initialization error: %s", console.Red(err))
		}
		defer hw.Close()
		exp := gpio.NewMCP23017(hw.bus, gpio.WithMCP23017Address(addr), gpio.WithBank(c.Int("bank")), gpio.WithRetryLimit(3))
		settings, err := exp.ReadSettings(c.Context)
		if err != nil {
			return console.Exit(1, "could not read settings: %s", console.Red(err))
		}
		console.Printf("IOCON: %s\n", console.White(fmt.Sprintf("%08b", settings)))
		for _, port := range []gpio.Port{gpio.PortA, gpio.PortB} {
			v, err := exp.ReadPort(c.Context, port)
			if err != nil {
				return console.Exit(1, "could not read port %s: %s", port, console.Red(err))
			}
			console.Printf("GP%s:   %s\n", strings.ToUpper(port.String()), console.White(fmt.Sprintf("%08b", v)))
		}
		return nil
	},
}
