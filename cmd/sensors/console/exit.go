package console

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// Exit builds an error that makes the cli exit with code after printing msg.
func Exit(code int, msg string, args ...any) cli.ExitCoder {
	return cli.Exit(fmt.Sprintf(msg, args...), code)
}
