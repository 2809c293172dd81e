package console

import (
	"fmt"
	"io"
	"os"
)

const (
	PictoFinish   = "🏁"
	PictoNotebook = "📒"
	PictoPin      = "📌"
	PictoStop     = "🚫"
)

var writer io.Writer = os.Stdout
var errWriter io.Writer = os.Stderr

func Warnf(msg string, args ...any) {
	_, _ = fmt.Fprintf(errWriter, "%s: %s\n", Yellow("WARN"), fmt.Sprintf(msg, args...))
}

func PInfof(picto, msg string, args ...any) {
	_, _ = fmt.Fprintf(writer, "%s %s\n", picto, fmt.Sprintf(msg, args...))
}

func Printf(msg string, args ...any) {
	_, _ = fmt.Fprintf(writer, msg, args...)
}
