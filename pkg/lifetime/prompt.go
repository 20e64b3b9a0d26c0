package lifetime

import (
	"fmt"
	"io"
)

const ansiClearLine = "\033[2K\n"

func shutdownPrompt(out io.Writer) {
	fmt.Fprint(out, ansiClearLine+"Press Ctrl+C again to forcefully exit.\n")
}
