package cmd

import (
	"bufio"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/jetstack/securesession/pkg/version"
)

func printVersion(w io.Writer, verbose bool) {
	fmt.Fprintln(w, "securesession version: ", version.SecureSessionVersion, runtime.GOOS+"/"+runtime.GOARCH)
	if verbose {
		fmt.Fprintln(w, "  Commit: ", version.Commit)
		fmt.Fprintln(w, "  Built:  ", version.BuildDate)
		fmt.Fprintln(w, "  Go:     ", runtime.Version())
	}
}

// readLine prints prompt to w and reads one line from r, without the line
// ending.
func readLine(r *bufio.Reader, w io.Writer, prompt string) (string, error) {
	fmt.Fprint(w, prompt)

	line, err := r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("failed to read %s: %w", strings.TrimSuffix(strings.ToLower(prompt), ": "), err)
	}

	return strings.TrimRight(line, "\r\n"), nil
}
