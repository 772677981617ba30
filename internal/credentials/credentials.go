// Package credentials supplies the (user, password) pair spec.md §6
// describes as an external collaborator: a password read from a TTY
// prompt when stdin is a terminal, or a single stdin line otherwise, with
// trailing CR/LF stripped.
package credentials

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/term"
)

// Prompt returns (user, password) for user. If in is a terminal, password
// is read with echo disabled via golang.org/x/term; otherwise a single
// line is read from in.
func Prompt(user string, in *os.File, out io.Writer) (string, string, error) {
	if user == "" {
		return "", "", errors.New("username required")
	}

	if term.IsTerminal(int(in.Fd())) {
		fmt.Fprintf(out, "Password for %s: ", user)
		pass, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", "", errors.Wrap(err, "read password")
		}
		return user, string(pass), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", "", errors.Wrap(err, "read password line")
	}
	return user, strings.TrimRight(line, "\r\n"), nil
}
