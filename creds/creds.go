// Package creds provides the OpenAPI account credentials.
package creds

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Credentials is an OpenAPI account.
type Credentials struct {
	Username string
	// Password is called "systemCode" by the API.
	Password string
}

// Provider supplies the credentials, once per run.
type Provider interface {
	Credentials() (Credentials, error)
}

// Static is a Provider returning a fixed pair, for unattended runs.
type Static Credentials

// Credentials implements Provider.
func (s Static) Credentials() (Credentials, error) {
	return Credentials(s), nil
}

// Prompt asks the credentials interactively.
//
// The password is echoed: it is meant to be used on a trusted terminal.
type Prompt struct {
	In  *bufio.Reader
	Out io.Writer
}

// NewPrompt returns a Prompt reading from in and writing to out.
//
// The same reader must be used for any later question, since it buffers
// input.
func NewPrompt(in *bufio.Reader, out io.Writer) *Prompt {
	return &Prompt{In: in, Out: out}
}

// Credentials implements Provider.
func (p *Prompt) Credentials() (Credentials, error) {
	fmt.Fprintln(p.Out, "Enter OpenAPI Credentials")
	user, err := Ask(p.In, p.Out, "Username: ")
	if err != nil {
		return Credentials{}, fmt.Errorf("cannot read user name: %w", err)
	}
	password, err := Ask(p.In, p.Out, "Password: ")
	if err != nil {
		return Credentials{}, fmt.Errorf("cannot read password: %w", err)
	}
	return Credentials{Username: user, Password: password}, nil
}

// Ask prints the question and returns the answer without the line
// terminator. A last line without terminator is accepted.
func Ask(in *bufio.Reader, out io.Writer, question string) (string, error) {
	fmt.Fprint(out, question)
	line, err := in.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) || line == "" {
			return "", err
		}
	}
	return strings.TrimRight(line, "\r\n"), nil
}
