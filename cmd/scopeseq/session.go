package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gotmc/scopeseq/lib/connutil"
	"github.com/gotmc/scopeseq/lib/executor"
	"github.com/gotmc/scopeseq/lib/logging"
	"github.com/gotmc/scopeseq/lib/measure"
	"github.com/gotmc/scopeseq/lib/scope"
	"github.com/gotmc/scopeseq/lib/stepconfig"
	"golang.org/x/term"
)

// openScope connects to the configured instrument. The returned close
// function releases the session.
func openScope(ctx context.Context) (*scope.Scope, func(), error) {
	log := logging.Component("session")
	conn := connutil.New(*cfg, connutil.WithLogger(log))
	ctrl, err := conn.Open(ctx, cfg.Address)
	if err != nil {
		return nil, func() {}, err
	}

	var sess scope.Session = ctrl
	if trace {
		sess = console.Trace(ctrl)
	}
	m := measure.New(sess, measure.WithLogger(logging.Component("measure")))
	sc := scope.New(sess, scope.WithLogger(logging.Component("scope")), scope.WithMeasurer(m))
	closeFn := func() {
		if err := ctrl.Close(); err != nil {
			log.Warn().Err(err).Msg("closing session")
		}
	}
	return sc, closeFn, nil
}

func store() stepconfig.Store { return stepconfig.NewStore(cfg.WorkDir) }

// loadOrDefault treats a missing configuration document as the defaults.
func loadOrDefault[T any](load func() (T, error), name string) (T, error) {
	c, err := load()
	if errors.Is(err, stepconfig.ErrConfigMissing) {
		log := logging.Component("cli")
		log.Info().Str("file", name).Msg("no configuration document, using defaults")
		return c, nil
	}
	return c, err
}

func hasTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// newPrompter returns an interactive prompter on a terminal and a fixed
// answer otherwise.
func newPrompter(name string, yes bool) executor.Prompter {
	if yes || !hasTTY() {
		return executor.Auto{Name: name, Overwrite: yes}
	}
	return &ttyPrompter{name: name, in: bufio.NewReader(os.Stdin), out: os.Stdout}
}

type ttyPrompter struct {
	name string
	in   *bufio.Reader
	out  io.Writer
}

func (p *ttyPrompter) ask(prompt string) string {
	fmt.Fprint(p.out, prompt)
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return ""
	}
	return strings.TrimSpace(line)
}

func (p *ttyPrompter) FileName(def string) (string, bool) {
	if p.name != "" {
		return p.name, true
	}
	name := p.ask(fmt.Sprintf("File name [%s]: ", def))
	if name == "" {
		name = def
	}
	return name, name != ""
}

func (p *ttyPrompter) ConfirmOverwrite(dir string) bool {
	switch strings.ToLower(p.ask(fmt.Sprintf("%s exists. Overwrite? [y/N]: ", dir))) {
	case "y", "yes":
		return true
	}
	return false
}
