package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/openmined/mirrorctl/internal/gate"
	"github.com/openmined/mirrorctl/internal/mirror"
)

type menuItem struct {
	key   string
	title string
	run   func(a *app, ctx context.Context) error
}

var menuItems = []menuItem{
	{"1", "send        push code", (*app).send},
	{"2", "pull        pull every sync dir", func(a *app, ctx context.Context) error {
		ds, err := a.pullDirectives(nil)
		if err != nil {
			return err
		}
		return a.sync(ctx, ds)
	}},
	{"3", "send-pull   push code, then pull", (*app).sendPull},
	{"4", "push-all    push everything", (*app).pushAll},
	{"5", "pull-all    pull everything", (*app).pullAll},
	{"6", "watch       push on every change", (*app).watch},
	{"7", "status      configuration and sizes", func(a *app, ctx context.Context) error {
		printStatus(a.out, collectStatus(ctx, a.cfg, true))
		return nil
	}},
	{"8", "test        check the connection", func(a *app, ctx context.Context) error {
		return runChecks(ctx, a.out, connectionChecks(a.cfg))
	}},
}

// runMenu loops until the user quits, input ends or an interrupt arrives.
// A blank answer redraws the menu. A failed item is reported and the menu
// comes back.
func runMenu(ctx context.Context, a *app) error {
	for {
		printMenu(a.out, a)

		line, err := gate.ReadLine(ctx, a.in)
		switch {
		case ctx.Err() != nil:
			return mirror.ErrInterrupted
		case errors.Is(err, io.EOF):
			fmt.Fprintln(a.out)
			return nil
		case err != nil:
			return err
		}

		answer := strings.ToLower(strings.TrimSpace(line))
		if answer == "" {
			continue
		}
		if answer == "q" || answer == "quit" {
			return nil
		}

		item, ok := lookupMenuItem(answer)
		if !ok {
			fmt.Fprintln(a.out, yellow.Render(fmt.Sprintf("unknown choice %q", answer)))
			continue
		}

		err = item.run(a, ctx)
		switch {
		case ctx.Err() != nil, errors.Is(err, mirror.ErrInterrupted):
			return mirror.ErrInterrupted
		case errors.Is(err, mirror.ErrCancelled):
			fmt.Fprintln(a.out, yellow.Render("cancelled"))
		case err != nil:
			fmt.Fprintln(a.out, red.Render("Error: "+err.Error()))
		}
	}
}

func lookupMenuItem(answer string) (menuItem, bool) {
	for _, item := range menuItems {
		name, _, _ := strings.Cut(item.title, " ")
		if answer == item.key || answer == name {
			return item, true
		}
	}
	return menuItem{}, false
}

func printMenu(w io.Writer, a *app) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, bold.Render("mirrorctl")+" "+gray.Render(a.cfg.LocalRoot+" ⇄ "+a.layout.RemoteHost+":"+a.cfg.RemoteRoot))
	for _, item := range menuItems {
		fmt.Fprintf(w, "  %s  %s\n", cyan.Render(item.key), item.title)
	}
	fmt.Fprintf(w, "  %s  quit\n", cyan.Render("q"))
	fmt.Fprint(w, "choice: ")
}
