package output

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"smtpenum/probe"
)

// Console prints the human-readable run log. The wording of every line is
// kept stable for scripts that scrape it.
type Console struct {
	w     io.Writer
	found *color.Color
	warn  *color.Color
	fail  *color.Color
}

// NewConsole writes to w. With colored false no escape sequences are emitted.
func NewConsole(w io.Writer, colored bool) *Console {
	c := &Console{
		w:     w,
		found: color.New(color.FgGreen, color.Bold),
		warn:  color.New(color.FgYellow),
		fail:  color.New(color.FgRed),
	}
	for _, col := range []*color.Color{c.found, c.warn, c.fail} {
		if colored {
			col.EnableColor()
		} else {
			col.DisableColor()
		}
	}
	return c
}

// Banner writes the greeting bytes untouched, ending the line if the server did not.
func (c *Console) Banner(b []byte) {
	_, _ = c.w.Write(b)
	if len(b) == 0 || b[len(b)-1] != '\n' {
		fmt.Fprintln(c.w)
	}
}

// Result prints the verdict line for one check.
func (c *Console) Result(res probe.Result) {
	line := FormatResult(res)
	switch res.Verdict {
	case probe.Found:
		c.found.Fprintln(c.w, line)
	case probe.Undetermined:
		c.warn.Fprintln(c.w, line)
	default:
		fmt.Fprintln(c.w, line)
	}
}

// Unsupported prints the notice for a technique the server does not offer.
func (c *Console) Unsupported(t probe.Technique, exiting bool) {
	c.warn.Fprintln(c.w, FormatUnsupported(t, exiting))
}

// Error prints a top-level failure.
func (c *Console) Error(err error) {
	c.fail.Fprintln(c.w, "An error occurred: "+err.Error())
}

// Println prints a plain message line.
func (c *Console) Println(msg string) {
	fmt.Fprintln(c.w, msg)
}

// FormatResult renders the verdict line for res.
func FormatResult(res probe.Result) string {
	u := res.Username
	switch res.Technique {
	case probe.VRFY:
		if res.Verdict == probe.Found {
			return fmt.Sprintf("User %s found using VRFY!", u)
		}
		return fmt.Sprintf("User %s not found.", u)
	case probe.EXPN:
		if res.Verdict == probe.Found {
			return fmt.Sprintf("User %s found using EXPN!", u)
		}
		return fmt.Sprintf("User %s not found using EXPN.", u)
	case probe.RCPT:
		switch {
		case res.Verdict == probe.Found:
			return fmt.Sprintf("User %s found using RCPT TO!", u)
		case res.Stage == "MAIL FROM":
			return "Error: MAIL FROM command failed."
		}
		return fmt.Sprintf("Unable to determine the existence of user %s using RCPT TO.", u)
	}
	return fmt.Sprintf("User %s: %s using %s.", u, res.Verdict, res.Technique)
}

// FormatUnsupported renders the notice for an unsupported technique.
func FormatUnsupported(t probe.Technique, exiting bool) string {
	name := string(t)
	if t == probe.RCPT {
		name = "RCPT TO"
	}
	action := "Skipping."
	if exiting {
		action = "Exiting."
	}
	return name + " command not recognized. " + action
}
