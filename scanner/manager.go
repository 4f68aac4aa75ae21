package scanner

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"smtpenum/probe"
)

// ErrNoTechnique ends a run once every configured technique has been
// reported unsupported by the server.
var ErrNoTechnique = errors.New("no enumeration technique left")

// Config contains runtime configuration for the Manager.
type Config struct {
	// Techniques is the ordered fallback chain. Exactly one technique is
	// dispatched per username: the first one not yet marked unsupported.
	// Empty means VRFY only.
	Techniques []probe.Technique
	Logger     logrus.FieldLogger
}

// Checker runs one technique for one username. *probe.Session implements it.
type Checker interface {
	CheckUser(username string, t probe.Technique) (probe.Result, error)
}

// Reporter receives verdicts in input order.
type Reporter interface {
	Result(res probe.Result)
	// Unsupported is called once per technique the server rejects.
	// exiting is true when no technique remains for the rest of the run.
	Unsupported(t probe.Technique, exiting bool)
}

// Summary counts verdicts of a run.
type Summary struct {
	Checked      int
	Found        int
	NotFound     int
	Undetermined int
	Disabled     []probe.Technique
}

// Manager drives a run over one session.
type Manager struct {
	cfg Config
	log logrus.FieldLogger
}

// NewManager creates a new Manager with the provided config.
func NewManager(cfg Config) *Manager {
	if len(cfg.Techniques) == 0 {
		cfg.Techniques = []probe.Technique{probe.VRFY}
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{cfg: cfg, log: log}
}

// Run checks every username in order over c and reports each verdict.
// It stops early with probe.ErrRCPTUnsupported, ErrNoTechnique, a
// *probe.ConnectionError or the context error.
func (m *Manager) Run(ctx context.Context, c Checker, usernames []string, r Reporter) (Summary, error) {
	var sum Summary
	disabled := make(map[probe.Technique]bool)

	for _, u := range usernames {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		for {
			t, ok := m.next(disabled)
			if !ok {
				return sum, ErrNoTechnique
			}

			res, err := c.CheckUser(u, t)
			if errors.Is(err, probe.ErrRCPTUnsupported) {
				sum.Disabled = append(sum.Disabled, t)
				r.Unsupported(t, true)
				return sum, err
			}
			if err != nil {
				return sum, errors.Wrapf(err, "check %s with %s", u, t)
			}

			if res.Verdict == probe.TechniqueUnsupported {
				disabled[t] = true
				sum.Disabled = append(sum.Disabled, t)
				_, more := m.next(disabled)
				r.Unsupported(t, !more)
				m.log.WithFields(logrus.Fields{"technique": t, "user": u}).Debug("technique unsupported")
				if !more {
					return sum, ErrNoTechnique
				}
				// same user, next technique
				continue
			}

			sum.Checked++
			switch res.Verdict {
			case probe.Found:
				sum.Found++
			case probe.NotFound:
				sum.NotFound++
			case probe.Undetermined:
				sum.Undetermined++
			}
			r.Result(res)
			break
		}
	}
	return sum, nil
}

func (m *Manager) next(disabled map[probe.Technique]bool) (probe.Technique, bool) {
	for _, t := range m.cfg.Techniques {
		if !disabled[t] {
			return t, true
		}
	}
	return "", false
}
