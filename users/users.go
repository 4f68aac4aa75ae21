package users

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// ErrNoUsers is returned when neither a username nor a wordlist was given.
var ErrNoUsers = errors.New("no username or wordlist given")

// Load returns the usernames to probe. A single user takes precedence over
// the wordlist. Wordlist order and duplicates are preserved.
func Load(user, file string) ([]string, error) {
	if user != "" {
		return []string{user}, nil
	}
	if file == "" {
		return nil, ErrNoUsers
	}

	f, err := os.Open(file)
	if err != nil {
		return nil, errors.Wrap(err, "open wordlist")
	}
	defer f.Close()

	list, err := Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read wordlist %s", file)
	}
	return list, nil
}

// Parse reads one username per line, trimming surrounding whitespace.
// Blank lines are skipped.
func Parse(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		u := strings.TrimSpace(sc.Text())
		if u == "" {
			continue
		}
		out = append(out, u)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
