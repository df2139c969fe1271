package journal

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/sdjournal"
)

// runtimeDir holds the volatile journal files.
const runtimeDir = "/run/log/journal"

// waitSlice bounds a single sd_journal_wait call so Await notices context
// cancellation.
const waitSlice = time.Second

type systemJournal struct {
	j *sdjournal.Journal
}

// Open opens the local system journal through libsystemd.
//
// sdjournal opens the journal with SD_JOURNAL_LOCAL_ONLY and has no
// namespace selection, so LocalOnly and AllNamespaces cannot change the set
// of files it reads. RuntimeOnly reads the volatile journal directory only.
func Open(opts Options) (Journal, error) {
	var (
		j   *sdjournal.Journal
		err error
	)
	if opts.RuntimeOnly {
		j, err = sdjournal.NewJournalFromDir(runtimeDir)
	} else {
		j, err = sdjournal.NewJournal()
	}
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	return &systemJournal{j: j}, nil
}

func (s *systemJournal) AddMatch(field, value string) error {
	if err := s.j.AddMatch(field + "=" + value); err != nil {
		return fmt.Errorf("adding journal match %s=%s: %w", field, value, err)
	}
	return nil
}

func (s *systemJournal) SeekTail() error {
	if err := s.j.SeekTail(); err != nil {
		return fmt.Errorf("seeking journal tail: %w", err)
	}
	return nil
}

func (s *systemJournal) StepToMostRecent() error {
	// Zero steps means the (filtered) journal is empty; the cursor stays
	// at the tail, which is where reading starts anyway.
	if _, err := s.j.Previous(); err != nil {
		return fmt.Errorf("moving to the most recent journal entry: %w", err)
	}
	return nil
}

func (s *systemJournal) Next() (Record, error) {
	n, err := s.j.Next()
	if err != nil {
		return nil, fmt.Errorf("reading next journal entry: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	entry, err := s.j.GetEntry()
	if err != nil {
		return nil, fmt.Errorf("getting journal entry: %w", err)
	}
	return Record(entry.Fields), nil
}

func (s *systemJournal) Await(ctx context.Context, timeout time.Duration) (Record, error) {
	var deadline time.Time
	if timeout != NoTimeout {
		deadline = time.Now().Add(timeout)
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		slice := waitSlice
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, nil
			}
			slice = min(slice, remaining)
		}

		// Entries appended before the first wait produce no event, so
		// read after every wait regardless of its result.
		if r := s.j.Wait(slice); r < 0 {
			return nil, fmt.Errorf("waiting for journal entries: %w", syscall.Errno(-r))
		}

		rec, err := s.Next()
		if err != nil || rec != nil {
			return rec, err
		}
	}
}

func (s *systemJournal) Close() error {
	return s.j.Close()
}
