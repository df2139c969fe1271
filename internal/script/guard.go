package script

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Reasons a script can be rejected by a Guard.
var (
	ErrNotFound      = errors.New("no such file")
	ErrIsDirectory   = errors.New("is a directory")
	ErrNotOwned      = errors.New("not owned by the trusted user and group")
	ErrNotExecutable = errors.New("not readable and executable by its owner")
)

// ownerReadExec is the minimum permission a script must carry.
const ownerReadExec = 0o500

// ValidationError is returned by Guard.Validate.
type ValidationError struct {
	Path string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("refusing to execute `%s`: %v", e.Path, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Guard decides whether a file may be executed unattended. The zero
// value trusts uid 0 and gid 0.
type Guard struct {
	UID uint32
	GID uint32
}

// Validate checks path, stopping at the first violation. It follows
// symlinks and reads the file metadata on every call.
func (g Guard) Validate(path string) error {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return &ValidationError{Path: path, Err: fmt.Errorf("%w: %v", ErrNotFound, err)}
	}
	if st.Mode&unix.S_IFMT == unix.S_IFDIR {
		return &ValidationError{Path: path, Err: ErrIsDirectory}
	}
	if st.Uid != g.UID || st.Gid != g.GID {
		return &ValidationError{
			Path: path,
			Err:  fmt.Errorf("%w (owner %d:%d, want %d:%d)", ErrNotOwned, st.Uid, st.Gid, g.UID, g.GID),
		}
	}
	if st.Mode&ownerReadExec != ownerReadExec {
		return &ValidationError{
			Path: path,
			Err:  fmt.Errorf("%w (mode %#o)", ErrNotExecutable, st.Mode&0o7777),
		}
	}
	return nil
}
