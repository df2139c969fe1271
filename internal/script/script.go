package script

import (
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
)

// EnvPrefix namespaces every variable passed to a script.
const EnvPrefix = "JNB_"

// EnvVar is one environment variable handed to a script. The name seen by
// the script is EnvPrefix followed by Key.
type EnvVar struct {
	Key   string
	Value string
}

// Message carries the matched journal message.
func Message(value string) EnvVar { return EnvVar{Key: "MESSAGE", Value: value} }

// JSON carries the whole matched journal entry serialized as JSON.
func JSON(value string) EnvVar { return EnvVar{Key: "JSON", Value: value} }

// Custom carries any other value.
func Custom(key, value string) EnvVar { return EnvVar{Key: key, Value: value} }

// Name returns the environment variable name.
func (v EnvVar) Name() string { return EnvPrefix + v.Key }

// Script is a unit of work for the launcher.
type Script struct {
	ID    string
	Event string
	Path  string
	// Timeout bounds the run. Zero means the launcher does not wait for
	// the script to finish.
	Timeout time.Duration
	// Check makes the launcher validate Path with its Guard before running.
	Check bool

	envs map[string]string
}

// New creates a Script with a fresh ID.
func New(event, path string, timeout time.Duration, check bool) *Script {
	return &Script{
		ID:      uuid.NewString(),
		Event:   event,
		Path:    path,
		Timeout: timeout,
		Check:   check,
		envs:    make(map[string]string),
	}
}

// AddEnv sets an environment variable, replacing a previous value with the
// same name.
func (s *Script) AddEnv(v EnvVar) {
	s.envs[v.Name()] = v.Value
}

// Lookup returns the value of the named variable (including EnvPrefix).
func (s *Script) Lookup(name string) (string, bool) {
	v, ok := s.envs[name]
	return v, ok
}

// Environ returns the process environment for the script: the daemon's own
// environment followed by the script variables in name order.
func (s *Script) Environ() []string {
	names := make([]string, 0, len(s.envs))
	for name := range s.envs {
		names = append(names, name)
	}
	sort.Strings(names)

	env := os.Environ()
	for _, name := range names {
		env = append(env, name+"="+s.envs[name])
	}
	return env
}
