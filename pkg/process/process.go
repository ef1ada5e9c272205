// Package process keeps heliod a single instance per user. Instead of
// pattern matching process names, the instance writes an identity
// checked pidfile: pid plus process creation time, so a recycled pid
// is never mistaken for a running heliod.
package process

import (
	"os"
	"path/filepath"
	"time"

	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"
	"gopkg.in/yaml.v3"

	"github.com/heliod-dev/heliod/pkg/errors"
	"github.com/heliod-dev/heliod/pkg/logging"
	"github.com/heliod-dev/heliod/pkg/paths"
)

// Identity describes the instance that owns the pidfile.
type Identity struct {
	Pid        int32  `koanf:"pid" yaml:"pid"`
	CreateTime int64  `koanf:"create_time" yaml:"create_time"`
	Username   string `koanf:"username" yaml:"username"`
}

// Manager claims and releases the heliod pidfile.
type Manager struct {
	path   string
	logger zerolog.Logger
}

// NewManager returns a manager for the pidfile location of p.
func NewManager(p paths.Paths) *Manager {
	return &Manager{
		path:   p.PidFilePath(),
		logger: logging.GetLogger("process"),
	}
}

// Claim makes this process the single running instance. A live
// instance found through the pidfile is terminated and awaited first;
// stale files are simply replaced.
func (m *Manager) Claim() error {
	if owner, ok := m.CurrentOwner(); ok && int(owner.Pid) != os.Getpid() {
		if proc, alive := m.liveProcess(owner); alive {
			m.terminate(proc)
		}
	}
	return m.write()
}

// Release removes the pidfile when this process still owns it.
func (m *Manager) Release() {
	owner, ok := m.CurrentOwner()
	if !ok {
		return
	}
	if int(owner.Pid) != os.Getpid() {
		m.logger.Debug().
			Int32("pid", owner.Pid).
			Msg("Pidfile taken over by another instance, leaving it")
		return
	}
	if err := os.Remove(m.path); err != nil {
		m.logger.Warn().Err(err).Msg("Could not remove pidfile")
	}
}

// CurrentOwner reads the pidfile. ok is false when the file is
// missing or unreadable.
func (m *Manager) CurrentOwner() (Identity, bool) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(m.path), kyaml.Parser()); err != nil {
		return Identity{}, false
	}
	var owner Identity
	if err := k.Unmarshal("", &owner); err != nil {
		m.logger.Warn().Err(err).Str("path", m.path).Msg("Malformed pidfile")
		return Identity{}, false
	}
	return owner, owner.Pid != 0
}

// liveProcess reports whether the recorded identity still names a
// running process. A matching pid with a different creation time is a
// recycled pid, not a heliod instance.
func (m *Manager) liveProcess(owner Identity) (*process.Process, bool) {
	proc, err := process.NewProcess(owner.Pid)
	if err != nil {
		return nil, false
	}
	created, err := proc.CreateTime()
	if err != nil || created != owner.CreateTime {
		return nil, false
	}
	return proc, true
}

// terminate asks the old instance to exit and waits for it, escalating
// to SIGKILL when it lingers.
func (m *Manager) terminate(proc *process.Process) {
	m.logger.Info().
		Int32("pid", proc.Pid).
		Msg("Terminating duplicate heliod instance")

	if err := proc.Terminate(); err != nil {
		m.logger.Error().Err(err).
			Int32("pid", proc.Pid).
			Msg("Could not terminate old instance, continuing anyway")
		return
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		running, err := proc.IsRunning()
		if err != nil || !running {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}

	m.logger.Warn().
		Int32("pid", proc.Pid).
		Msg("Old instance did not exit in time, killing it")
	if err := proc.Kill(); err != nil {
		m.logger.Error().Err(err).Int32("pid", proc.Pid).Msg("Could not kill old instance")
	}
}

// write records this process as the pidfile owner.
func (m *Manager) write() error {
	identity := Identity{Pid: int32(os.Getpid())}
	if proc, err := process.NewProcess(identity.Pid); err == nil {
		if created, err := proc.CreateTime(); err == nil {
			identity.CreateTime = created
		}
		if username, err := proc.Username(); err == nil {
			identity.Username = username
		}
	}

	data, err := yaml.Marshal(identity)
	if err != nil {
		return errors.Wrap(err, errors.ErrStateWrite, "could not serialize pidfile")
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return errors.Wrapf(err, errors.ErrStateWrite, "could not create %s", filepath.Dir(m.path))
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return errors.Wrapf(err, errors.ErrStateWrite, "could not write pidfile %s", m.path)
	}

	m.logger.Debug().
		Str("path", m.path).
		Int32("pid", identity.Pid).
		Msg("Claimed pidfile")
	return nil
}
