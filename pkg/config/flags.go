package config

import (
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Flags is a boolean runtime option lookup. Implementations are consulted on
// every call so a flag can be flipped without restarting the process.
type Flags interface {
	Bool(name string) bool
}

// Compile-time interface guards.
var (
	_ Flags = (*ViperFlags)(nil)
	_ Flags = (*StaticFlags)(nil)
)

const optionsPrefix = "options."

// ViperFlags serves flags from a snapshot of the "options" section of a Viper
// instance. Viper is not safe for concurrent use, so Bool never touches it;
// the snapshot is refreshed only from the config watcher goroutine.
type ViperFlags struct {
	v *viper.Viper

	mu    sync.RWMutex
	flags map[string]bool
}

// NewViperFlags snapshots v. A nil v yields a provider where every flag is off.
func NewViperFlags(v *viper.Viper) *ViperFlags {
	if v == nil {
		v = viper.New()
	}
	f := &ViperFlags{v: v}
	f.Reload()
	return f
}

func (f *ViperFlags) Bool(name string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.flags[strings.ToLower(name)]
}

// Reload re-reads every options.* key from Viper. It must not run
// concurrently with anything else using the Viper instance.
func (f *ViperFlags) Reload() {
	flags := make(map[string]bool)
	for _, key := range f.v.AllKeys() {
		if name, ok := strings.CutPrefix(key, optionsPrefix); ok {
			flags[name] = f.v.GetBool(key)
		}
	}

	f.mu.Lock()
	f.flags = flags
	f.mu.Unlock()
}

// Watch starts watching the config file and reloads the snapshot on every
// change before calling onChange. Call it once all other reads of the Viper
// instance are done.
func (f *ViperFlags) Watch(onChange func(fsnotify.Event)) {
	f.v.OnConfigChange(func(e fsnotify.Event) {
		f.Reload()
		if onChange != nil {
			onChange(e)
		}
	})
	f.v.WatchConfig()
}

// StaticFlags is a fixed set of flags, mostly useful in tests.
type StaticFlags struct {
	mu    sync.RWMutex
	flags map[string]bool
}

// NewStaticFlags returns flags initialised from m.
func NewStaticFlags(m map[string]bool) *StaticFlags {
	flags := make(map[string]bool, len(m))
	for k, v := range m {
		flags[k] = v
	}
	return &StaticFlags{flags: flags}
}

func (f *StaticFlags) Bool(name string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.flags[name]
}

// Set changes a flag value.
func (f *StaticFlags) Set(name string, value bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.flags == nil {
		f.flags = make(map[string]bool)
	}
	f.flags[name] = value
}
