package loom

import (
	"bytes"
	"fmt"
	"math/bits"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/weftlabs/weft/lane"
	"github.com/weftlabs/weft/sched"
)

// Profile tunes the engine's scheduling behavior. The zero value of any
// field means "use the default"; a negative starvation window disables
// promotion for that tier.
type Profile struct {
	// TransientWidth is the size of the deferred lane pool, claimed
	// round-robin. Must be a power of two no larger than
	// lane.TransientCount.
	TransientWidth int `yaml:"transient_width"`

	// FrameBudget is how long a concurrent pass may hold the goroutine
	// before the scheduler asks it to yield.
	FrameBudget time.Duration `yaml:"frame_budget"`

	// Starvation windows per urgency tier. A lane pending longer than
	// its window is promoted and rendered synchronously. Synchronous
	// work cannot starve (nothing outranks it) and idle work is never
	// promoted, so neither has a window.
	InputWindow     time.Duration `yaml:"input_window"`
	DefaultWindow   time.Duration `yaml:"default_window"`
	TransientWindow time.Duration `yaml:"transient_window"`
	RetryWindow     time.Duration `yaml:"retry_window"`
}

// DefaultProfile returns the tuning the engine ships with.
func DefaultProfile() Profile {
	return Profile{
		TransientWidth:  lane.TransientCount,
		FrameBudget:     sched.DefaultFrameBudget,
		InputWindow:     250 * time.Millisecond,
		DefaultWindow:   5 * time.Second,
		TransientWindow: 5 * time.Second,
		RetryWindow:     10 * time.Second,
	}
}

// normalized fills zero-valued fields from the default profile.
func (p Profile) normalized() Profile {
	def := DefaultProfile()
	if p.TransientWidth == 0 {
		p.TransientWidth = def.TransientWidth
	}
	if p.FrameBudget == 0 {
		p.FrameBudget = def.FrameBudget
	}
	if p.InputWindow == 0 {
		p.InputWindow = def.InputWindow
	}
	if p.DefaultWindow == 0 {
		p.DefaultWindow = def.DefaultWindow
	}
	if p.TransientWindow == 0 {
		p.TransientWindow = def.TransientWindow
	}
	if p.RetryWindow == 0 {
		p.RetryWindow = def.RetryWindow
	}
	return p
}

// Validate checks the profile's structural constraints.
func (p Profile) Validate() error {
	switch w := p.TransientWidth; {
	case w < 1 || w > lane.TransientCount:
		return fmt.Errorf("loom: transient_width %d out of range [1,%d]", w, lane.TransientCount)
	case bits.OnesCount(uint(w)) != 1:
		return fmt.Errorf("loom: transient_width %d is not a power of two", w)
	}
	if p.FrameBudget <= 0 {
		return fmt.Errorf("loom: frame_budget must be positive, got %s", p.FrameBudget)
	}
	return nil
}

// tierWindow returns the starvation window for an expiration tier, or a
// negative duration for tiers that never expire.
func (p Profile) tierWindow(tier int) time.Duration {
	switch tier {
	case lane.TierInputContinuous:
		return p.InputWindow
	case lane.TierDefault:
		return p.DefaultWindow
	case lane.TierTransient:
		return p.TransientWindow
	case lane.TierRetry:
		return p.RetryWindow
	default:
		return -1
	}
}

// durationValue decodes either a Go duration string ("8ms") or a bare
// integer nanosecond count.
type durationValue time.Duration

func (d *durationValue) UnmarshalYAML(node *yaml.Node) error {
	var n int64
	if err := node.Decode(&n); err == nil {
		*d = durationValue(n)
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = durationValue(v)
	return nil
}

func (p *Profile) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		TransientWidth  int           `yaml:"transient_width"`
		FrameBudget     durationValue `yaml:"frame_budget"`
		InputWindow     durationValue `yaml:"input_window"`
		DefaultWindow   durationValue `yaml:"default_window"`
		TransientWindow durationValue `yaml:"transient_window"`
		RetryWindow     durationValue `yaml:"retry_window"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	p.TransientWidth = raw.TransientWidth
	p.FrameBudget = time.Duration(raw.FrameBudget)
	p.InputWindow = time.Duration(raw.InputWindow)
	p.DefaultWindow = time.Duration(raw.DefaultWindow)
	p.TransientWindow = time.Duration(raw.TransientWindow)
	p.RetryWindow = time.Duration(raw.RetryWindow)
	return nil
}

// ParseProfileYAML decodes and validates a profile payload. Omitted
// fields take their defaults.
func ParseProfileYAML(data []byte) (Profile, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Profile{}, fmt.Errorf("loom: profile payload is empty")
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("loom: decode profile: %w", err)
	}
	p = p.normalized()
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// LoadProfile reads a profile from a YAML file.
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("loom: read %s: %w", path, err)
	}
	p, err := ParseProfileYAML(data)
	if err != nil {
		return Profile{}, fmt.Errorf("loom: %s: %w", path, err)
	}
	return p, nil
}
