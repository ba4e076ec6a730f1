package notify

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/emperorhan/mint-watcher/internal/domain/model"
)

const (
	KindWebhook = "webhook"
	KindSlack   = "slack"
	KindDiscord = "discord"
	KindLog     = "log"

	defaultSendTimeout = 10 * time.Second
)

// DestinationConfig describes one destination as loaded from the seed file.
type DestinationConfig struct {
	ID       string   `yaml:"id"`
	Kind     string   `yaml:"kind"`
	URL      string   `yaml:"url"`
	Kinds    []string `yaml:"kinds"`
	Disabled bool     `yaml:"disabled"`
}

func (c DestinationConfig) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("destination id is required")
	}
	switch c.Kind {
	case KindWebhook, KindSlack, KindDiscord:
		if !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
			return fmt.Errorf("destination %s: %s url must be http(s)", c.ID, c.Kind)
		}
	case KindLog:
	default:
		return fmt.Errorf("destination %s: unknown kind %q", c.ID, c.Kind)
	}
	for _, k := range c.Kinds {
		switch model.NotificationKind(k) {
		case model.NotificationMintBatch, model.NotificationSale:
		default:
			return fmt.Errorf("destination %s: unknown notification kind %q", c.ID, k)
		}
	}
	return nil
}

// StaticDirectory is an in-memory Directory. Destinations can be replaced
// at runtime.
type StaticDirectory struct {
	mu   sync.RWMutex
	dsts map[string]Destination
}

var _ Directory = (*StaticDirectory)(nil)

func NewStaticDirectory(dsts ...Destination) *StaticDirectory {
	d := &StaticDirectory{dsts: make(map[string]Destination, len(dsts))}
	for _, dst := range dsts {
		d.dsts[dst.ID()] = dst
	}
	return d
}

// BuildDirectory constructs destinations from config.
func BuildDirectory(cfgs []DestinationConfig, logger *slog.Logger) (*StaticDirectory, error) {
	d := NewStaticDirectory()
	for _, c := range cfgs {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if _, dup := d.dsts[c.ID]; dup {
			return nil, fmt.Errorf("duplicate destination id %q", c.ID)
		}
		filter := NewFilter(c.Kinds, c.Disabled)
		var dst Destination
		switch c.Kind {
		case KindWebhook:
			dst = NewWebhookDestination(c.ID, c.URL, defaultSendTimeout, filter)
		case KindSlack:
			dst = NewSlackDestination(c.ID, c.URL, defaultSendTimeout, filter)
		case KindDiscord:
			dst = NewDiscordDestination(c.ID, c.URL, defaultSendTimeout, filter)
		case KindLog:
			dst = NewLogDestination(c.ID, logger, filter)
		}
		d.dsts[c.ID] = dst
	}
	return d, nil
}

func (d *StaticDirectory) Resolve(id string) (Destination, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	dst, ok := d.dsts[id]
	return dst, ok
}

func (d *StaticDirectory) Put(dst Destination) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dsts[dst.ID()] = dst
}

func (d *StaticDirectory) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.dsts, id)
}

func (d *StaticDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.dsts)
}

// Filter implements Destination.Accepts. The zero value accepts every kind.
type Filter struct {
	kinds    map[model.NotificationKind]struct{}
	disabled bool
}

func NewFilter(kinds []string, disabled bool) Filter {
	f := Filter{disabled: disabled}
	if len(kinds) > 0 {
		f.kinds = make(map[model.NotificationKind]struct{}, len(kinds))
		for _, k := range kinds {
			f.kinds[model.NotificationKind(k)] = struct{}{}
		}
	}
	return f
}

func (f Filter) Accepts(kind model.NotificationKind) bool {
	if f.disabled {
		return false
	}
	if f.kinds == nil {
		return true
	}
	_, ok := f.kinds[kind]
	return ok
}
