// Package notify delivers a native toast (and optional sound) when an
// observation matches a tag whose alert flag is on, without flooding. The
// toast carries no image: the alert_image_* settings are not read here.
package notify

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/sirupsen/logrus"

	"github.com/havenwatch/tracker/internal/model"
)

const appName = "Activity Tracker"

// settingsReader is the subset of store.Store Notifier needs for the
// alert_sound_* settings.
type settingsReader interface {
	GetTag(ctx context.Context, id string) (model.Tag, error)
	AllSettings(ctx context.Context) (map[string]string, error)
}

// AssetLister resolves the media assets backing sound/image ids.
type AssetLister interface {
	AssetPath(ctx context.Context, id string) (string, error)
	AssetsByKind(ctx context.Context, kind string) ([]string, error)
}

// Player abstracts sound playback so the rate-limiting/selection logic can
// be exercised without touching an audio device.
type Player interface {
	Play(path string) error
	Beep() error
}

// Notifier is the rate-limited toast/sound/image dispatcher.
type Notifier struct {
	store  settingsReader
	assets AssetLister
	player Player
	log    *logrus.Entry

	mu           sync.Mutex
	lastFire     map[string]time.Time // tag id -> last fire time
	lastSoundID  string                // last sound id played, for never-repeat random mode
	rng          *rand.Rand
}

// New constructs a Notifier. player may be nil to use the default
// malgo-backed player.
func New(st settingsReader, assets AssetLister, player Player, log *logrus.Entry) *Notifier {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if player == nil {
		player = NewMalgoPlayer(log)
	}
	return &Notifier{
		store:    st,
		assets:   assets,
		player:   player,
		log:      log,
		lastFire: make(map[string]time.Time),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Maybe fires a notification for tagID if its alert flag is set and the
// cooldown has elapsed. The last-fire timestamp is stamped before the OS
// call, matching the spec's ordering so a slow toast call cannot cause a
// double-fire on the next tick.
func (n *Notifier) Maybe(ctx context.Context, tagID string) {
	if tagID == "" {
		return
	}
	tag, err := n.store.GetTag(ctx, tagID)
	if err != nil {
		return
	}
	if tag.Reserved() || !tag.AlertEnabled {
		return
	}

	cooldown := tag.AlertCooldown
	if cooldown < 1 {
		cooldown = 1
	}

	n.mu.Lock()
	last, fired := n.lastFire[tagID]
	if fired && time.Since(last) < time.Duration(cooldown)*time.Second {
		n.mu.Unlock()
		return
	}
	n.lastFire[tagID] = time.Now()
	n.mu.Unlock()

	body := tag.AlertMessage
	if body == "" {
		body = fmt.Sprintf("Now tracking: %s", tag.Name)
	}

	settings, err := n.store.AllSettings(ctx)
	if err != nil {
		settings = model.DefaultSettings()
	}

	if settings[model.SettingAlertToastEnabled] == "1" {
		if err := beeep.Notify(appName, body, ""); err != nil {
			n.log.WithError(err).Debug("toast delivery failed, falling back to audio-only")
		}
	}

	if settings[model.SettingAlertSoundEnabled] == "1" {
		n.playSound(ctx, settings)
	}
}

func (n *Notifier) playSound(ctx context.Context, settings map[string]string) {
	var path string
	mode := settings[model.SettingAlertSoundMode]

	switch mode {
	case "random":
		path = n.pickRandomSound(ctx)
	default: // "single"
		if id := settings[model.SettingAlertSoundSelected]; id != "" {
			if p, err := n.assets.AssetPath(ctx, id); err == nil {
				path = p
			}
		}
	}

	if path == "" {
		if err := n.player.Beep(); err != nil {
			n.log.WithError(err).Debug("fallback beep failed")
		}
		return
	}
	if err := n.player.Play(path); err != nil {
		n.log.WithError(err).Debug("sound playback failed, falling back to beep")
		_ = n.player.Beep()
	}
}

// pickRandomSound picks uniformly from the sound asset list but never the
// immediately previous pick when two or more assets exist.
func (n *Notifier) pickRandomSound(ctx context.Context) string {
	ids, err := n.assets.AssetsByKind(ctx, "sound")
	if err != nil || len(ids) == 0 {
		return ""
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	choice := ids[n.rng.Intn(len(ids))]
	if len(ids) >= 2 {
		for choice == n.lastSoundID {
			choice = ids[n.rng.Intn(len(ids))]
		}
	}
	n.lastSoundID = choice

	path, err := n.assets.AssetPath(ctx, choice)
	if err != nil {
		return ""
	}
	return path
}
