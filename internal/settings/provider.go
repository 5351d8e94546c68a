package settings

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/kyleseneker/pinguard/internal/action"
	"github.com/kyleseneker/pinguard/internal/config"
	"github.com/kyleseneker/pinguard/internal/logging"
)

// Provider serves the live thresholds: the file configuration with the admin
// document's overrides applied. Reads are lock-free.
type Provider struct {
	base  atomic.Pointer[config.Config]
	doc   atomic.Pointer[Document]
	store *Store

	mu        sync.Mutex
	observers []func()
	logger    logging.Logger
}

// NewProvider creates a Provider serving base and the default document.
func NewProvider(base *config.Config, store *Store, logger logging.Logger) *Provider {
	if logger == nil {
		logger = logging.Get()
	}
	p := &Provider{store: store, logger: logger.Named("provider")}
	p.base.Store(base)
	p.doc.Store(DefaultDocument())
	return p
}

// Initialize loads the stored document when sess is unlocked. A locked session
// or an empty store keeps the defaults.
func (p *Provider) Initialize(ctx context.Context, sess *Session) error {
	if sess.State() == Locked {
		p.logger.Debug("Settings locked, serving defaults")
		return nil
	}
	doc, err := p.store.Load(ctx, sess)
	if err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	p.doc.Store(doc)
	p.notify()
	return nil
}

// Update persists doc and then makes it live.
func (p *Provider) Update(ctx context.Context, sess *Session, doc *Document) error {
	if err := p.store.Save(ctx, sess, doc); err != nil {
		return err
	}
	p.doc.Store(doc.Clone())
	p.logger.Info("Admin settings updated")
	p.notify()
	return nil
}

// SetBase swaps the file configuration, e.g. after a live reload.
func (p *Provider) SetBase(cfg *config.Config) {
	p.base.Store(cfg)
	p.notify()
}

// OnChange registers fn to run after the base config or document changes.
func (p *Provider) OnChange(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, fn)
}

func (p *Provider) notify() {
	p.mu.Lock()
	observers := append([]func(){}, p.observers...)
	p.mu.Unlock()
	for _, fn := range observers {
		fn()
	}
}

// Base returns the current file configuration.
func (p *Provider) Base() *config.Config {
	return p.base.Load()
}

// Current returns a copy of the live document.
func (p *Provider) Current() *Document {
	return p.doc.Load().Clone()
}

// ChannelEnabled reports the document's switch for ch.
func (p *Provider) ChannelEnabled(ch action.Channel) bool {
	return p.doc.Load().ChannelEnabled(ch)
}

// Cooldown returns the effective cooldown configuration.
func (p *Provider) Cooldown() config.CooldownConfig {
	cfg := p.base.Load().Cooldown
	doc := p.doc.Load()
	o := doc.Cooldown

	applyInt(&cfg.DefaultDurationSeconds, o.DefaultSeconds)
	applyInt(&cfg.PerAction.CallSeconds, o.CallSeconds)
	applyInt(&cfg.PerAction.SMSSeconds, o.SMSSeconds)
	applyInt(&cfg.PerAction.WhatsAppSeconds, o.WhatsAppSeconds)
	applyInt(&cfg.PerAction.EmailSeconds, o.EmailSeconds)
	applyInt(&cfg.GracePeriodSeconds, o.GraceSeconds)
	if doc.TestMode {
		cfg.TestMode.Enabled = true
	}
	return cfg
}

// AntiSpam returns the effective anti-spam configuration.
func (p *Provider) AntiSpam() config.AntiSpamConfig {
	cfg := p.base.Load().AntiSpam
	o := p.doc.Load().AntiSpam

	applyInt(&cfg.DuplicateWindowMinutes, o.DuplicateWindowMinutes)
	applyInt(&cfg.CellSizeMeters, o.CellSizeMeters)
	applyInt(&cfg.PostActionLockoutSeconds, o.PostActionLockoutSeconds)
	applyInt(&cfg.DailyCaps.Call, o.DailyCapCall)
	applyInt(&cfg.DailyCaps.SMS, o.DailyCapSMS)
	applyInt(&cfg.DailyCaps.WhatsApp, o.DailyCapWhatsApp)
	applyInt(&cfg.DailyCaps.Email, o.DailyCapEmail)
	return cfg
}

func applyInt(dst *int, override *int) {
	if override != nil {
		*dst = *override
	}
}
