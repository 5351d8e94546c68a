// Package settings holds the admin-configurable settings document, its
// passphrase-gated encrypted store and the provider that merges it over the
// file configuration.
package settings

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/kyleseneker/pinguard/internal/action"
)

// CurrentSchema is the document schema version written by this package.
const CurrentSchema = 1

// Channels switches reporting channels on or off.
type Channels struct {
	Call     bool `json:"call"`
	SMS      bool `json:"sms"`
	Email    bool `json:"email"`
	WhatsApp bool `json:"whatsapp"`
}

// Templates holds the message bodies handed to the launcher.
type Templates struct {
	SMS   string `json:"sms"`
	Email string `json:"email"`
}

// CooldownOverrides replaces cooldown thresholds from the config file.
// Nil fields keep the configured value.
type CooldownOverrides struct {
	DefaultSeconds  *int `json:"default_seconds,omitempty"`
	CallSeconds     *int `json:"call_seconds,omitempty"`
	SMSSeconds      *int `json:"sms_seconds,omitempty"`
	WhatsAppSeconds *int `json:"whatsapp_seconds,omitempty"`
	EmailSeconds    *int `json:"email_seconds,omitempty"`
	GraceSeconds    *int `json:"grace_seconds,omitempty"`
}

// AntiSpamOverrides replaces anti-spam thresholds from the config file.
// Nil fields keep the configured value.
type AntiSpamOverrides struct {
	DuplicateWindowMinutes   *int `json:"duplicate_window_minutes,omitempty"`
	CellSizeMeters           *int `json:"cell_size_meters,omitempty"`
	PostActionLockoutSeconds *int `json:"post_action_lockout_seconds,omitempty"`
	DailyCapCall             *int `json:"daily_cap_call,omitempty"`
	DailyCapSMS              *int `json:"daily_cap_sms,omitempty"`
	DailyCapWhatsApp         *int `json:"daily_cap_whatsapp,omitempty"`
	DailyCapEmail            *int `json:"daily_cap_email,omitempty"`
}

// Document is the admin settings document. GeofenceKm and TelemetryEnabled
// are stored and validated here but read only by the map and telemetry
// layers, which live outside this module.
type Document struct {
	Schema           int               `json:"schema"`
	GeofenceKm       float64           `json:"geofence_km"`
	Channels         Channels          `json:"channels"`
	Templates        Templates         `json:"templates"`
	TelemetryEnabled bool              `json:"telemetry_enabled"`
	TestMode         bool              `json:"test_mode"`
	Cooldown         CooldownOverrides `json:"cooldown"`
	AntiSpam         AntiSpamOverrides `json:"anti_spam"`
}

// DefaultDocument returns the document used before an admin saves one.
func DefaultDocument() *Document {
	return &Document{
		Schema:     CurrentSchema,
		GeofenceKm: 3,
		Channels: Channels{
			Call:     true,
			SMS:      true,
			Email:    true,
			WhatsApp: false,
		},
		Templates: Templates{
			SMS:   "Accident at {coords}. Need help. {timestamp}",
			Email: "Accident reported at {location} ({coords}) at {timestamp}. Details: {details}",
		},
	}
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	c := *d
	c.Cooldown = CooldownOverrides{
		DefaultSeconds:  cloneInt(d.Cooldown.DefaultSeconds),
		CallSeconds:     cloneInt(d.Cooldown.CallSeconds),
		SMSSeconds:      cloneInt(d.Cooldown.SMSSeconds),
		WhatsAppSeconds: cloneInt(d.Cooldown.WhatsAppSeconds),
		EmailSeconds:    cloneInt(d.Cooldown.EmailSeconds),
		GraceSeconds:    cloneInt(d.Cooldown.GraceSeconds),
	}
	c.AntiSpam = AntiSpamOverrides{
		DuplicateWindowMinutes:   cloneInt(d.AntiSpam.DuplicateWindowMinutes),
		CellSizeMeters:           cloneInt(d.AntiSpam.CellSizeMeters),
		PostActionLockoutSeconds: cloneInt(d.AntiSpam.PostActionLockoutSeconds),
		DailyCapCall:             cloneInt(d.AntiSpam.DailyCapCall),
		DailyCapSMS:              cloneInt(d.AntiSpam.DailyCapSMS),
		DailyCapWhatsApp:         cloneInt(d.AntiSpam.DailyCapWhatsApp),
		DailyCapEmail:            cloneInt(d.AntiSpam.DailyCapEmail),
	}
	return &c
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// ChannelEnabled reports whether ch is switched on. Unknown channels are off.
func (d *Document) ChannelEnabled(ch action.Channel) bool {
	switch ch {
	case action.Call:
		return d.Channels.Call
	case action.SMS:
		return d.Channels.SMS
	case action.WhatsApp:
		return d.Channels.WhatsApp
	case action.Email:
		return d.Channels.Email
	default:
		return false
	}
}

// Validate checks the document against the same ranges as the config file.
func (d *Document) Validate() error {
	if d.Schema < 1 || d.Schema > CurrentSchema {
		return fmt.Errorf("unsupported schema %d", d.Schema)
	}
	if d.GeofenceKm < 0.1 || d.GeofenceKm > 50 {
		return errors.New("geofence_km must be between 0.1 and 50")
	}
	if strings.TrimSpace(d.Templates.SMS) == "" {
		return errors.New("templates.sms is required")
	}
	if utf8.RuneCountInString(d.Templates.SMS) > 280 {
		return errors.New("templates.sms cannot exceed 280 characters")
	}
	if utf8.RuneCountInString(d.Templates.Email) > 2000 {
		return errors.New("templates.email cannot exceed 2000 characters")
	}

	cd := d.Cooldown
	for name, p := range map[string]*int{
		"cooldown.default_seconds":  cd.DefaultSeconds,
		"cooldown.call_seconds":     cd.CallSeconds,
		"cooldown.sms_seconds":      cd.SMSSeconds,
		"cooldown.whatsapp_seconds": cd.WhatsAppSeconds,
		"cooldown.email_seconds":    cd.EmailSeconds,
	} {
		if p != nil && *p < 0 {
			return fmt.Errorf("%s cannot be negative", name)
		}
	}
	if p := cd.GraceSeconds; p != nil && (*p < 0 || *p > 30) {
		return errors.New("cooldown.grace_seconds must be between 0 and 30")
	}

	as := d.AntiSpam
	if p := as.CellSizeMeters; p != nil && (*p < 1 || *p > 500) {
		return errors.New("anti_spam.cell_size_meters must be between 1 and 500")
	}
	for name, p := range map[string]*int{
		"anti_spam.duplicate_window_minutes":    as.DuplicateWindowMinutes,
		"anti_spam.post_action_lockout_seconds": as.PostActionLockoutSeconds,
		"anti_spam.daily_cap_call":              as.DailyCapCall,
		"anti_spam.daily_cap_sms":               as.DailyCapSMS,
		"anti_spam.daily_cap_whatsapp":          as.DailyCapWhatsApp,
		"anti_spam.daily_cap_email":             as.DailyCapEmail,
	} {
		if p != nil && *p < 0 {
			return fmt.Errorf("%s cannot be negative", name)
		}
	}
	return nil
}

type fieldSetter func(d *Document, value string) error

func boolField(get func(d *Document) *bool) fieldSetter {
	return func(d *Document, value string) error {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("expected true or false: %w", err)
		}
		*get(d) = b
		return nil
	}
}

func stringField(get func(d *Document) *string) fieldSetter {
	return func(d *Document, value string) error {
		*get(d) = value
		return nil
	}
}

// overrideField sets an optional integer. "default" clears the override.
func overrideField(get func(d *Document) **int) fieldSetter {
	return func(d *Document, value string) error {
		if strings.EqualFold(value, "default") {
			*get(d) = nil
			return nil
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("expected an integer or 'default': %w", err)
		}
		*get(d) = &n
		return nil
	}
}

var fieldSetters = map[string]fieldSetter{
	"geofence_km": func(d *Document, value string) error {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("expected a number: %w", err)
		}
		d.GeofenceKm = f
		return nil
	},
	"channels.call":     boolField(func(d *Document) *bool { return &d.Channels.Call }),
	"channels.sms":      boolField(func(d *Document) *bool { return &d.Channels.SMS }),
	"channels.email":    boolField(func(d *Document) *bool { return &d.Channels.Email }),
	"channels.whatsapp": boolField(func(d *Document) *bool { return &d.Channels.WhatsApp }),
	"templates.sms":     stringField(func(d *Document) *string { return &d.Templates.SMS }),
	"templates.email":   stringField(func(d *Document) *string { return &d.Templates.Email }),
	"telemetry_enabled": boolField(func(d *Document) *bool { return &d.TelemetryEnabled }),
	"test_mode":         boolField(func(d *Document) *bool { return &d.TestMode }),

	"cooldown.default_seconds":  overrideField(func(d *Document) **int { return &d.Cooldown.DefaultSeconds }),
	"cooldown.call_seconds":     overrideField(func(d *Document) **int { return &d.Cooldown.CallSeconds }),
	"cooldown.sms_seconds":      overrideField(func(d *Document) **int { return &d.Cooldown.SMSSeconds }),
	"cooldown.whatsapp_seconds": overrideField(func(d *Document) **int { return &d.Cooldown.WhatsAppSeconds }),
	"cooldown.email_seconds":    overrideField(func(d *Document) **int { return &d.Cooldown.EmailSeconds }),
	"cooldown.grace_seconds":    overrideField(func(d *Document) **int { return &d.Cooldown.GraceSeconds }),

	"anti_spam.duplicate_window_minutes":    overrideField(func(d *Document) **int { return &d.AntiSpam.DuplicateWindowMinutes }),
	"anti_spam.cell_size_meters":            overrideField(func(d *Document) **int { return &d.AntiSpam.CellSizeMeters }),
	"anti_spam.post_action_lockout_seconds": overrideField(func(d *Document) **int { return &d.AntiSpam.PostActionLockoutSeconds }),
	"anti_spam.daily_cap_call":              overrideField(func(d *Document) **int { return &d.AntiSpam.DailyCapCall }),
	"anti_spam.daily_cap_sms":               overrideField(func(d *Document) **int { return &d.AntiSpam.DailyCapSMS }),
	"anti_spam.daily_cap_whatsapp":          overrideField(func(d *Document) **int { return &d.AntiSpam.DailyCapWhatsApp }),
	"anti_spam.daily_cap_email":             overrideField(func(d *Document) **int { return &d.AntiSpam.DailyCapEmail }),
}

// Fields lists the names accepted by SetField.
func Fields() []string {
	names := make([]string, 0, len(fieldSetters))
	for name := range fieldSetters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetField parses value into the named field and revalidates the document.
// The document is left unchanged on error.
func (d *Document) SetField(name, value string) error {
	setter, ok := fieldSetters[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return fmt.Errorf("unknown settings field %q", name)
	}
	next := d.Clone()
	if err := setter(next, value); err != nil {
		return fmt.Errorf("invalid value for %s: %w", name, err)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*d = *next
	return nil
}
