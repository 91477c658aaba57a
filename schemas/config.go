package schemas

import (
	"strings"
	"time"
)

const (
	VideoRoleIntro = "intro"

	FallbackAdvance = "advance"
	FallbackReveal  = "reveal"

	DefaultSheetTab      = "Sheet1"
	DefaultIntroFallback = 5 * time.Second
	DefaultPathFallback  = 10 * time.Second
	DefaultPlayerRetry   = 500 * time.Millisecond
)

// FunnelConfig is the read-only branding, text and routing configuration of
// a funnel. It is loaded once at startup and shared by every session.
type FunnelConfig struct {
	CompanyName    string            `yaml:"company_name" json:"company_name"`
	LogoPath       string            `yaml:"logo_path" json:"logo_path,omitempty"`
	BrandColor     string            `yaml:"brand_color" json:"brand_color,omitempty"`
	ContactEmail   string            `yaml:"contact_email" json:"contact_email,omitempty"`
	BookingURL     string            `yaml:"booking_url" json:"booking_url"`
	Advisors       []Advisor         `yaml:"advisors" json:"advisors,omitempty"`
	Sheet          SheetConfig       `yaml:"sheet" json:"-"`
	Videos         map[string]string `yaml:"videos" json:"videos"`
	Paths          []PathOption      `yaml:"paths" json:"paths"`
	Routes         []RouteRule       `yaml:"routes" json:"-"`
	Feedback       bool              `yaml:"feedback" json:"feedback"`
	RequiredFields []string          `yaml:"required_fields" json:"required_fields,omitempty"`
	Texts          map[string]string `yaml:"texts" json:"texts,omitempty"`
	Placeholders   map[string]string `yaml:"placeholders" json:"placeholders,omitempty"`
	Timing         TimingConfig      `yaml:"timing" json:"-"`
	Player         PlayerConfig      `yaml:"player" json:"-"`
}

type Advisor struct {
	Name       string `yaml:"name" json:"name"`
	BookingURL string `yaml:"booking_url" json:"booking_url,omitempty"`
}

type SheetConfig struct {
	ID  string `yaml:"id"`
	Tab string `yaml:"tab"`
}

type PathOption struct {
	Tag   string `yaml:"tag" json:"tag"`
	Label string `yaml:"label" json:"label"`
	Video string `yaml:"video" json:"-"`
}

// RouteRule maps a lead to a video role when When evaluates to true.
type RouteRule struct {
	When  string `yaml:"when"`
	Video string `yaml:"video"`
}

type TimingConfig struct {
	IntroFallback  time.Duration `yaml:"intro_fallback"`
	PathFallback   time.Duration `yaml:"path_fallback"`
	FallbackAction string        `yaml:"fallback_action"`
}

type PlayerConfig struct {
	RetryInterval    time.Duration `yaml:"retry_interval"`
	RetryMaxInterval time.Duration `yaml:"retry_max_interval"`
	RetryMultiplier  float64       `yaml:"retry_multiplier"`
	RetryMaxElapsed  time.Duration `yaml:"retry_max_elapsed"`
}

func (c *FunnelConfig) Target() SheetTarget {
	tab := strings.TrimSpace(c.Sheet.Tab)
	if tab == "" {
		tab = DefaultSheetTab
	}
	return SheetTarget{SheetID: strings.TrimSpace(c.Sheet.ID), Tab: tab}
}

func (c *FunnelConfig) Path(tag string) (PathOption, bool) {
	for _, p := range c.Paths {
		if p.Tag == tag {
			return p, true
		}
	}
	return PathOption{}, false
}

func (c *FunnelConfig) Text(key string) string {
	return c.Texts[key]
}

// ApplyDefaults fills the zero timing and player values.
func (c *FunnelConfig) ApplyDefaults() {
	if c.Timing.IntroFallback <= 0 {
		c.Timing.IntroFallback = DefaultIntroFallback
	}
	if c.Timing.PathFallback <= 0 {
		c.Timing.PathFallback = DefaultPathFallback
	}
	if c.Timing.FallbackAction == "" {
		c.Timing.FallbackAction = FallbackAdvance
	}
	if c.Player.RetryInterval <= 0 {
		c.Player.RetryInterval = DefaultPlayerRetry
	}
	if c.Sheet.Tab == "" {
		c.Sheet.Tab = DefaultSheetTab
	}
}
