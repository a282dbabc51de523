package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
)

// Notification toggle keys understood by the event router.
const (
	NotifyMemberChange = "memberChange"
	NotifyAntiRecall   = "antiRecall"
	NotifyAdminChange  = "adminChange"
	NotifyBanNotice    = "banNotice"
	NotifyFileUpload   = "fileUpload"
	NotifyPokeReply    = "pokeReply"
	NotifyHonorNotice  = "honorNotice"
	NotifyLuckyKing    = "luckyKing"
)

const (
	PlatformQQ     = "qq"
	PlatformWeChat = "wechat"

	defaultReconnectSeconds = 5
	defaultCallTimeout      = 30
	defaultWelcomeDelayMs   = 1500
)

// DefaultWelcomeTemplate is used when welcome messages are enabled without a template.
const DefaultWelcomeTemplate = "欢迎 {nickname} 加入本群！"

// DefaultPokeReplies is used when poke replies are enabled but none are configured.
var DefaultPokeReplies = []string{
	"别戳了！🙈",
	"戳我干嘛~",
	"再戳我就要生气了！😤",
	"嘿嘿嘿~",
	"你好呀！👋",
	"我在呢~有什么事吗？",
}

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Accounts    []AccountConfig   `json:"accounts"`
	Policy      PolicyConfig      `json:"policy"`
	Logging     LoggingConfig     `json:"logging"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	mu          sync.RWMutex
}

// AccountConfig describes one gateway connection. QQ and WeChat-like gateways
// both speak OneBot v11 and differ only in naming.
type AccountConfig struct {
	Name               string              `json:"name"`
	Platform           string              `json:"platform" env:"PLATFORM"`
	Enabled            bool                `json:"enabled" env:"ENABLED"`
	WSUrl              string              `json:"ws_url" env:"WS_URL"`
	AccessToken        string              `json:"access_token" env:"ACCESS_TOKEN"`
	ReconnectInterval  int                 `json:"reconnect_interval" env:"RECONNECT_INTERVAL"`
	CallTimeout        int                 `json:"call_timeout" env:"CALL_TIMEOUT"`
	AllowFrom          FlexibleStringSlice `json:"allow_from" env:"ALLOW_FROM"`
	AllowGroups        FlexibleStringSlice `json:"allow_groups" env:"ALLOW_GROUPS"`
	GroupTriggerPrefix []string            `json:"group_trigger_prefix" env:"GROUP_TRIGGER_PREFIX"`
	Policy             *PolicyConfig       `json:"policy,omitempty"`
}

func (a AccountConfig) ReconnectDelay() time.Duration {
	secs := a.ReconnectInterval
	if secs < defaultReconnectSeconds {
		secs = defaultReconnectSeconds
	}
	return time.Duration(secs) * time.Second
}

func (a AccountConfig) CallTimeoutDuration() time.Duration {
	if a.CallTimeout <= 0 {
		return defaultCallTimeout * time.Second
	}
	return time.Duration(a.CallTimeout) * time.Second
}

// PolicyConfig is the router's view of owner preferences. The router treats
// it as read-only and fetches a fresh copy for every event.
type PolicyConfig struct {
	OwnerID       int64             `json:"owner_id" env:"QQBRIDGE_POLICY_OWNER_ID"`
	Notifications map[string]bool   `json:"notifications" env:"QQBRIDGE_POLICY_NOTIFICATIONS"`
	Welcome       WelcomeConfig     `json:"welcome"`
	AutoApprove   AutoApproveConfig `json:"auto_approve"`
	Poke          PokeConfig        `json:"poke"`
}

type WelcomeConfig struct {
	Enabled  bool   `json:"enabled" env:"QQBRIDGE_POLICY_WELCOME_ENABLED"`
	Template string `json:"template" env:"QQBRIDGE_POLICY_WELCOME_TEMPLATE"`
	DelayMs  int    `json:"delay_ms" env:"QQBRIDGE_POLICY_WELCOME_DELAY_MS"`
}

func (w WelcomeConfig) Delay() time.Duration {
	if w.DelayMs < 0 {
		return 0
	}
	return time.Duration(w.DelayMs) * time.Millisecond
}

type AutoApproveConfig struct {
	Friend FriendApproveConfig `json:"friend"`
	Group  GroupApproveConfig  `json:"group"`
}

type FriendApproveConfig struct {
	Enabled bool   `json:"enabled" env:"QQBRIDGE_POLICY_AUTO_APPROVE_FRIEND_ENABLED"`
	Pattern string `json:"pattern" env:"QQBRIDGE_POLICY_AUTO_APPROVE_FRIEND_PATTERN"`
}

type GroupApproveConfig struct {
	Enabled bool        `json:"enabled" env:"QQBRIDGE_POLICY_AUTO_APPROVE_GROUP_ENABLED"`
	Pattern string      `json:"pattern" env:"QQBRIDGE_POLICY_AUTO_APPROVE_GROUP_PATTERN"`
	Rules   []GroupRule `json:"rules"`
}

// GroupRule overrides the channel-wide approval pattern and welcome text for one group.
type GroupRule struct {
	GroupID            int64  `json:"group_id"`
	AutoApprovePattern string `json:"auto_approve_pattern,omitempty"`
	WelcomeMessage     string `json:"welcome_message,omitempty"`
}

// Rule returns the rule for groupID, if any.
func (g GroupApproveConfig) Rule(groupID int64) (GroupRule, bool) {
	for _, r := range g.Rules {
		if r.GroupID == groupID {
			return r, true
		}
	}
	return GroupRule{}, false
}

type PokeConfig struct {
	Enabled bool     `json:"enabled" env:"QQBRIDGE_POLICY_POKE_ENABLED"`
	Replies []string `json:"replies" env:"QQBRIDGE_POLICY_POKE_REPLIES" envSeparator:"|"`
}

// Notify reports whether a notification toggle is on. Missing keys count as on.
func (p PolicyConfig) Notify(key string) bool {
	if p.Notifications == nil {
		return true
	}
	enabled, ok := p.Notifications[key]
	return !ok || enabled
}

// Clone returns a deep copy so callers can't mutate shared state.
func (p PolicyConfig) Clone() PolicyConfig {
	out := p
	if p.Notifications != nil {
		out.Notifications = make(map[string]bool, len(p.Notifications))
		for k, v := range p.Notifications {
			out.Notifications[k] = v
		}
	}
	out.AutoApprove.Group.Rules = append([]GroupRule(nil), p.AutoApprove.Group.Rules...)
	out.Poke.Replies = append([]string(nil), p.Poke.Replies...)
	return out
}

type LoggingConfig struct {
	Level string `json:"level" env:"QQBRIDGE_LOG_LEVEL"`
	JSON  bool   `json:"json" env:"QQBRIDGE_LOG_JSON"`
}

type MaintenanceConfig struct {
	PendingSweepCron string `json:"pending_sweep_cron" env:"QQBRIDGE_MAINTENANCE_PENDING_SWEEP_CRON"`
	StatusCron       string `json:"status_cron" env:"QQBRIDGE_MAINTENANCE_STATUS_CRON"`
}

func DefaultPolicy() PolicyConfig {
	return PolicyConfig{
		OwnerID: 0,
		Notifications: map[string]bool{
			NotifyMemberChange: true,
			NotifyAntiRecall:   true,
			NotifyAdminChange:  true,
			NotifyBanNotice:    true,
			NotifyFileUpload:   true,
			NotifyPokeReply:    true,
			NotifyHonorNotice:  true,
			NotifyLuckyKing:    true,
		},
		Welcome: WelcomeConfig{
			Enabled:  true,
			Template: DefaultWelcomeTemplate,
			DelayMs:  defaultWelcomeDelayMs,
		},
		AutoApprove: AutoApproveConfig{
			Friend: FriendApproveConfig{Enabled: false},
			Group:  GroupApproveConfig{Enabled: false, Rules: []GroupRule{}},
		},
		Poke: PokeConfig{
			Enabled: true,
			Replies: append([]string(nil), DefaultPokeReplies...),
		},
	}
}

func DefaultConfig() *Config {
	return &Config{
		Accounts: []AccountConfig{
			{
				Name:              PlatformQQ,
				Platform:          PlatformQQ,
				Enabled:           true,
				WSUrl:             "ws://127.0.0.1:3001",
				ReconnectInterval: defaultReconnectSeconds,
				CallTimeout:       defaultCallTimeout,
				AllowFrom:         FlexibleStringSlice{},
				AllowGroups:       FlexibleStringSlice{},
			},
		},
		Policy: DefaultPolicy(),
		Logging: LoggingConfig{
			Level: "info",
		},
		Maintenance: MaintenanceConfig{
			PendingSweepCron: "*/10 * * * *",
			StatusCron:       "0 * * * *",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.normalize()

	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if err := env.Parse(&cfg.Policy); err != nil {
		return fmt.Errorf("policy env: %w", err)
	}
	if err := env.Parse(&cfg.Logging); err != nil {
		return fmt.Errorf("logging env: %w", err)
	}
	if err := env.Parse(&cfg.Maintenance); err != nil {
		return fmt.Errorf("maintenance env: %w", err)
	}
	for i := range cfg.Accounts {
		acc := &cfg.Accounts[i]
		if acc.Name == "" {
			continue
		}
		opts := env.Options{Prefix: AccountEnvPrefix(acc.Name)}
		if err := env.ParseWithOptions(acc, opts); err != nil {
			return fmt.Errorf("account %s env: %w", acc.Name, err)
		}
	}
	return nil
}

// AccountEnvPrefix returns the environment prefix for an account, e.g.
// QQBRIDGE_ACCOUNTS_QQ_ for the account named "qq".
func AccountEnvPrefix(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return "QQBRIDGE_ACCOUNTS_" + b.String() + "_"
}

func (c *Config) normalize() {
	for i := range c.Accounts {
		acc := &c.Accounts[i]
		if acc.Platform == "" {
			acc.Platform = PlatformQQ
		}
		if acc.Name == "" {
			if i == 0 {
				acc.Name = acc.Platform
			} else {
				acc.Name = fmt.Sprintf("%s%d", acc.Platform, i)
			}
		}
	}
	if c.Policy.Welcome.Template == "" {
		c.Policy.Welcome.Template = DefaultWelcomeTemplate
	}
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Account returns the account named name.
func (c *Config) Account(name string) (AccountConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, acc := range c.Accounts {
		if acc.Name == name {
			return acc, true
		}
	}
	return AccountConfig{}, false
}

// EnabledAccounts lists accounts with a gateway URL that are switched on.
func (c *Config) EnabledAccounts() []AccountConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]AccountConfig, 0, len(c.Accounts))
	for _, acc := range c.Accounts {
		if acc.Enabled && acc.WSUrl != "" {
			out = append(out, acc)
		}
	}
	return out
}

// PolicyFor returns a private copy of the policy that applies to an account.
func (c *Config) PolicyFor(account string) PolicyConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, acc := range c.Accounts {
		if acc.Name == account && acc.Policy != nil {
			return acc.Policy.Clone()
		}
	}
	return c.Policy.Clone()
}

// UpdatePolicy replaces the global policy. Routers see it on their next event.
func (c *Config) UpdatePolicy(p PolicyConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Policy = p.Clone()
}

// PolicySource adapts a Config to the router's per-event policy lookup.
type PolicySource struct {
	cfg     *Config
	account string
}

func (c *Config) PolicySource(account string) PolicySource {
	return PolicySource{cfg: c, account: account}
}

func (s PolicySource) Policy() PolicyConfig {
	return s.cfg.PolicyFor(s.account)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}

// DefaultConfigPath is ~/.qqbridge/config.json unless QQBRIDGE_CONFIG is set.
func DefaultConfigPath() string {
	if p := strings.TrimSpace(os.Getenv("QQBRIDGE_CONFIG")); p != "" {
		return expandHome(p)
	}
	return expandHome("~/.qqbridge/config.json")
}
