package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(cfg.Accounts) != 1 || cfg.Accounts[0].Name != "qq" {
		t.Fatalf("unexpected default accounts: %+v", cfg.Accounts)
	}
	if cfg.Accounts[0].ReconnectDelay() != 5*time.Second {
		t.Fatalf("reconnect delay = %v", cfg.Accounts[0].ReconnectDelay())
	}
	if cfg.Accounts[0].CallTimeoutDuration() != 30*time.Second {
		t.Fatalf("call timeout = %v", cfg.Accounts[0].CallTimeoutDuration())
	}
	if !cfg.Policy.Welcome.Enabled || cfg.Policy.Welcome.DelayMs != 1500 {
		t.Fatalf("unexpected welcome defaults: %+v", cfg.Policy.Welcome)
	}
}

func TestLoadConfig_FlexibleAllowFrom(t *testing.T) {
	path := writeConfig(t, `{
		"accounts": [
			{"name": "main", "enabled": true, "ws_url": "ws://gw:3001", "allow_from": [10001, "10002"]},
			{"platform": "wechat", "enabled": true, "ws_url": "ws://wx:3002"}
		]
	}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got := cfg.Accounts[0].AllowFrom; len(got) != 2 || got[0] != "10001" || got[1] != "10002" {
		t.Fatalf("allow_from = %#v", got)
	}
	if cfg.Accounts[0].Platform != PlatformQQ {
		t.Fatalf("platform default = %q", cfg.Accounts[0].Platform)
	}
	if cfg.Accounts[1].Name != "wechat1" {
		t.Fatalf("second account name = %q", cfg.Accounts[1].Name)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `{"accounts": [{"name": "qq", "enabled": true, "ws_url": "ws://file:3001"}]}`)

	t.Setenv("QQBRIDGE_ACCOUNTS_QQ_WS_URL", "ws://env:3001")
	t.Setenv("QQBRIDGE_ACCOUNTS_QQ_ACCESS_TOKEN", "secret")
	t.Setenv("QQBRIDGE_POLICY_OWNER_ID", "424242")
	t.Setenv("QQBRIDGE_POLICY_POKE_REPLIES", "a, b|c")
	t.Setenv("QQBRIDGE_LOG_LEVEL", "debug")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	acc, ok := cfg.Account("qq")
	if !ok {
		t.Fatalf("account qq missing")
	}
	if acc.WSUrl != "ws://env:3001" || acc.AccessToken != "secret" {
		t.Fatalf("env not applied to account: %+v", acc)
	}
	if cfg.Policy.OwnerID != 424242 {
		t.Fatalf("owner id = %d", cfg.Policy.OwnerID)
	}
	if got := cfg.Policy.Poke.Replies; len(got) != 2 || got[0] != "a, b" || got[1] != "c" {
		t.Fatalf("poke replies = %#v", got)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("log level = %q", cfg.Logging.Level)
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	path := writeConfig(t, `{"accounts": [`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestPolicyFor_AccountOverrideAndIsolation(t *testing.T) {
	cfg := DefaultConfig()
	override := DefaultPolicy()
	override.OwnerID = 7
	cfg.Accounts = append(cfg.Accounts, AccountConfig{Name: "wx", Platform: PlatformWeChat, Policy: &override})

	if got := cfg.PolicyFor("wx").OwnerID; got != 7 {
		t.Fatalf("override owner = %d", got)
	}
	if got := cfg.PolicyFor("qq").OwnerID; got != 0 {
		t.Fatalf("global owner = %d", got)
	}

	p := cfg.PolicyFor("qq")
	p.Notifications[NotifyAntiRecall] = false
	if !cfg.PolicyFor("qq").Notify(NotifyAntiRecall) {
		t.Fatalf("mutating a returned policy leaked into config")
	}
}

func TestUpdatePolicy_VisibleThroughSource(t *testing.T) {
	cfg := DefaultConfig()
	src := cfg.PolicySource("qq")

	p := src.Policy()
	p.OwnerID = 99
	p.Poke.Enabled = false
	cfg.UpdatePolicy(p)

	got := src.Policy()
	if got.OwnerID != 99 || got.Poke.Enabled {
		t.Fatalf("policy update not visible: %+v", got)
	}
}

func TestNotify_MissingKeyDefaultsOn(t *testing.T) {
	p := PolicyConfig{Notifications: map[string]bool{NotifyBanNotice: false}}
	if p.Notify(NotifyBanNotice) {
		t.Fatalf("explicit false should disable")
	}
	if !p.Notify(NotifyFileUpload) {
		t.Fatalf("missing key should default on")
	}
	if !(PolicyConfig{}).Notify(NotifyHonorNotice) {
		t.Fatalf("nil map should default on")
	}
}

func TestGroupRuleLookup(t *testing.T) {
	g := GroupApproveConfig{Rules: []GroupRule{{GroupID: 1, WelcomeMessage: "hi"}}}
	if r, ok := g.Rule(1); !ok || r.WelcomeMessage != "hi" {
		t.Fatalf("rule lookup = %+v, %v", r, ok)
	}
	if _, ok := g.Rule(2); ok {
		t.Fatalf("unexpected rule for group 2")
	}
}

func TestSaveConfig_RoundTripPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := DefaultConfig()
	cfg.Policy.OwnerID = 5
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("mode = %v", info.Mode().Perm())
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.Policy.OwnerID != 5 {
		t.Fatalf("owner id after reload = %d", loaded.Policy.OwnerID)
	}
}

func TestAccountEnvPrefix(t *testing.T) {
	if got := AccountEnvPrefix("wx-main"); got != "QQBRIDGE_ACCOUNTS_WX_MAIN_" {
		t.Fatalf("prefix = %q", got)
	}
}
