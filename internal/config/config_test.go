package config

import (
	"strings"
	"testing"
)

const validYAML = `
version: 1
listen_addr: ":8080"
allowlist: config/allowlist.yaml
entrypoint: server
authz:
  model: config/access/model.conf
  policy: config/access/policy.csv
  mode: enforce
signing:
  name: leaseguard
  version: "1"
  chain_id: 1
  verifying_contract: "0x0000000000000000000000000000000000000101"
`

func TestParse_Valid(t *testing.T) {
	c, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.ListenAddr != ":8080" || c.Authz.Mode != "enforce" {
		t.Fatalf("unexpected config: %+v", c)
	}
	d := c.Signing.Domain()
	if d.Name != "leaseguard" || d.ChainID != 1 {
		t.Fatalf("unexpected domain: %+v", d)
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("LEASEGUARD_LISTEN_ADDR", ":9999")
	t.Setenv("LEASEGUARD_REDIS_ADDR", "redis:6379")
	c, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.ListenAddr != ":9999" || c.RedisAddr != "redis:6379" {
		t.Fatalf("env overrides not applied: %+v", c)
	}
}

func TestParse_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mangle func(string) string
	}{
		{"wrong version", func(s string) string { return strings.Replace(s, "version: 1", "version: 9", 1) }},
		{"missing listen addr", func(s string) string { return strings.Replace(s, `listen_addr: ":8080"`, "", 1) }},
		{"missing allowlist", func(s string) string { return strings.Replace(s, "allowlist: config/allowlist.yaml", "", 1) }},
		{"missing authz model", func(s string) string { return strings.Replace(s, "model: config/access/model.conf", "", 1) }},
		{"missing chain id", func(s string) string { return strings.Replace(s, "chain_id: 1", "", 1) }},
		{"kafka brokers without topic", func(s string) string {
			return s + "\nkafka:\n  brokers: [\"kafka:9092\"]\n"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.mangle(validYAML))); err == nil {
				t.Fatal("expected parse to fail")
			}
		})
	}
}
