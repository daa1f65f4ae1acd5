// ABOUTME: Corefile parser and plugin registration for radd.
// ABOUTME: Handles plugin.Register, Corefile block parsing, startup validation, and lifecycle.

package radd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/coredns/caddy"
	"github.com/coredns/coredns/core/dnsserver"
	"github.com/coredns/coredns/plugin"
)

func init() { plugin.Register(pluginName, setup) }

// pluginConfig holds parsed Corefile configuration. Everything here is fixed
// at startup; the handlers receive immutable values, never ambient globals.
type pluginConfig struct {
	domain   string
	apexIP   string
	datafile string
	reload   time.Duration
	ttl      uint32

	maxRecords int

	updateListen string
	updateTLS    *tlsConfig

	adminToken     string
	adminAllowedCN []string
	adminNoAuth    bool

	zoneBase          string
	zonePath          string
	zoneReloadCmd     []string
	zoneReloadTimeout time.Duration
}

type tlsConfig struct {
	cert string
	key  string
	ca   string
}

func setup(c *caddy.Controller) error {
	cfg, err := parseConfig(c)
	if err != nil {
		return plugin.Error(pluginName, err)
	}

	var storeOpts []StoreOption
	if cfg.maxRecords > 0 {
		storeOpts = append(storeOpts, WithMaxRecords(cfg.maxRecords))
	}

	store, err := NewStore(cfg.datafile, cfg.reload, storeOpts...)
	if err != nil {
		return plugin.Error(pluginName, fmt.Errorf("creating store: %w", err))
	}

	resolver, err := NewResolver(cfg.domain, cfg.apexIP, store)
	if err != nil {
		return plugin.Error(pluginName, err)
	}

	d := &Radd{
		Resolver: resolver,
		Store:    store,
		TTL:      cfg.ttl,
	}

	var updateSrv *UpdateServer
	if cfg.updateListen != "" {
		var zone *ZoneWriter
		if cfg.zonePath != "" {
			zone = NewZoneWriter(cfg.zoneBase, cfg.zonePath, cfg.zoneReloadCmd, cfg.zoneReloadTimeout)
		}
		admin := &Auth{Token: cfg.adminToken, AllowedCN: cfg.adminAllowedCN, NoAuth: cfg.adminNoAuth}
		updateSrv = NewUpdateServer(store, NewVerifier(store), admin, zone, cfg.updateListen, cfg.updateTLS)
	}

	c.OnStartup(func() error {
		if updateSrv != nil {
			if err := updateSrv.Start(); err != nil {
				return fmt.Errorf("starting update server: %w", err)
			}
			log.Infof("update server listening on %s", cfg.updateListen)
		}
		return nil
	})

	c.OnShutdown(func() error {
		store.Stop()
		if updateSrv != nil {
			updateSrv.Stop()
		}
		return nil
	})

	dnsserver.GetConfig(c).AddPlugin(func(next plugin.Handler) plugin.Handler {
		d.Next = next
		return d
	})

	return nil
}

func parseConfig(c *caddy.Controller) (*pluginConfig, error) {
	cfg := &pluginConfig{}

	c.Next() // skip "radd"

	// The served domain comes from the plugin argument, falling back to the
	// server block key. Exactly one domain is served.
	args := c.RemainingArgs()
	if len(args) == 0 {
		args = make([]string, len(c.ServerBlockKeys))
		copy(args, c.ServerBlockKeys)
	}
	var domains []string
	for _, a := range args {
		domains = append(domains, plugin.Host(a).NormalizeExact()...)
	}
	if len(domains) == 0 {
		return nil, fmt.Errorf("a served domain is required")
	}
	if len(domains) > 1 {
		return nil, fmt.Errorf("exactly one served domain is supported, got %d", len(domains))
	}
	cfg.domain = domains[0]

	for c.NextBlock() {
		switch c.Val() {
		case "apex_ip":
			if !c.NextArg() {
				return nil, fmt.Errorf("apex_ip requires an address argument")
			}
			cfg.apexIP = c.Val()

		case "datafile":
			if !c.NextArg() {
				return nil, fmt.Errorf("datafile requires a path argument")
			}
			cfg.datafile = c.Val()

		case "reload":
			if !c.NextArg() {
				return nil, fmt.Errorf("reload requires a duration argument")
			}
			d, err := time.ParseDuration(c.Val())
			if err != nil {
				return nil, fmt.Errorf("invalid reload duration %q: %w", c.Val(), err)
			}
			cfg.reload = d

		case "ttl":
			if !c.NextArg() {
				return nil, fmt.Errorf("ttl requires a numeric argument")
			}
			n, err := strconv.Atoi(c.Val())
			if err != nil || n < MinTTL || n > MaxTTL {
				return nil, fmt.Errorf("ttl must be an integer in [%d, %d]: %q", MinTTL, MaxTTL, c.Val())
			}
			cfg.ttl = uint32(n)

		case "max_records":
			if !c.NextArg() {
				return nil, fmt.Errorf("max_records requires a numeric argument")
			}
			n, err := strconv.Atoi(c.Val())
			if err != nil || n < 0 {
				return nil, fmt.Errorf("max_records must be a non-negative integer: %q", c.Val())
			}
			cfg.maxRecords = n

		case "update":
			if err := parseNestedBlock(c, func(key string, c *caddy.Controller) error {
				return parseUpdateDirective(key, c, cfg)
			}); err != nil {
				return nil, err
			}

		case "admin":
			if err := parseNestedBlock(c, func(key string, c *caddy.Controller) error {
				return parseAdminDirective(key, c, cfg)
			}); err != nil {
				return nil, err
			}

		case "zonefile":
			if err := parseNestedBlock(c, func(key string, c *caddy.Controller) error {
				return parseZonefileDirective(key, c, cfg)
			}); err != nil {
				return nil, err
			}

		default:
			return nil, fmt.Errorf("unknown directive %q", c.Val())
		}
	}

	if cfg.apexIP == "" {
		return nil, fmt.Errorf("apex_ip is required")
	}
	if !ValidIPv4(cfg.apexIP) {
		return nil, fmt.Errorf("apex_ip %q is not a valid IPv4 address", cfg.apexIP)
	}
	if cfg.datafile == "" {
		return nil, fmt.Errorf("datafile is required")
	}

	if cfg.updateListen != "" && cfg.adminToken == "" && len(cfg.adminAllowedCN) == 0 && !cfg.adminNoAuth {
		return nil, fmt.Errorf("update block requires an admin block with token, allowed_cn, or explicit no_auth")
	}
	if (cfg.adminToken != "" || len(cfg.adminAllowedCN) > 0 || cfg.adminNoAuth) && cfg.updateListen == "" {
		return nil, fmt.Errorf("admin block requires an update block with a listen address")
	}
	if cfg.zonePath != "" || cfg.zoneBase != "" {
		if cfg.zonePath == "" || cfg.zoneBase == "" {
			return nil, fmt.Errorf("zonefile block requires both base and path")
		}
		if cfg.updateListen == "" {
			return nil, fmt.Errorf("zonefile block requires an update block with a listen address")
		}
	}

	return cfg, nil
}

// parseNestedBlock manually handles Caddy v1 nested block parsing.
// It consumes the opening `{`, iterates over directives, and stops at `}`.
func parseNestedBlock(c *caddy.Controller, handler func(string, *caddy.Controller) error) error {
	// Expect the opening brace on the same or next line
	if !c.Next() {
		return nil // empty block without braces is OK
	}
	if c.Val() != "{" {
		// Not a block; treat as a single-line directive
		return handler(c.Val(), c)
	}

	for c.Next() {
		if c.Val() == "}" {
			return nil
		}
		if err := handler(c.Val(), c); err != nil {
			return err
		}
	}
	return nil
}

func parseUpdateDirective(key string, c *caddy.Controller, cfg *pluginConfig) error {
	switch key {
	case "listen":
		if !c.NextArg() {
			return fmt.Errorf("update listen requires an address")
		}
		cfg.updateListen = c.Val()

	case "tls":
		args := c.RemainingArgs()
		if len(args) != 2 && len(args) != 3 {
			return fmt.Errorf("update tls requires CERT KEY [CA] arguments")
		}
		cfg.updateTLS = &tlsConfig{cert: args[0], key: args[1]}
		if len(args) == 3 {
			cfg.updateTLS.ca = args[2]
		}

	default:
		return fmt.Errorf("unknown update directive %q", key)
	}
	return nil
}

func parseAdminDirective(key string, c *caddy.Controller, cfg *pluginConfig) error {
	switch key {
	case "token":
		if !c.NextArg() {
			return fmt.Errorf("admin token requires a value")
		}
		cfg.adminToken = c.Val()

	case "allowed_cn":
		cfg.adminAllowedCN = c.RemainingArgs()
		if len(cfg.adminAllowedCN) == 0 {
			return fmt.Errorf("allowed_cn requires at least one CN")
		}

	case "no_auth":
		cfg.adminNoAuth = true

	default:
		return fmt.Errorf("unknown admin directive %q", key)
	}
	return nil
}

func parseZonefileDirective(key string, c *caddy.Controller, cfg *pluginConfig) error {
	switch key {
	case "base":
		if !c.NextArg() {
			return fmt.Errorf("zonefile base requires a path")
		}
		cfg.zoneBase = c.Val()

	case "path":
		if !c.NextArg() {
			return fmt.Errorf("zonefile path requires a path")
		}
		cfg.zonePath = c.Val()

	case "reload_cmd":
		cfg.zoneReloadCmd = c.RemainingArgs()
		if len(cfg.zoneReloadCmd) == 0 {
			return fmt.Errorf("reload_cmd requires a command")
		}

	case "reload_timeout":
		if !c.NextArg() {
			return fmt.Errorf("reload_timeout requires a duration argument")
		}
		d, err := time.ParseDuration(c.Val())
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid reload_timeout %q", c.Val())
		}
		cfg.zoneReloadTimeout = d

	default:
		return fmt.Errorf("unknown zonefile directive %q", key)
	}
	return nil
}
