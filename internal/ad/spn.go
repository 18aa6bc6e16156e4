// Package ad discovers SQL Server instances from Active Directory service
// principal names, as an alternative to naming targets explicitly.
package ad

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog"
)

// Config holds LDAP bind parameters.
type Config struct {
	Domain           string
	DomainController string
	User             string // DOMAIN\user or user@domain
	Password         string
	DialTimeout      time.Duration
}

// SPN is one MSSQLSvc service principal name, split into its parts.
type SPN struct {
	Raw         string
	Host        string
	Port        string // port or instance name, whichever the SPN carries
	AccountName string
}

// Target renders the SPN as a server argument for the SQL connection layer:
// host:port when the SPN names a port, host\instance when it names an
// instance.
func (s SPN) Target() string {
	switch {
	case s.Port == "":
		return s.Host
	case isDigits(s.Port):
		return net.JoinHostPort(s.Host, s.Port)
	default:
		return s.Host + "\\" + s.Port
	}
}

func isDigits(v string) bool {
	for _, r := range v {
		if r < '0' || r > '9' {
			return false
		}
	}
	return v != ""
}

// DiscoverSPNs binds to the domain controller and returns every MSSQLSvc
// SPN registered in the directory, deduplicated by host and port.
func DiscoverSPNs(ctx context.Context, cfg *Config, log zerolog.Logger) ([]SPN, error) {
	dc := cfg.DomainController
	if dc == "" {
		dc = cfg.Domain
	}
	if dc == "" {
		return nil, fmt.Errorf("no domain controller or domain to bind to")
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 10 * time.Second
	}
	conn, err := ldap.DialURL(
		fmt.Sprintf("ldap://%s:389", dc),
		ldap.DialWithDialer(&net.Dialer{Timeout: dialTimeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", dc, err)
	}
	defer conn.Close()

	if cfg.User != "" {
		if err := conn.Bind(cfg.User, cfg.Password); err != nil {
			return nil, fmt.Errorf("bind as %s: %w", cfg.User, err)
		}
	} else if err := conn.UnauthenticatedBind(""); err != nil {
		return nil, fmt.Errorf("anonymous bind: %w", err)
	}

	baseDN := domainToBaseDN(cfg.Domain)
	req := ldap.NewSearchRequest(
		baseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0, 0, false,
		"(servicePrincipalName=MSSQLSvc/*)",
		[]string{"servicePrincipalName", "sAMAccountName"},
		nil,
	)

	paging := ldap.NewControlPaging(1000)
	req.Controls = append(req.Controls, paging)

	seen := make(map[string]struct{})
	var spns []SPN
	for {
		result, err := conn.Search(req)
		if err != nil {
			return nil, fmt.Errorf("LDAP search: %w", err)
		}
		for _, entry := range result.Entries {
			account := entry.GetAttributeValue("sAMAccountName")
			for _, raw := range entry.GetAttributeValues("servicePrincipalName") {
				if !strings.HasPrefix(strings.ToUpper(raw), "MSSQLSVC/") {
					continue
				}
				spn := ParseSPN(raw)
				spn.AccountName = account
				key := strings.ToLower(spn.Host + ":" + spn.Port)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				spns = append(spns, spn)
			}
		}

		ctrl := ldap.FindControl(result.Controls, ldap.ControlTypePaging)
		if ctrl == nil {
			break
		}
		cookie := ctrl.(*ldap.ControlPaging).Cookie
		if len(cookie) == 0 {
			break
		}
		paging.SetCookie(cookie)
	}

	sort.Slice(spns, func(i, j int) bool { return spns[i].Host < spns[j].Host })
	log.Info().Int("count", len(spns)).Str("dc", dc).Msg("discovered MSSQL SPNs")
	return spns, nil
}

// ParseSPN splits MSSQLSvc/host.domain:port (or :instance) into parts.
func ParseSPN(raw string) SPN {
	spn := SPN{Raw: raw}
	body := raw
	if idx := strings.Index(body, "/"); idx >= 0 {
		body = body[idx+1:]
	}
	if idx := strings.LastIndex(body, ":"); idx >= 0 {
		spn.Host = body[:idx]
		spn.Port = body[idx+1:]
	} else {
		spn.Host = body
	}
	return spn
}

// domainToBaseDN converts corp.example.com to DC=corp,DC=example,DC=com.
func domainToBaseDN(domain string) string {
	if domain == "" {
		return ""
	}
	parts := strings.Split(domain, ".")
	for i, p := range parts {
		parts[i] = "DC=" + p
	}
	return strings.Join(parts, ",")
}
