package ad

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSPN(t *testing.T) {
	cases := []struct {
		raw    string
		host   string
		port   string
		target string
	}{
		{"MSSQLSvc/sql01.corp.local:1433", "sql01.corp.local", "1433", "sql01.corp.local:1433"},
		{"MSSQLSvc/sql01.corp.local:SQLEXPRESS", "sql01.corp.local", "SQLEXPRESS", "sql01.corp.local\\SQLEXPRESS"},
		{"MSSQLSvc/sql01.corp.local", "sql01.corp.local", "", "sql01.corp.local"},
	}
	for _, tc := range cases {
		spn := ParseSPN(tc.raw)
		assert.Equal(t, tc.host, spn.Host, tc.raw)
		assert.Equal(t, tc.port, spn.Port, tc.raw)
		assert.Equal(t, tc.target, spn.Target(), tc.raw)
	}
}

func TestDomainToBaseDN(t *testing.T) {
	assert.Equal(t, "DC=corp,DC=example,DC=com", domainToBaseDN("corp.example.com"))
	assert.Equal(t, "", domainToBaseDN(""))
}
