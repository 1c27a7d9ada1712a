package ldap

import (
	"strings"

	goldap "github.com/go-ldap/ldap/v3"
)

// GroupsFromDN returns the value of every ou component of dn, in order.
//
//	cn=carol,ou=engineering,ou=staff,dc=example,dc=com -> [engineering staff]
func GroupsFromDN(dn string) ([]string, error) {
	parsed, err := goldap.ParseDN(dn)
	if err != nil {
		return nil, err
	}

	groups := []string{}
	for _, rdn := range parsed.RDNs {
		for _, attr := range rdn.Attributes {
			if strings.EqualFold(attr.Type, "ou") {
				groups = append(groups, attr.Value)
			}
		}
	}
	return groups, nil
}
