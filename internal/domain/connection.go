package domain

import "time"

// Connection records whether a site (keyed by its domain) has been
// granted access to wallet accounts.
type Connection struct {
	Domain    string    `json:"domain"`
	Connected bool      `json:"connected"`
	Addresses []string  `json:"addresses,omitempty"`
	GrantedAt time.Time `json:"granted_at,omitempty"`
}

// Accounts returns the addresses visible to the site: none unless connected.
func (c Connection) Accounts() []string {
	if !c.Connected {
		return []string{}
	}
	out := make([]string, len(c.Addresses))
	copy(out, c.Addresses)
	return out
}

// Caveat narrows a permission.
type Caveat struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// Permission is an EIP-2255 permission descriptor.
type Permission struct {
	Invoker          string   `json:"invoker"`
	ParentCapability string   `json:"parentCapability"`
	Caveats          []Caveat `json:"caveats"`
	Date             int64    `json:"date"`
}

// Permissions lists the descriptors held by the site.
func (c Connection) Permissions() []Permission {
	if !c.Connected {
		return []Permission{}
	}
	return []Permission{{
		Invoker:          c.Domain,
		ParentCapability: "eth_accounts",
		Caveats: []Caveat{{
			Type:  "restrictReturnedAccounts",
			Value: c.Accounts(),
		}},
		Date: c.GrantedAt.UnixMilli(),
	}}
}
