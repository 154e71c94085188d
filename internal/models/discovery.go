package models

import "fmt"

// DiscoveredInstance is an instance advertised on the local network.
// Identity is host:port; the name is descriptive only, so two advertisements
// resolving to the same address collapse into one instance.
type DiscoveredInstance struct {
	Name string `json:"name"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Key returns the deduplication key for this instance.
func (d DiscoveredInstance) Key() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// BaseURL derives the HTTP base URL for this instance.
func (d DiscoveredInstance) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", d.Host, d.Port)
}
