// Package discovery finds servers advertised over mDNS/DNS-SD.
//
// Servers announce the service type _nats._tcp in the local domain. The
// instance name is free-form; TXT records carry:
//
//   - id: the server id reported in INFO
//   - ver: the server version (optional)
//   - tls: "1" when the server requires TLS (optional)
//
// A Browser aggregates announcements by instance name, merging addresses
// seen on several interfaces into one Service. Service.URLs turns a result
// into endpoint URLs suitable for the connection's server list.
package discovery
