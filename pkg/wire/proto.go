package wire

// Protocol line constants.
const (
	CRLF     = "\r\n"
	PingLine = "PING\r\n"
	PongLine = "PONG\r\n"

	// DefaultPort is the client port used when a URL carries none.
	DefaultPort = "4222"

	// DefaultMaxPayload applies until the server announces its own limit.
	DefaultMaxPayload int64 = 1024 * 1024

	// MaxControlLine bounds a single control line read from the server.
	MaxControlLine = 4096
)

// ClientLang and ClientVersion are announced in CONNECT.
const (
	ClientLang    = "go"
	ClientVersion = "0.4.0"
)

// ProtocolVersion 1 tells the server the client accepts asynchronous INFO
// updates, which carry cluster topology changes.
const ProtocolVersion = 1

// Info is the server INFO payload.
type Info struct {
	ServerID      string   `json:"server_id"`
	ServerName    string   `json:"server_name,omitempty"`
	Version       string   `json:"version"`
	Host          string   `json:"host"`
	Port          int      `json:"port"`
	MaxPayload    int64    `json:"max_payload"`
	Proto         int      `json:"proto"`
	ClientID      uint64   `json:"client_id,omitempty"`
	AuthRequired  bool     `json:"auth_required,omitempty"`
	TLSRequired   bool     `json:"tls_required,omitempty"`
	TLSAvailable  bool     `json:"tls_available,omitempty"`
	Headers       bool     `json:"headers,omitempty"`
	ConnectURLs   []string `json:"connect_urls,omitempty"`
	WSConnectURLs []string `json:"ws_connect_urls,omitempty"`
	Nonce         string   `json:"nonce,omitempty"`
	LameDuck      bool     `json:"ldm,omitempty"`
}

// Connect is the client CONNECT payload.
type Connect struct {
	Verbose     bool   `json:"verbose"`
	Pedantic    bool   `json:"pedantic"`
	TLSRequired bool   `json:"tls_required"`
	Name        string `json:"name,omitempty"`
	Lang        string `json:"lang"`
	Version     string `json:"version"`
	Protocol    int    `json:"protocol"`
	Echo        bool   `json:"echo"`
	User        string `json:"user,omitempty"`
	Pass        string `json:"pass,omitempty"`
	AuthToken   string `json:"auth_token,omitempty"`
	NKey        string `json:"nkey,omitempty"`
	Sig         string `json:"sig,omitempty"`
}

// Kind identifies a server operation.
type Kind uint8

const (
	KindInfo Kind = iota
	KindMsg
	KindPing
	KindPong
	KindOK
	KindErr
)

// String returns the protocol operation name.
func (k Kind) String() string {
	switch k {
	case KindInfo:
		return "INFO"
	case KindMsg:
		return "MSG"
	case KindPing:
		return "PING"
	case KindPong:
		return "PONG"
	case KindOK:
		return "+OK"
	case KindErr:
		return "-ERR"
	default:
		return "UNKNOWN"
	}
}

// Msg is a decoded MSG operation.
type Msg struct {
	Subject string
	Sid     uint64
	Reply   string
	Data    []byte
}

// Frame is one decoded server operation. Exactly one of Info, Msg or Err is
// set for the kinds that carry a body.
type Frame struct {
	Kind Kind
	Info *Info
	Msg  *Msg
	Err  string
}
