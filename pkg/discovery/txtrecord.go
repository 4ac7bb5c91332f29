package discovery

import (
	"fmt"
	"slices"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeServerTXT creates the TXT records for an advertised server.
func EncodeServerTXT(info *ServerInfo) TXTRecordMap {
	txt := TXTRecordMap{TXTKeyServerID: info.ServerID}
	if info.Version != "" {
		txt[TXTKeyVersion] = info.Version
	}
	if info.TLS {
		txt[TXTKeyTLS] = "1"
	}
	return txt
}

// DecodeServerTXT parses the TXT records of a browsed server.
func DecodeServerTXT(txt TXTRecordMap) (*ServerInfo, error) {
	id, ok := txt[TXTKeyServerID]
	if !ok || id == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyServerID)
	}
	tls := txt[TXTKeyTLS]
	return &ServerInfo{
		ServerID: id,
		Version:  txt[TXTKeyVersion],
		TLS:      tls == "1" || strings.EqualFold(tls, "true"),
	}, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to sorted "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	slices.Sort(result)
	return result
}

// StringsToTXTRecords parses "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, _ := strings.Cut(s, "=")
		if k != "" {
			txt[k] = v
		}
	}
	return txt
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInstanceNameTooLong)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}
