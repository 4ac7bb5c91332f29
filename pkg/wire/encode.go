package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// AppendConnect appends a CONNECT line.
func AppendConnect(dst []byte, c *Connect) ([]byte, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return dst, fmt.Errorf("encode connect: %w", err)
	}
	dst = append(dst, "CONNECT "...)
	dst = append(dst, b...)
	return append(dst, CRLF...), nil
}

// AppendPub appends a PUB line followed by the payload.
func AppendPub(dst []byte, subject, reply string, data []byte) []byte {
	dst = append(dst, "PUB "...)
	dst = append(dst, subject...)
	dst = append(dst, ' ')
	if reply != "" {
		dst = append(dst, reply...)
		dst = append(dst, ' ')
	}
	dst = strconv.AppendInt(dst, int64(len(data)), 10)
	dst = append(dst, CRLF...)
	dst = append(dst, data...)
	return append(dst, CRLF...)
}

// AppendSub appends a SUB line.
func AppendSub(dst []byte, subject, queue string, sid uint64) []byte {
	dst = append(dst, "SUB "...)
	dst = append(dst, subject...)
	dst = append(dst, ' ')
	if queue != "" {
		dst = append(dst, queue...)
		dst = append(dst, ' ')
	}
	dst = strconv.AppendUint(dst, sid, 10)
	return append(dst, CRLF...)
}

// AppendUnsub appends an UNSUB line. A max of zero removes the interest
// immediately; otherwise the server drops it after max more deliveries.
func AppendUnsub(dst []byte, sid uint64, max int) []byte {
	dst = append(dst, "UNSUB "...)
	dst = strconv.AppendUint(dst, sid, 10)
	if max > 0 {
		dst = append(dst, ' ')
		dst = strconv.AppendInt(dst, int64(max), 10)
	}
	return append(dst, CRLF...)
}

// AppendInfo appends an INFO line. Used by test servers.
func AppendInfo(dst []byte, info *Info) ([]byte, error) {
	b, err := json.Marshal(info)
	if err != nil {
		return dst, fmt.Errorf("encode info: %w", err)
	}
	dst = append(dst, "INFO "...)
	dst = append(dst, b...)
	return append(dst, CRLF...), nil
}

// AppendMsg appends a MSG line followed by the payload. Used by test servers.
func AppendMsg(dst []byte, subject, sid, reply string, data []byte) []byte {
	dst = append(dst, "MSG "...)
	dst = append(dst, subject...)
	dst = append(dst, ' ')
	dst = append(dst, sid...)
	dst = append(dst, ' ')
	if reply != "" {
		dst = append(dst, reply...)
		dst = append(dst, ' ')
	}
	dst = strconv.AppendInt(dst, int64(len(data)), 10)
	dst = append(dst, CRLF...)
	dst = append(dst, data...)
	return append(dst, CRLF...)
}
