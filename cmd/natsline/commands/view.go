// Package commands implements the natsline CLI commands.
package commands

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/natsline/natsline-go/pkg/log"
)

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [conn:id] DIRECTION LAYER Type
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	connID := shortenConnID(event.ConnectionID)
	dir := event.Direction.String()

	var typeLabel string
	switch {
	case event.Message != nil:
		typeLabel = event.Message.Op.String()
	case event.StateChange != nil:
		typeLabel = "State"
	case event.ControlMsg != nil:
		typeLabel = event.ControlMsg.Type.String()
	case event.Error != nil:
		typeLabel = "Error"
	default:
		typeLabel = "Unknown"
	}

	layerStr := event.Layer.String()
	if event.Category == log.CategoryControl {
		layerStr = "CTRL"
	}

	fmt.Fprintf(w, "%s [conn:%s] %-3s %s %s\n", ts, connID, dir, layerStr, typeLabel)

	switch {
	case event.Message != nil:
		formatMessageDetails(w, event.Message)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.ControlMsg != nil:
		if event.ControlMsg.Detail != "" {
			fmt.Fprintf(w, "  %s\n", event.ControlMsg.Detail)
		}
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w)
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	if id == "" {
		return "-"
	}
	return id
}

func formatMessageDetails(w io.Writer, msg *log.MessageEvent) {
	if msg.Subject != "" {
		fmt.Fprintf(w, "  Subject: %s", msg.Subject)
		if msg.Queue != "" {
			fmt.Fprintf(w, "  Queue: %s", msg.Queue)
		}
		fmt.Fprintln(w)
	}
	if msg.Reply != "" {
		fmt.Fprintf(w, "  Reply: %s\n", msg.Reply)
	}
	if msg.Sid != 0 {
		fmt.Fprintf(w, "  Sid: %d", msg.Sid)
		if msg.Max > 0 {
			fmt.Fprintf(w, "  Max: %d", msg.Max)
		}
		fmt.Fprintln(w)
	}
	if msg.Op == log.MessageOpPub || msg.Op == log.MessageOpMsg {
		fmt.Fprintf(w, "  Size: %d bytes\n", msg.Size)
	}
	if len(msg.Payload) > 0 {
		fmt.Fprintf(w, "  Payload: %s", FormatPayload(msg.Payload))
		if msg.Truncated {
			fmt.Fprint(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity.String())
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer.String())
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// FormatPayload renders a payload as text when it is printable UTF-8 and as
// a quoted Go string otherwise.
func FormatPayload(data []byte) string {
	if utf8.Valid(data) && isPrintable(string(data)) {
		return string(data)
	}
	return strconv.Quote(string(data))
}

func isPrintable(s string) bool {
	for _, r := range s {
		if r != '\t' && !strconv.IsPrint(r) {
			return false
		}
	}
	return true
}

// ParseLayerFlag parses a layer name (case-insensitive).
func ParseLayerFlag(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return log.LayerTransport, nil
	case "protocol":
		return log.LayerProtocol, nil
	case "client":
		return log.LayerClient, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be transport, protocol, or client)", s)
	}
}

// ParseDirectionFlag parses a direction name (case-insensitive).
func ParseDirectionFlag(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategoryFlag parses a category name (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "control":
		return log.CategoryControl, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be message, control, state, or error)", s)
	}
}

// RunView prints every event of the log file at path, and of its rotated
// predecessor, that matches filter.
func RunView(path string, filter log.Filter, output io.Writer) error {
	reader, err := log.NewRotatedReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event)
	}
}
