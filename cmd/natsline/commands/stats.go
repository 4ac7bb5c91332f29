package commands

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/natsline/natsline-go/pkg/log"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents       int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	EventsByOp        map[log.MessageOp]int
	BytesIn           int
	BytesOut          int
	Connections       map[string]*ConnectionStats
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// ConnectionStats holds statistics for a single physical connection.
type ConnectionStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
	Endpoint  string
}

// CollectStats reads every event of the log file at path.
func CollectStats(path string) (*Stats, error) {
	reader, err := log.NewRotatedReader(path, log.Filter{})
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		EventsByOp:        make(map[log.MessageOp]int),
		Connections:       make(map[string]*ConnectionStats),
	}

	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read event: %w", err)
		}

		stats.TotalEvents++
		stats.EventsByCategory[event.Category]++
		stats.EventsByDirection[event.Direction]++

		if stats.TimeRange.Start.IsZero() || event.Timestamp.Before(stats.TimeRange.Start) {
			stats.TimeRange.Start = event.Timestamp
		}
		if event.Timestamp.After(stats.TimeRange.End) {
			stats.TimeRange.End = event.Timestamp
		}

		if m := event.Message; m != nil {
			stats.EventsByOp[m.Op]++
			switch m.Op {
			case log.MessageOpPub:
				stats.BytesOut += m.Size
			case log.MessageOpMsg:
				stats.BytesIn += m.Size
			}
		}
		if event.Error != nil {
			stats.Errors++
		}

		if event.ConnectionID == "" {
			continue
		}
		conn, ok := stats.Connections[event.ConnectionID]
		if !ok {
			conn = &ConnectionStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
			stats.Connections[event.ConnectionID] = conn
		}
		conn.Events++
		if event.Timestamp.After(conn.LastSeen) {
			conn.LastSeen = event.Timestamp
		}
		if conn.Endpoint == "" {
			conn.Endpoint = event.Endpoint
		}
	}
}

// RunStats prints statistics about the log file at path.
func RunStats(path string, w io.Writer) error {
	stats, err := CollectStats(path)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Protocol Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Millisecond))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryControl, log.CategoryState, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Messages:")
	for _, op := range []log.MessageOp{log.MessageOpPub, log.MessageOpMsg, log.MessageOpSub, log.MessageOpUnsub} {
		if count := stats.EventsByOp[op]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", op.String()+":", count)
		}
	}
	fmt.Fprintf(w, "  %-12s %d\n", "bytes out:", stats.BytesOut)
	fmt.Fprintf(w, "  %-12s %d\n", "bytes in:", stats.BytesIn)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Connections: %d\n", len(stats.Connections))
	type connInfo struct {
		id    string
		stats *ConnectionStats
	}
	conns := make([]connInfo, 0, len(stats.Connections))
	for id, cs := range stats.Connections {
		conns = append(conns, connInfo{id, cs})
	}
	sort.Slice(conns, func(i, j int) bool {
		return conns[i].stats.FirstSeen.Before(conns[j].stats.FirstSeen)
	})
	for _, c := range conns {
		duration := c.stats.LastSeen.Sub(c.stats.FirstSeen).Round(time.Millisecond)
		fmt.Fprintf(w, "  [%s] %d events, duration %s", shortenConnID(c.id), c.stats.Events, duration)
		if c.stats.Endpoint != "" {
			fmt.Fprintf(w, ", %s", c.stats.Endpoint)
		}
		fmt.Fprintln(w)
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
