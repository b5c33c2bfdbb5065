package chatserver

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// statsSource is the read-only view StatsReporter polls; *Server
// satisfies it without the reporter needing the rest of Server's API.
type statsSource interface {
	NumConnections() int
	NumUsers() int
	NumRooms() int
}

// StatsReporter periodically snapshots a Server's live counts to a
// rotating CSV file, one row per tick. It never mutates Server state and
// runs on its own goroutine, stopped via its Stop channel.
type StatsReporter struct {
	path     string
	interval time.Duration
	source   statsSource
	logger   *log.Logger
	stop     chan struct{}
	done     chan struct{}
}

// NewStatsReporter builds a reporter for source; Start must be called to
// begin ticking. An empty path or non-positive interval disables it.
func NewStatsReporter(path string, interval time.Duration, source statsSource, logger *log.Logger) *StatsReporter {
	if logger == nil {
		logger = log.Default()
	}
	return &StatsReporter{
		path:     path,
		interval: interval,
		source:   source,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the reporting goroutine. A no-op if path is empty or
// interval is non-positive, matching the teacher's "disabled by zero
// config" convention.
func (r *StatsReporter) Start() {
	if r.path == "" || r.interval <= 0 {
		close(r.done)
		return
	}
	go r.run()
}

// Stop signals the reporting goroutine to exit and waits for it.
func (r *StatsReporter) Stop() {
	select {
	case <-r.done:
		return
	default:
	}
	close(r.stop)
	<-r.done
}

func (r *StatsReporter) run() {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			if err := r.writeSample(); err != nil {
				r.logger.Printf("stats: %v", err)
			}
		}
	}
}

var statsHeader = []string{"Unix", "Connections", "Users", "Rooms"}

// writeSample appends one row to the path, formatted with time.Now() so
// the target file itself can rotate (e.g. "stats-2006-01-02.csv").
func (r *StatsReporter) writeSample() error {
	dir, name := filepath.Split(r.path)
	fullPath := filepath.Join(dir, time.Now().Format(name))

	f, err := os.OpenFile(fullPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", fullPath, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if stat, err := f.Stat(); err == nil && stat.Size() == 0 {
		if err := w.Write(statsHeader); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}

	row := []string{
		fmt.Sprint(time.Now().Unix()),
		fmt.Sprint(r.source.NumConnections()),
		fmt.Sprint(r.source.NumUsers()),
		fmt.Sprint(r.source.NumRooms()),
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	w.Flush()
	return w.Error()
}
