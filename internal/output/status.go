package output

import (
	"fmt"
	"time"

	"github.com/mrz1836/kpfind/internal/ipc"
)

// Status writes a daemon status report. now is used to compute the remaining
// lifetime of each session.
func (f *Formatter) Status(st *ipc.Status, now time.Time) error {
	if f.IsJSON() {
		return writeJSON(f.writer, st)
	}

	m := st.Metrics
	if err := f.Printf("daemon pid %d on %s, up %s, idle timeout %s\n",
		st.PID, st.Socket, since(st.StartedAt, now), st.IdleTimeout); err != nil {
		return err
	}
	if err := f.Printf("requests %d (errors %d, avg %.1fms), hits %d, unlocks %d (failed %d, throttled %d)\n\n",
		m.RequestsTotal, m.RequestErrors, m.LatencyAvgMs, m.SessionHits,
		m.Unlocks, m.UnlockFailures, m.Throttled); err != nil {
		return err
	}

	if len(st.Sessions) == 0 {
		return f.Printf("no unlocked databases\n")
	}

	t := NewTable("DATABASE", "KEY FILE", "UNLOCKED", "REMAINING")
	for _, s := range st.Sessions {
		t.AddRow(s.Identity, yesNo(s.KeyFile), s.UnlockedAt.Local().Format(time.DateTime), remaining(s.ExpiresAt, now))
	}
	return t.Render(f.writer)
}

// Locked reports how many sessions a lock request ended.
func (f *Formatter) Locked(n int, database string) error {
	if f.IsJSON() {
		return writeJSON(f.writer, map[string]any{"locked": n, "database": database})
	}
	switch {
	case database != "" && n == 0:
		return f.Printf("%s was not unlocked\n", database)
	case database != "":
		return f.Printf("locked %s\n", database)
	default:
		return f.Printf("locked %d database(s)\n", n)
	}
}

func since(t, now time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return now.Sub(t).Truncate(time.Second).String()
}

func remaining(expires, now time.Time) string {
	d := expires.Sub(now)
	if d <= 0 {
		return "expired"
	}
	return fmt.Sprint(d.Truncate(time.Second))
}
