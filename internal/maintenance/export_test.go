package maintenance

import "time"

func SetReportClock(r *RepackReportRoutine, now func() time.Time) {
	r.now = now
}

func SleepAfter(r *Runner, elapsed time.Duration) time.Duration {
	return r.sleepAfter(elapsed)
}
