package config

import "github.com/robfig/cron/v3"

// schedParser accepts standard 5-field cron expressions (minute, hour, dom, month, dow).
var schedParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule parses a 5-field cron expression such as sweep.schedule.
func ParseSchedule(expr string) (cron.Schedule, error) {
	return schedParser.Parse(expr)
}
