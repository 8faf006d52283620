package fitswriter

import (
	"time"

	"github.com/lestrrat-go/strftime"
)

func mustStrftime(pattern string) *strftime.Strftime {
	f, err := strftime.New(pattern)
	if err != nil {
		panic(err)
	}
	return f
}

// timestampFormat is compiled once; %Y%m%d%H%M%S matches spec §6 Output's
// "timestamp (YYYYMMDDHHMMSS from start_time)".
var timestampFormat = mustStrftime("%Y%m%d%H%M%S")

// Timestamp renders start_time as Archon's filename timestamp.
func Timestamp(startTime time.Time) string {
	return timestampFormat.FormatString(startTime)
}

// DayDir renders the optional image_dir/YYYYMMDD subdirectory component
// (spec §6 Output "image_dir[/YYYYMMDD]").
var dayDirFormat = mustStrftime("%Y%m%d")

func DayDir(startTime time.Time) string {
	return dayDirFormat.FormatString(startTime)
}
