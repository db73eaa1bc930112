package monitor

import "strconv"

func formatMB(b int64) string {
	return strconv.FormatFloat(float64(b)/(1024*1024), 'f', 2, 64) + " MB"
}
