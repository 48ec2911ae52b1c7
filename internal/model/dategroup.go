// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// =============================================================================
// DATE GROUPING
// =============================================================================

// DateGroup buckets chats by recency for the chat list.
type DateGroup string

const (
	GroupToday      DateGroup = "Today"
	GroupYesterday  DateGroup = "Yesterday"
	GroupLastWeek   DateGroup = "Last Week"
	GroupLastMonth  DateGroup = "Last Month"
	GroupPastMonths DateGroup = "Past Months"
	GroupPastYears  DateGroup = "Past Years"
)

// DateGroups lists all groups in display order (most recent first).
var DateGroups = []DateGroup{
	GroupToday,
	GroupYesterday,
	GroupLastWeek,
	GroupLastMonth,
	GroupPastMonths,
	GroupPastYears,
}

// GroupForTime returns the bucket for a timestamp relative to now.
func GroupForTime(ts, now time.Time) DateGroup {
	y1, m1, d1 := ts.Date()
	y2, m2, d2 := now.Date()
	if y1 == y2 && m1 == m2 && d1 == d2 {
		return GroupToday
	}

	yesterday := now.AddDate(0, 0, -1)
	y3, m3, d3 := yesterday.Date()
	if y1 == y3 && m1 == m3 && d1 == d3 {
		return GroupYesterday
	}

	switch {
	case !ts.Before(now.AddDate(0, 0, -7)):
		return GroupLastWeek
	case !ts.Before(now.AddDate(0, -1, 0)):
		return GroupLastMonth
	case !ts.Before(now.AddDate(-1, 0, 0)):
		return GroupPastMonths
	default:
		return GroupPastYears
	}
}
