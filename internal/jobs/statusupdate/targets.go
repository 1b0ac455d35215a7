package statusupdate

import (
	"strconv"

	"amd/internal/roster"
)

// Report is what gets sent back to the roster API for one member.
type Report struct {
	Member roster.Member
	Sent   bool
}

type Targets struct {
	// Remind are members who have not posted today and are not excluded.
	Remind []roster.Member
	// Reports has one entry per non-excluded member with a usable discord id.
	Reports []Report
	// Skipped counts roster entries without a usable discord id.
	Skipped int
}

// ComputeTargets is pure: excluded holds discord user ids, posted holds the
// discord ids of users who posted in the status channel today.
func ComputeTargets(members []roster.Member, excluded map[uint64]struct{}, posted map[string]struct{}) Targets {
	var t Targets
	for _, m := range members {
		uid, err := strconv.ParseUint(m.DiscordID, 10, 64)
		if err != nil || uid == 0 {
			t.Skipped++
			continue
		}
		if _, ok := excluded[uid]; ok {
			continue
		}
		_, sent := posted[m.DiscordID]
		t.Reports = append(t.Reports, Report{Member: m, Sent: sent})
		if !sent {
			t.Remind = append(t.Remind, m)
		}
	}
	return t
}
