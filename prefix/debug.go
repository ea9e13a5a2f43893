package prefix

import "strings"

// DebugClass selects one of Wine's debug message classes for a rule.
// An empty class applies the rule to every class.
type DebugClass string

const (
	ClassTrace DebugClass = "trace"
	ClassWarn  DebugClass = "warn"
	ClassError DebugClass = "err"
	ClassFixme DebugClass = "fixme"
)

// DebugChannel names a Wine debug channel. The constants cover the channels
// built into the loader itself; any other channel name declared by a Wine
// DLL can be passed as a plain string.
type DebugChannel string

const (
	ChannelAll         DebugChannel = "all"
	ChannelHeap        DebugChannel = "heap"
	ChannelLoadDLL     DebugChannel = "loaddll"
	ChannelModule      DebugChannel = "module"
	ChannelPID         DebugChannel = "pid"
	ChannelRelay       DebugChannel = "relay"
	ChannelSEH         DebugChannel = "seh"
	ChannelServer      DebugChannel = "server"
	ChannelSnoop       DebugChannel = "snoop"
	ChannelSynchronous DebugChannel = "synchronous"
	ChannelTimestamp   DebugChannel = "timestamp"
	ChannelFPS         DebugChannel = "fps"
	ChannelDebugString DebugChannel = "debugstr"
	ChannelThreadName  DebugChannel = "threadname"
)

// DebugRule enables or disables one channel, optionally scoped to a single
// process name and/or a single message class.
type DebugRule struct {
	Process string // executable name the rule applies to; empty for all
	Class   DebugClass
	Channel DebugChannel
	Enabled bool
}

// DebugRules is an ordered set of WINEDEBUG rules. The zero value is an
// empty rule set, which leaves WINEDEBUG unset.
type DebugRules struct {
	rules []DebugRule
}

// Add appends a fully specified rule.
func (r *DebugRules) Add(rule DebugRule) *DebugRules {
	r.rules = append(r.rules, rule)
	return r
}

// Enable appends a rule turning on a channel for all processes and classes.
func (r *DebugRules) Enable(channel DebugChannel) *DebugRules {
	return r.Add(DebugRule{Channel: channel, Enabled: true})
}

// Disable appends a rule turning off a channel for all processes and classes.
func (r *DebugRules) Disable(channel DebugChannel) *DebugRules {
	return r.Add(DebugRule{Channel: channel, Enabled: false})
}

// Empty reports whether no rules have been added.
func (r *DebugRules) Empty() bool {
	return r == nil || len(r.rules) == 0
}

// String renders the rule set in the format the Wine loader parses from
// WINEDEBUG: comma-separated [process:][class:]±channel entries, in the
// order they were added.
func (r *DebugRules) String() string {
	if r.Empty() {
		return ""
	}
	var sb strings.Builder
	for i, rule := range r.rules {
		if i > 0 {
			sb.WriteByte(',')
		}
		if rule.Process != "" {
			sb.WriteString(rule.Process)
			sb.WriteByte(':')
		}
		if rule.Class != "" {
			sb.WriteString(string(rule.Class))
			sb.WriteByte(':')
		}
		if rule.Enabled {
			sb.WriteByte('+')
		} else {
			sb.WriteByte('-')
		}
		sb.WriteString(string(rule.Channel))
	}
	return sb.String()
}
